package protocol

// MessageType enumera os tipos de mensagem aceitos no envio
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageDocument    MessageType = "document"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageLocation    MessageType = "location"
	MessageContact     MessageType = "contact"
	MessageLink        MessageType = "link"
	MessagePoll        MessageType = "poll"
	MessageSeen        MessageType = "seen"
	MessageTypingStart MessageType = "typing_start"
	MessageTypingStop  MessageType = "typing_stop"
)

// IsControl indica tipos que não produzem mensagem, apenas sinais
func (t MessageType) IsControl() bool {
	switch t {
	case MessageSeen, MessageTypingStart, MessageTypingStop:
		return true
	}
	return false
}

// IsMedia indica tipos que carregam um anexo binário
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageDocument, MessageVideo, MessageAudio:
		return true
	}
	return false
}

// MessagePayload é a mensagem de saída independente de protocolo.
// Media carrega uma data URL ou URL http(s) para tipos de mídia.
type MessagePayload struct {
	Type MessageType `json:"type"`

	Text    string `json:"text,omitempty"`
	Caption string `json:"caption,omitempty"`

	Media    string `json:"media,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Address   string  `json:"address,omitempty"`

	ContactName  string `json:"contactName,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`

	URL string `json:"url,omitempty"`

	PollName       string   `json:"pollName,omitempty"`
	PollOptions    []string `json:"pollOptions,omitempty"`
	PollSelectable int      `json:"pollSelectable,omitempty"`

	MessageIDs []string `json:"messageIds,omitempty"`
}
