package protocol

import "time"

// Event é o tipo base dos eventos emitidos pelo cliente de protocolo
type Event interface {
	isProtocolEvent()
}

// ConnectionState espelha o campo connection do connection.update
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
)

// Códigos de status de desconexão compatíveis com o protocolo
const (
	CodeLoggedOut          = 401
	CodeTimedOut           = 408
	CodeConnectionReplaced = 440
	CodeBadSession         = 500
	CodeRestartRequired    = 515
)

// DisconnectInfo descreve a causa de um fechamento de conexão
type DisconnectInfo struct {
	StatusCode int
	Message    string
}

// ConnectionUpdate representa uma mudança de estado da conexão.
// QR é preenchido quando o servidor emite um novo desafio de pareamento;
// Disconnect quando State == close.
type ConnectionUpdate struct {
	State      ConnectionState
	QR         string
	Disconnect *DisconnectInfo
}

func (ConnectionUpdate) isProtocolEvent() {}

// CredsUpdate sinaliza que o material de autenticação foi alterado
type CredsUpdate struct {
	At time.Time
}

func (CredsUpdate) isProtocolEvent() {}

// MessageStatusUpdate é uma atualização de entrega de mensagem enviada
type MessageStatusUpdate struct {
	MessageID string
	To        string
	Status    string
	At        time.Time
}

func (MessageStatusUpdate) isProtocolEvent() {}
