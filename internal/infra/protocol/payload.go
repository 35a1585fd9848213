package protocol

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/nfnt/resize"
	"github.com/vincent-petithory/dataurl"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
)

const maxMediaBytes = 16 * 1024 * 1024

// SendMessage monta o payload waE2E conforme o tipo e envia
func (c *client) SendMessage(ctx context.Context, to string, payload *protocol.MessagePayload) (*protocol.SendResult, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return nil, err
	}

	var msg *waE2E.Message
	switch payload.Type {
	case protocol.MessageText:
		msg = &waE2E.Message{
			Conversation: proto.String(payload.Text),
		}

	case protocol.MessageLink:
		text := payload.Text
		if text == "" {
			text = payload.URL
		} else if !strings.Contains(text, payload.URL) {
			text = text + "\n" + payload.URL
		}
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text:        proto.String(text),
				MatchedText: proto.String(payload.URL),
			},
		}

	case protocol.MessageLocation:
		msg = &waE2E.Message{
			LocationMessage: &waE2E.LocationMessage{
				DegreesLatitude:  proto.Float64(payload.Latitude),
				DegreesLongitude: proto.Float64(payload.Longitude),
				Address:          proto.String(payload.Address),
			},
		}

	case protocol.MessageContact:
		vcard := fmt.Sprintf(
			"BEGIN:VCARD\nVERSION:3.0\nFN:%s\nTEL;TYPE=CELL:%s\nEND:VCARD",
			payload.ContactName, payload.ContactPhone,
		)
		msg = &waE2E.Message{
			ContactMessage: &waE2E.ContactMessage{
				DisplayName: proto.String(payload.ContactName),
				Vcard:       proto.String(vcard),
			},
		}

	case protocol.MessagePoll:
		selectable := payload.PollSelectable
		if selectable < 1 {
			selectable = 1
		}
		msg = c.wa.BuildPollCreation(payload.PollName, payload.PollOptions, selectable)

	case protocol.MessageImage, protocol.MessageDocument,
		protocol.MessageVideo, protocol.MessageAudio:
		msg, err = c.buildMediaMessage(ctx, payload)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported message type %q", payload.Type)
	}

	resp, err := c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	return &protocol.SendResult{
		MessageID: resp.ID,
		Timestamp: resp.Timestamp,
	}, nil
}

// buildMediaMessage baixa/decodifica a mídia, faz o upload aos
// servidores do WhatsApp e monta a mensagem do tipo correspondente.
func (c *client) buildMediaMessage(ctx context.Context, payload *protocol.MessagePayload) (*waE2E.Message, error) {
	data, mimeType, err := fetchMedia(ctx, payload.Media)
	if err != nil {
		return nil, err
	}
	if payload.MimeType != "" {
		mimeType = payload.MimeType
	}

	var mediaType whatsmeow.MediaType
	switch payload.Type {
	case protocol.MessageImage:
		mediaType = whatsmeow.MediaImage
	case protocol.MessageDocument:
		mediaType = whatsmeow.MediaDocument
	case protocol.MessageVideo:
		mediaType = whatsmeow.MediaVideo
	case protocol.MessageAudio:
		mediaType = whatsmeow.MediaAudio
	}

	uploaded, err := c.wa.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	length := proto.Uint64(uint64(len(data)))

	switch payload.Type {
	case protocol.MessageImage:
		imageMsg := &waE2E.ImageMessage{
			Caption:       proto.String(payload.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    length,
		}
		if thumb := jpegThumbnail(data); thumb != nil {
			imageMsg.JPEGThumbnail = thumb
		}
		return &waE2E.Message{ImageMessage: imageMsg}, nil

	case protocol.MessageDocument:
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				Caption:       proto.String(payload.Caption),
				FileName:      proto.String(payload.FileName),
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    length,
			},
		}, nil

	case protocol.MessageVideo:
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       proto.String(payload.Caption),
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    length,
			},
		}, nil

	default:
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(mimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    length,
			},
		}, nil
	}
}

// fetchMedia aceita data URLs ou URLs http(s) e retorna os bytes com o
// MIME type detectado.
func fetchMedia(ctx context.Context, media string) ([]byte, string, error) {
	if strings.HasPrefix(media, "data:") {
		decoded, err := dataurl.DecodeString(media)
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		if len(decoded.Data) > maxMediaBytes {
			return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
		}
		return decoded.Data, decoded.ContentType(), nil
	}

	if !strings.HasPrefix(media, "http://") && !strings.HasPrefix(media, "https://") {
		return nil, "", fmt.Errorf("media must be a data url or http(s) url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, media, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// jpegThumbnail gera uma miniatura JPEG para pré-visualização de
// imagens. Falhas retornam nil: a miniatura é opcional.
func jpegThumbnail(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	thumb := resize.Thumbnail(72, 72, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 75}); err != nil {
		return nil
	}
	return buf.Bytes()
}
