package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
)

// SendOptions ajusta o comportamento de um envio
type SendOptions struct {
	// HumanSimulation nil equivale a true (simulação ligada por padrão)
	HumanSimulation *bool
}

func (o SendOptions) simulate() bool {
	return o.HumanSimulation == nil || *o.HumanSimulation
}

// Send envia uma mensagem pela sessão. Exige estado CONNECTED e cliente
// autenticado; aplica a simulação de comportamento humano salvo quando
// desabilitada na chamada.
func (e *Engine) Send(ctx context.Context, sessionID, to string, payload *protocol.MessagePayload, opts SendOptions) (*protocol.SendResult, error) {
	ms, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}

	if err := validateSend(to, payload); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.sess.Status != session.StatusConnected || ms.client == nil {
		return nil, session.NewSessionError(sessionID, "send", session.ErrSessionNotConnected)
	}
	client := ms.client
	if !client.IsAuthenticated() {
		return nil, session.NewSessionError(sessionID, "send", session.ErrSessionNotAuthenticated)
	}

	if payload.Type.IsControl() {
		return e.sendControl(ctx, ms, client, to, payload)
	}

	if opts.simulate() {
		if err := e.pacer.Apply(ctx, client, to); err != nil {
			return nil, session.NewSessionError(sessionID, "send", err)
		}
	}

	result, err := client.SendMessage(ctx, to, payload)
	if err != nil {
		return nil, session.NewSessionError(sessionID, "send", err)
	}

	if opts.simulate() {
		e.pacer.Finish(ctx, client, to)
	}

	ms.sess.LastSeen = time.Now()
	e.logMessage(ms.sess.ID, to, payload, result)

	return result, nil
}

// sendControl trata os tipos que produzem sinais em vez de mensagens
func (e *Engine) sendControl(ctx context.Context, ms *managedSession, client protocol.Client, to string, payload *protocol.MessagePayload) (*protocol.SendResult, error) {
	var err error
	switch payload.Type {
	case protocol.MessageSeen:
		err = client.MarkRead(ctx, to, payload.MessageIDs)
	case protocol.MessageTypingStart:
		err = client.SendPresence(ctx, protocol.PresenceComposing, to)
	case protocol.MessageTypingStop:
		err = client.SendPresence(ctx, protocol.PresencePaused, to)
	}
	if err != nil {
		return nil, session.NewSessionError(ms.sess.ID, "send", err)
	}

	ms.sess.LastSeen = time.Now()
	return &protocol.SendResult{Timestamp: time.Now()}, nil
}

// logMessage registra o envio no log opcional de mensagens
func (e *Engine) logMessage(sessionID, to string, payload *protocol.MessagePayload, result *protocol.SendResult) {
	if e.msgLog == nil {
		return
	}

	content := payload.Text
	if content == "" {
		content = payload.Caption
	}

	rec := OutboundRecord{
		SessionID: sessionID,
		To:        to,
		Type:      string(payload.Type),
		Content:   content,
		MessageID: result.MessageID,
		Status:    "sent",
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.msgLog.LogOutbound(ctx, rec); err != nil {
			e.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Msg("Message log write failed")
		}
	}()
}

// BulkItem é um envio individual dentro de um lote
type BulkItem struct {
	To      string                   `json:"to"`
	Payload *protocol.MessagePayload `json:"message"`
	Options SendOptions              `json:"-"`
}

// BulkResult é um envio bem-sucedido, indexado pela posição no lote
type BulkResult struct {
	Index     int    `json:"index"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// BulkError é um envio que falhou, indexado pela posição no lote
type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// SendBulk envia um lote de até BulkMaxItems mensagens respeitando o
// atraso mínimo entre despachos. Cada item aparece em results ou em
// errors, nunca em ambos, sempre na posição original da requisição.
func (e *Engine) SendBulk(ctx context.Context, sessionID string, items []BulkItem) ([]BulkResult, []BulkError, error) {
	if len(items) == 0 {
		return nil, nil, session.NewValidationError("messages", "at least one message is required")
	}
	if len(items) > e.cfg.BulkMaxItems {
		return nil, nil, session.NewValidationError("messages",
			fmt.Sprintf("bulk send is limited to %d messages", e.cfg.BulkMaxItems))
	}

	limiter := rate.NewLimiter(rate.Every(e.cfg.BulkDelay), 1)

	results := make([]BulkResult, 0, len(items))
	bulkErrors := make([]BulkError, 0)

	for i, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			return results, bulkErrors, err
		}

		result, err := e.Send(ctx, sessionID, item.To, item.Payload, item.Options)
		if err != nil {
			bulkErrors = append(bulkErrors, BulkError{Index: i, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{
			Index:     i,
			MessageID: result.MessageID,
			Status:    "sent",
		})
	}

	return results, bulkErrors, nil
}

// validateSend valida destinatário e payload antes de tocar a sessão
func validateSend(to string, payload *protocol.MessagePayload) error {
	if payload == nil {
		return session.NewValidationError("message", "message payload is required")
	}
	if to == "" {
		return session.NewValidationError("to", "recipient is required")
	}
	if err := validateRecipient(to); err != nil {
		return err
	}

	switch payload.Type {
	case protocol.MessageText:
		if payload.Text == "" {
			return session.NewValidationError("text", "text is required")
		}
	case protocol.MessageImage, protocol.MessageDocument,
		protocol.MessageVideo, protocol.MessageAudio:
		if payload.Media == "" {
			return session.NewValidationError("media", "media content is required")
		}
	case protocol.MessageLocation:
		if payload.Latitude == 0 && payload.Longitude == 0 {
			return session.NewValidationError("location", "latitude and longitude are required")
		}
	case protocol.MessageContact:
		if payload.ContactName == "" || payload.ContactPhone == "" {
			return session.NewValidationError("contact", "contact name and phone are required")
		}
	case protocol.MessageLink:
		if payload.URL == "" {
			return session.NewValidationError("url", "url is required")
		}
	case protocol.MessagePoll:
		if payload.PollName == "" || len(payload.PollOptions) < 2 {
			return session.NewValidationError("poll", "poll requires a name and at least two options")
		}
	case protocol.MessageSeen:
		if len(payload.MessageIDs) == 0 {
			return session.NewValidationError("messageIds", "at least one message id is required")
		}
	case protocol.MessageTypingStart, protocol.MessageTypingStop:
		// apenas o destinatário é necessário
	default:
		return session.NewValidationError("type", fmt.Sprintf("unsupported message type %q", payload.Type))
	}

	return nil
}

// validateRecipient aceita números puros ou JIDs completos. A parte
// numérica deve conter apenas dígitos (hífen permitido para grupos).
func validateRecipient(to string) error {
	number := to
	if i := strings.IndexAny(number, ":@"); i >= 0 {
		number = number[:i]
	}
	if len(number) > 0 && number[0] == '+' {
		number = number[1:]
	}
	if len(number) < 5 {
		return session.NewValidationError("to", "recipient number is too short")
	}
	for _, r := range number {
		if (r < '0' || r > '9') && r != '-' {
			return session.NewValidationError("to", "recipient must contain only digits")
		}
	}
	return nil
}
