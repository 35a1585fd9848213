package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/engine"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/responses"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// MessageHistory consulta o log opcional de mensagens enviadas. Handle
// ausente (nil) significa funcionalidade desabilitada.
type MessageHistory interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]engine.OutboundRecord, error)
}

// MessageHandler implementa os handlers de envio de mensagens
type MessageHandler struct {
	engine  *engine.Engine
	history MessageHistory
	logger  logger.Logger
}

// NewMessageHandler cria uma nova instância do message handler
func NewMessageHandler(eng *engine.Engine, history MessageHistory, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		engine:  eng,
		history: history,
		logger:  log.WithComponent("message-handler"),
	}
}

// SendMessageRequest é o corpo de um envio individual. Os campos do
// payload variam conforme o tipo; a validação fina fica no engine.
type SendMessageRequest struct {
	To string `json:"to" validate:"required"`
	protocol.MessagePayload
	HumanSimulation *bool `json:"humanSimulation,omitempty"`
}

// SendBulkRequest é o corpo de um envio em lote
type SendBulkRequest struct {
	Messages        []SendBulkItem `json:"messages" validate:"required,min=1,dive"`
	HumanSimulation *bool          `json:"humanSimulation,omitempty"`
}

// SendBulkItem é uma mensagem individual dentro do lote
type SendBulkItem struct {
	To string `json:"to" validate:"required"`
	protocol.MessagePayload
}

// SendMessage envia uma mensagem pela sessão
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request", err.Error())
		return
	}

	payload := req.MessagePayload
	result, err := h.engine.Send(r.Context(), sessionID, req.To, &payload, engine.SendOptions{
		HumanSimulation: req.HumanSimulation,
	})
	if err != nil {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"session_id": sessionID,
			"type":       string(payload.Type),
		}).Warn().Msg("Failed to send message")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Message sent", map[string]interface{}{
		"sessionId": sessionID,
		"messageId": result.MessageID,
		"timestamp": result.Timestamp,
		"status":    "sent",
	})
}

// SendBulk envia um lote de mensagens respeitando o atraso entre envios
func (h *MessageHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req SendBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request", err.Error())
		return
	}

	items := make([]engine.BulkItem, len(req.Messages))
	for i, m := range req.Messages {
		payload := m.MessagePayload
		items[i] = engine.BulkItem{
			To:      m.To,
			Payload: &payload,
			Options: engine.SendOptions{HumanSimulation: req.HumanSimulation},
		}
	}

	results, sendErrors, err := h.engine.SendBulk(r.Context(), sessionID, items)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Warn().Msg("Bulk send failed")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Bulk send completed", map[string]interface{}{
		"sessionId": sessionID,
		"total":     len(req.Messages),
		"sent":      len(results),
		"failed":    len(sendErrors),
		"results":   results,
		"errors":    sendErrors,
	})
}

// GetMessages retorna as mensagens enviadas mais recentes da sessão.
// O parâmetro limit é opcional (padrão do repositório: 100).
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if h.history == nil {
		responses.NotFound(w, "Message history is not enabled")
		return
	}

	if _, err := h.engine.GetStatus(sessionID); err != nil {
		responses.FromDomainError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.history.ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error().Msg("Failed to load message history")
		responses.InternalError(w, "Failed to load message history")
		return
	}

	responses.Success(w, "Message history retrieved", map[string]interface{}{
		"sessionId": sessionID,
		"total":     len(messages),
		"messages":  messages,
	})
}
