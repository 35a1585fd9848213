package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/engine"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/responses"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

var validate = validator.New()

// SessionHandler implementa os handlers de ciclo de vida das sessões
type SessionHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewSessionHandler cria uma nova instância do session handler
func NewSessionHandler(eng *engine.Engine, log logger.Logger) *SessionHandler {
	return &SessionHandler{
		engine: eng,
		logger: log.WithComponent("session-handler"),
	}
}

// StartSessionRequest são os dados para iniciar ou criar uma sessão
type StartSessionRequest struct {
	SessionID   string `json:"sessionId" validate:"required,min=3,max=50"`
	UserID      string `json:"userId" validate:"required"`
	SessionName string `json:"sessionName,omitempty" validate:"omitempty,max=100"`
}

// StartSession inicia uma sessão, retomando-a se já existir
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeStartRequest(w, r)
	if !ok {
		return
	}

	snap, err := h.engine.Start(r.Context(), req.SessionID, req.UserID, req.SessionName)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", req.SessionID).
			Error().Msg("Failed to start session")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Session started", snap)
}

// CreateSession cria uma sessão nova; conflita se o ID já existe
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeStartRequest(w, r)
	if !ok {
		return
	}

	snap, err := h.engine.Create(r.Context(), req.SessionID, req.UserID, req.SessionName, false)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", req.SessionID).
			Warn().Msg("Failed to create session")
		responses.FromDomainError(w, err)
		return
	}

	responses.Created(w, "Session created", snap)
}

func (h *SessionHandler) decodeStartRequest(w http.ResponseWriter, r *http.Request) (StartSessionRequest, bool) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request", err.Error())
		return req, false
	}
	if err := session.ValidateID(req.SessionID); err != nil {
		responses.FromDomainError(w, err)
		return req, false
	}
	return req, true
}

// GetQR retorna o QR corrente da sessão. Com `format=image` o código
// vem também renderizado como PNG em base64.
func (h *SessionHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	snap, err := h.engine.GetStatus(sessionID)
	if err != nil {
		responses.FromDomainError(w, err)
		return
	}

	switch snap.Status {
	case session.StatusConnected:
		responses.Success(w, "Session already connected", map[string]interface{}{
			"sessionId":   snap.ID,
			"status":      snap.Status,
			"phoneNumber": snap.PhoneNumber,
		})
	case session.StatusQRReady:
		if snap.QR == nil {
			responses.Accepted(w, "QR code is being generated", map[string]interface{}{
				"sessionId": snap.ID,
				"status":    snap.Status,
			})
			return
		}
		data := map[string]interface{}{
			"sessionId":   snap.QR.SessionID,
			"qrCode":      snap.QR.Code,
			"attempt":     snap.QR.Attempt,
			"maxAttempts": snap.QR.MaxAttempts,
			"expiresAt":   snap.QR.ExpiresAt,
		}
		if r.URL.Query().Get("format") == "image" {
			png, err := qrcode.Encode(snap.QR.Code, qrcode.Medium, 256)
			if err != nil {
				h.logger.WithError(err).WithField("session_id", sessionID).
					Error().Msg("Failed to render QR image")
				responses.InternalError(w, "Failed to render QR code")
				return
			}
			data["qrImage"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		}
		responses.Success(w, "QR code available", data)
	case session.StatusInitializing, session.StatusReconnecting:
		responses.Accepted(w, "Session is initializing", map[string]interface{}{
			"sessionId": snap.ID,
			"status":    snap.Status,
		})
	default:
		responses.Conflict(w, "QR code not available", "session status: "+string(snap.Status))
	}
}

// GetStatus retorna o snapshot de status da sessão
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	snap, err := h.engine.GetStatus(sessionID)
	if err != nil {
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Session status", snap)
}

// RestartSession derruba a conexão atual e inicia uma nova
func (h *SessionHandler) RestartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	snap, err := h.engine.Restart(r.Context(), sessionID)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error().Msg("Failed to restart session")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Session restarting", snap)
}

// DisconnectSession desconecta a sessão preservando as credenciais
func (h *SessionHandler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.engine.Disconnect(r.Context(), sessionID); err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error().Msg("Failed to disconnect session")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Session disconnected", map[string]string{"sessionId": sessionID})
}

// LogoutSession encerra o vínculo com o WhatsApp e remove as credenciais
func (h *SessionHandler) LogoutSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.engine.Logout(r.Context(), sessionID); err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error().Msg("Failed to logout session")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Session logged out", map[string]string{"sessionId": sessionID})
}

// DeleteSession remove a sessão por completo
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.engine.Delete(r.Context(), sessionID); err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).
			Error().Msg("Failed to delete session")
		responses.FromDomainError(w, err)
		return
	}

	responses.Success(w, "Session deleted", map[string]string{"sessionId": sessionID})
}

// ListSessions lista todas as sessões deste worker
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.engine.List()

	responses.Success(w, "Sessions listed", map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}
