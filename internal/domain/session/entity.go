package session

import (
	"regexp"
	"time"
)

// Status representa o estado atual de uma sessão WhatsApp
type Status string

const (
	StatusInitializing     Status = "INITIALIZING"
	StatusQRReady          Status = "QR_READY"
	StatusConnected        Status = "CONNECTED"
	StatusReconnecting     Status = "RECONNECTING"
	StatusDisconnected     Status = "DISCONNECTED"
	StatusLoggedOut        Status = "LOGGED_OUT"
	StatusAutoDisconnected Status = "AUTO_DISCONNECTED"
	StatusFailed           Status = "FAILED"
)

// IsTerminal indica se o estado não possui transições de saída automáticas
func (s Status) IsTerminal() bool {
	switch s {
	case StatusLoggedOut, StatusAutoDisconnected, StatusFailed:
		return true
	}
	return false
}

// IsResumable indica se Start pode reviver uma sessão neste estado
func (s Status) IsResumable() bool {
	switch s {
	case StatusDisconnected, StatusFailed, StatusLoggedOut, StatusAutoDisconnected:
		return true
	}
	return false
}

// Backend mapeia o estado interno para o enum usado pelo backend
func (s Status) Backend() string {
	switch s {
	case StatusConnected:
		return "CONNECTED"
	case StatusQRReady:
		return "QR_REQUIRED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusInitializing:
		return "INIT"
	case StatusLoggedOut:
		return "LOGGED_OUT"
	default:
		return "DISCONNECTED"
	}
}

// Session é a entidade central gerenciada pelo worker
type Session struct {
	ID          string
	UserID      string
	Name        string
	Status      Status
	PhoneNumber string
	DisplayName string

	CreatedAt      time.Time
	LastSeen       time.Time
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
	LoggedOutAt    *time.Time

	QRAttempts           int
	LastDisconnectReason string
	IsRecovered          bool
	ManualDisconnect     bool
}

// QRChallenge é o desafio de pareamento efêmero associado a uma sessão
type QRChallenge struct {
	SessionID          string    `json:"sessionId"`
	Code               string    `json:"qrCode"`
	Attempt            int       `json:"attempt"`
	MaxAttempts        int       `json:"maxAttempts"`
	IssuedAt           time.Time `json:"issuedAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
	MaxAttemptsReached bool      `json:"maxAttemptsReached,omitempty"`
}

// Expired indica se o QR já não pode mais ser escaneado
func (q *QRChallenge) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Snapshot é a visão somente leitura de uma sessão, segura para serializar
type Snapshot struct {
	ID                   string       `json:"sessionId"`
	UserID               string       `json:"userId"`
	Name                 string       `json:"sessionName,omitempty"`
	Status               Status       `json:"status"`
	PhoneNumber          string       `json:"phoneNumber,omitempty"`
	DisplayName          string       `json:"displayName,omitempty"`
	QR                   *QRChallenge `json:"qr,omitempty"`
	QRAttempts           int          `json:"qrAttempts"`
	IsRecovered          bool         `json:"isRecovered,omitempty"`
	LastDisconnectReason string       `json:"lastDisconnectReason,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	LastSeen             time.Time    `json:"lastSeen"`
	ConnectedAt          *time.Time   `json:"connectedAt,omitempty"`
	DisconnectedAt       *time.Time   `json:"disconnectedAt,omitempty"`
	LoggedOutAt          *time.Time   `json:"loggedOutAt,omitempty"`
}

// Statistics agrega contagens por estado
type Statistics struct {
	Total            int `json:"total"`
	Connected        int `json:"connected"`
	QRReady          int `json:"qrReady"`
	Initializing     int `json:"initializing"`
	Reconnecting     int `json:"reconnecting"`
	Disconnected     int `json:"disconnected"`
	LoggedOut        int `json:"loggedOut"`
	AutoDisconnected int `json:"autoDisconnected"`
	Failed           int `json:"failed"`
}

// Add contabiliza um estado nas estatísticas
func (s *Statistics) Add(status Status) {
	s.Total++
	switch status {
	case StatusConnected:
		s.Connected++
	case StatusQRReady:
		s.QRReady++
	case StatusInitializing:
		s.Initializing++
	case StatusReconnecting:
		s.Reconnecting++
	case StatusDisconnected:
		s.Disconnected++
	case StatusLoggedOut:
		s.LoggedOut++
	case StatusAutoDisconnected:
		s.AutoDisconnected++
	case StatusFailed:
		s.Failed++
	}
}

// Active conta sessões que mantêm trabalho em andamento
func (s *Statistics) Active() int {
	return s.Connected + s.QRReady + s.Initializing + s.Reconnecting
}

// StatusUpdate é o evento de transição publicado para o registry
type StatusUpdate struct {
	SessionID        string       `json:"sessionId"`
	Event            string       `json:"event"`
	Status           Status       `json:"-"`
	BackendStatus    string       `json:"status"`
	Timestamp        time.Time    `json:"timestamp"`
	QR               *QRChallenge `json:"qr,omitempty"`
	PhoneNumber      string       `json:"phoneNumber,omitempty"`
	DisplayName      string       `json:"displayName,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	RequiresAuth     bool         `json:"requiresAuth,omitempty"`
	AutoDisconnectIn int          `json:"autoDisconnectIn,omitempty"`
}

// Eventos de transição reportados ao backend
const (
	EventCreated          = "session_created"
	EventQRReady          = "qr_ready"
	EventConnected        = "session_connected"
	EventReconnecting     = "reconnecting"
	EventDisconnected     = "disconnected"
	EventLoggedOut        = "session_logged_out"
	EventAutoDisconnected = "session_auto_disconnected"
	EventDeleted          = "session_deleted"
	EventFailed           = "session_failed"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

// ValidateID garante que o identificador de sessão segue o formato aceito
func ValidateID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return NewValidationError("sessionId", "must be 3-50 characters of letters, digits, '_' or '-'")
	}
	return nil
}
