package registry

import (
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
)

// WorkerIdentity é a identidade fixa do processo perante o backend
type WorkerIdentity struct {
	ID          string `json:"workerId"`
	Endpoint    string `json:"endpoint"`
	MaxSessions int    `json:"maxSessions"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// RegisterResponse é a resposta do backend ao registro
type RegisterResponse struct {
	RecoveryRequired     bool `json:"recoveryRequired"`
	AssignedSessionCount int  `json:"assignedSessionCount"`
}

// Assignment é uma sessão que o backend atribui a este worker
type Assignment struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
}

// HeartbeatMetrics agrega as métricas de processo enviadas no heartbeat
type HeartbeatMetrics struct {
	CPUUsagePercent float64 `json:"cpuUsage"`
	HeapUsedPercent float64 `json:"memoryUsage"`
	UptimeSeconds   int64   `json:"uptimeSeconds"`
	TotalSessions   int     `json:"totalSessions"`
	ActiveSessions  int     `json:"activeSessions"`
	GoroutineCount  int     `json:"goroutineCount"`
	HeapAllocBytes  uint64  `json:"heapAllocBytes"`
}

// SessionHeartbeat é a visão de uma sessão no payload de heartbeat
type SessionHeartbeat struct {
	SessionID   string     `json:"sessionId"`
	UserID      string     `json:"userId"`
	Status      string     `json:"status"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	LastSeen    time.Time  `json:"lastSeen"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

// HeartbeatPayload é o corpo do PUT de heartbeat
type HeartbeatPayload struct {
	Sessions []SessionHeartbeat `json:"sessions"`
	Metrics  HeartbeatMetrics   `json:"metrics"`
	SentAt   time.Time          `json:"timestamp"`
}

// SessionStatusWebhook é o corpo do webhook de transição de sessão
type SessionStatusWebhook struct {
	SessionID        string    `json:"sessionId"`
	Event            string    `json:"event"`
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	QRCode           string    `json:"qrCode,omitempty"`
	QRAttempt        int       `json:"qrAttempt,omitempty"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	DisplayName      string    `json:"displayName,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	RequiresAuth     bool      `json:"requiresAuth,omitempty"`
	AutoDisconnectIn int       `json:"autoDisconnectIn,omitempty"`
}

// MessageStatusWebhook é o corpo do webhook de entrega de mensagem
type MessageStatusWebhook struct {
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId"`
	To        string    `json:"to"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RecoveryOutcome registra o resultado da recuperação de uma sessão
type RecoveryOutcome struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Resultados possíveis de uma recuperação por sessão
const (
	RecoveryRecovered = "recovered"
	RecoveryFailed    = "failed"
	RecoverySkipped   = "skipped"
)

// RecoveryReport agrega os resultados da recuperação de startup
type RecoveryReport struct {
	Outcomes  []RecoveryOutcome `json:"sessions"`
	Recovered int               `json:"recovered"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Timestamp time.Time         `json:"timestamp"`
}

// PreservedPayload informa ao backend as sessões preservadas no shutdown
type PreservedPayload struct {
	SessionIDs []string  `json:"sessionIds"`
	Timestamp  time.Time `json:"timestamp"`
}

// webhookFromUpdate monta o corpo do webhook a partir do evento da engine
func webhookFromUpdate(u session.StatusUpdate) SessionStatusWebhook {
	w := SessionStatusWebhook{
		SessionID:        u.SessionID,
		Event:            u.Event,
		Status:           u.BackendStatus,
		Timestamp:        u.Timestamp,
		PhoneNumber:      u.PhoneNumber,
		DisplayName:      u.DisplayName,
		Reason:           u.Reason,
		RequiresAuth:     u.RequiresAuth,
		AutoDisconnectIn: u.AutoDisconnectIn,
	}
	if u.QR != nil {
		w.QRCode = u.QR.Code
		w.QRAttempt = u.QR.Attempt
	}
	return w
}
