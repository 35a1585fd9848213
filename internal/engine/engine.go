package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/pacer"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Notifier recebe as transições de estado e atualizações de mensagem.
// Falhas de notificação nunca afetam o ciclo de vida das sessões.
type Notifier interface {
	NotifySessionStatus(update session.StatusUpdate)
	NotifyMessageStatus(sessionID string, update protocol.MessageStatusUpdate)
}

// AuthStore persiste o material de autenticação local e remoto
type AuthStore interface {
	EnsureLocal(sessionID string) (string, error)
	HasLocal(sessionID string) bool
	Snapshot(ctx context.Context, sessionID string) error
	Purge(ctx context.Context, sessionID string) error
}

// OutboundRecord descreve uma mensagem enviada para o log opcional.
// CreatedAt é preenchido pelo repositório na gravação.
type OutboundRecord struct {
	SessionID string    `json:"sessionId"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageLog registra mensagens enviadas. Handle ausente (nil) significa
// funcionalidade desabilitada.
type MessageLog interface {
	LogOutbound(ctx context.Context, rec OutboundRecord) error
}

// Config parametriza os timers e limites da engine
type Config struct {
	MaxSessions                int
	MaxQRAttempts              int
	QRExpiry                   time.Duration
	FinalQRExpiry              time.Duration
	AutoDisconnectGrace        time.Duration
	ReconnectInterval          time.Duration
	RecoveredReconnectInterval time.Duration
	TimedOutReconnectInterval  time.Duration
	BulkDelay                  time.Duration
	BulkMaxItems               int
}

// DefaultConfig retorna os valores padrão da engine
func DefaultConfig() Config {
	return Config{
		MaxSessions:                50,
		MaxQRAttempts:              3,
		QRExpiry:                   60 * time.Second,
		FinalQRExpiry:              30 * time.Second,
		AutoDisconnectGrace:        30 * time.Second,
		ReconnectInterval:          5 * time.Second,
		RecoveredReconnectInterval: 3 * time.Second,
		TimedOutReconnectInterval:  10 * time.Second,
		BulkDelay:                  time.Second,
		BulkMaxItems:               100,
	}
}

// Engine é o motor de ciclo de vida das sessões. Mantém o mapa global de
// sessões e garante disciplina de escritor único por sessão: toda
// mutação acontece sob o mutex da própria sessão.
type Engine struct {
	cfg      Config
	factory  protocol.Factory
	store    AuthStore
	notifier Notifier
	pacer    *pacer.Pacer
	msgLog   MessageLog
	logger   logger.Logger

	mu       sync.RWMutex
	sessions map[string]*managedSession

	ctx    context.Context
	cancel context.CancelFunc
}

// New cria a engine. msgLog pode ser nil quando o log de mensagens não
// está configurado.
func New(cfg Config, factory protocol.Factory, store AuthStore, notifier Notifier, pc *pacer.Pacer, msgLog MessageLog, log logger.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		factory:  factory,
		store:    store,
		notifier: notifier,
		pacer:    pc,
		msgLog:   msgLog,
		logger:   log.WithComponent("lifecycle-engine"),
		sessions: make(map[string]*managedSession),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start é o resume-or-create idempotente. Sessões CONNECTED, QR_READY,
// INITIALIZING ou RECONNECTING retornam o estado atual; estados
// retomáveis são reiniciados; sessões inexistentes são criadas.
func (e *Engine) Start(ctx context.Context, sessionID, userID, name string) (session.Snapshot, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return session.Snapshot{}, err
	}

	ms, created, err := e.obtain(sessionID, userID, name, false)
	if err != nil {
		return session.Snapshot{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if created {
		if err := e.startLocked(ms); err != nil {
			e.rollbackCreate(ms)
			return session.Snapshot{}, session.NewSessionError(sessionID, "start", err)
		}
		e.notify(ms, session.EventCreated, nil)
		return e.snapshotLocked(ms), nil
	}

	switch ms.sess.Status {
	case session.StatusConnected, session.StatusInitializing,
		session.StatusQRReady, session.StatusReconnecting:
		return e.snapshotLocked(ms), nil
	default:
		if err := e.restartLocked(ms); err != nil {
			return session.Snapshot{}, session.NewSessionError(sessionID, "start", err)
		}
		return e.snapshotLocked(ms), nil
	}
}

// Create cria uma sessão nova e falha se ela já existir. Usada pelo
// endpoint de criação explícita e pela recuperação de startup.
func (e *Engine) Create(ctx context.Context, sessionID, userID, name string, isRecovery bool) (session.Snapshot, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return session.Snapshot{}, err
	}

	ms, created, err := e.obtain(sessionID, userID, name, isRecovery)
	if err != nil {
		return session.Snapshot{}, err
	}
	if !created {
		return session.Snapshot{}, session.NewSessionError(sessionID, "create", session.ErrSessionAlreadyExists)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := e.startLocked(ms); err != nil {
		e.rollbackCreate(ms)
		return session.Snapshot{}, session.NewSessionError(sessionID, "create", err)
	}
	e.notify(ms, session.EventCreated, nil)
	return e.snapshotLocked(ms), nil
}

// obtain busca ou insere a sessão no mapa de forma atômica
func (e *Engine) obtain(sessionID, userID, name string, isRecovery bool) (*managedSession, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ms, ok := e.sessions[sessionID]; ok {
		return ms, false, nil
	}

	if e.cfg.MaxSessions > 0 && len(e.sessions) >= e.cfg.MaxSessions {
		return nil, false, session.NewSessionError(sessionID, "create", session.ErrSessionLimitReached)
	}

	now := time.Now()
	ms := &managedSession{
		sess: &session.Session{
			ID:          sessionID,
			UserID:      userID,
			Name:        name,
			Status:      session.StatusInitializing,
			CreatedAt:   now,
			LastSeen:    now,
			IsRecovered: isRecovery,
		},
		hadAuth: e.store.HasLocal(sessionID),
	}
	e.sessions[sessionID] = ms
	return ms, true, nil
}

// rollbackCreate desfaz uma criação que falhou: remove do mapa e apaga o
// diretório de auth apenas se ele não existia antes da tentativa.
func (e *Engine) rollbackCreate(ms *managedSession) {
	ms.sess.Status = session.StatusFailed
	ms.removed = true

	e.mu.Lock()
	delete(e.sessions, ms.sess.ID)
	e.mu.Unlock()

	if !ms.hadAuth {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.Purge(ctx, ms.sess.ID); err != nil {
			e.logger.Warn().
				Err(err).
				Str("session_id", ms.sess.ID).
				Msg("Rollback auth cleanup failed")
		}
	}
}

// GetStatus retorna o snapshot atual da sessão
func (e *Engine) GetStatus(sessionID string) (session.Snapshot, error) {
	ms, err := e.get(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return e.snapshotLocked(ms), nil
}

// Delete encerra a sessão de forma terminal: logout no protocolo,
// remoção do auth local e remoto e descarte do estado em memória.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	ms, err := e.get(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	ms.cancelTimers()
	ms.qr = nil
	ms.removed = true

	if ms.client != nil {
		if err := ms.client.Logout(ctx); err != nil {
			e.logger.Debug().
				Err(err).
				Str("session_id", sessionID).
				Msg("Protocol logout during delete failed")
		}
		ms.client.End()
		ms.client = nil
	}

	if err := e.store.Purge(ctx, sessionID); err != nil {
		e.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("Auth purge during delete failed")
	}

	ms.sess.Status = session.StatusLoggedOut
	e.notify(ms, session.EventDeleted, nil)
	ms.mu.Unlock()

	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	e.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// Restart fecha o socket, preserva o auth e recria a instância de
// protocolo.
func (e *Engine) Restart(ctx context.Context, sessionID string) (session.Snapshot, error) {
	ms, err := e.get(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := e.restartLocked(ms); err != nil {
		return session.Snapshot{}, session.NewSessionError(sessionID, "restart", err)
	}
	return e.snapshotLocked(ms), nil
}

// Disconnect fecha o socket mantendo o auth e marca a desconexão como
// manual: a política de fechamento não tentará reconectar.
func (e *Engine) Disconnect(ctx context.Context, sessionID string) error {
	ms, err := e.get(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.sess.ManualDisconnect = true
	ms.cancelTimers()
	ms.qr = nil
	ms.sess.QRAttempts = 0

	if ms.client != nil {
		ms.client.End()
	}

	now := time.Now()
	ms.sess.Status = session.StatusDisconnected
	ms.sess.DisconnectedAt = &now
	ms.sess.LastDisconnectReason = "manual"

	e.notify(ms, session.EventDisconnected, func(u *session.StatusUpdate) {
		u.Reason = "manual"
	})

	e.logger.Info().Str("session_id", sessionID).Msg("Session disconnected manually")
	return nil
}

// Logout invalida o dispositivo nos servidores do WhatsApp e faz a
// limpeza completa do material de autenticação.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	ms, err := e.get(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.sess.ManualDisconnect = true
	ms.cancelTimers()
	ms.qr = nil
	ms.sess.QRAttempts = 0

	if ms.client != nil {
		if err := ms.client.Logout(ctx); err != nil {
			e.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Msg("Protocol logout failed, cleaning up anyway")
		}
		ms.client.End()
		ms.client = nil
	}

	if err := e.store.Purge(ctx, sessionID); err != nil {
		e.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("Auth purge during logout failed")
	}

	now := time.Now()
	ms.sess.Status = session.StatusLoggedOut
	ms.sess.LoggedOutAt = &now
	ms.sess.LastDisconnectReason = "logged_out"

	e.notify(ms, session.EventDisconnected, func(u *session.StatusUpdate) {
		u.Reason = "logged_out"
	})

	e.logger.Info().Str("session_id", sessionID).Msg("Session logged out")
	return nil
}

// List retorna snapshots de todas as sessões
func (e *Engine) List() []session.Snapshot {
	e.mu.RLock()
	all := make([]*managedSession, 0, len(e.sessions))
	for _, ms := range e.sessions {
		all = append(all, ms)
	}
	e.mu.RUnlock()

	snapshots := make([]session.Snapshot, 0, len(all))
	for _, ms := range all {
		ms.mu.Lock()
		snapshots = append(snapshots, e.snapshotLocked(ms))
		ms.mu.Unlock()
	}
	return snapshots
}

// Statistics agrega contagens por estado
func (e *Engine) Statistics() session.Statistics {
	var stats session.Statistics
	for _, snap := range e.List() {
		stats.Add(snap.Status)
	}
	return stats
}

// Shutdown encerra todos os sockets sem limpar material de autenticação.
// A preservação (upload remoto) é responsabilidade do coordenador de
// recuperação antes desta chamada.
func (e *Engine) Shutdown() {
	e.cancel()

	e.mu.Lock()
	all := make([]*managedSession, 0, len(e.sessions))
	for _, ms := range e.sessions {
		all = append(all, ms)
	}
	e.mu.Unlock()

	for _, ms := range all {
		ms.mu.Lock()
		ms.cancelTimers()
		ms.removed = true
		if ms.client != nil {
			ms.client.End()
			ms.client = nil
		}
		ms.mu.Unlock()
	}

	e.logger.Info().Int("sessions", len(all)).Msg("Lifecycle engine stopped")
}

func (e *Engine) get(sessionID string) (*managedSession, error) {
	e.mu.RLock()
	ms, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return nil, session.NewSessionError(sessionID, "lookup", session.ErrSessionNotFound)
	}
	return ms, nil
}

// notify publica uma transição para o registry. O status de backend e o
// timestamp são preenchidos aqui; mutate ajusta campos específicos.
func (e *Engine) notify(ms *managedSession, event string, mutate func(*session.StatusUpdate)) {
	update := session.StatusUpdate{
		SessionID:     ms.sess.ID,
		Event:         event,
		Status:        ms.sess.Status,
		BackendStatus: ms.sess.Status.Backend(),
		Timestamp:     time.Now(),
	}
	if ms.sess.Status == session.StatusConnected {
		update.PhoneNumber = ms.sess.PhoneNumber
		update.DisplayName = ms.sess.DisplayName
	}
	if mutate != nil {
		mutate(&update)
	}
	e.notifier.NotifySessionStatus(update)
}
