package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/registry"
)

// managedSession agrupa a entidade e os recursos de runtime de uma
// sessão. Toda mutação acontece sob mu; os handlers de evento e as
// operações da engine disputam o mesmo mutex, o que realiza a
// disciplina de escritor único por sessão.
type managedSession struct {
	mu sync.Mutex

	sess    *session.Session
	qr      *session.QRChallenge
	client  protocol.Client
	authDir string

	reconnectTimer *time.Timer
	qrTimer        *time.Timer

	// auth local existia antes do create (controla o rollback)
	hadAuth bool
	// sessão removida do mapa; handlers tardios devem ignorá-la
	removed bool
}

// cancelTimers para os one-shots de reconexão e de auto-disconnect
func (ms *managedSession) cancelTimers() {
	if ms.reconnectTimer != nil {
		ms.reconnectTimer.Stop()
		ms.reconnectTimer = nil
	}
	if ms.qrTimer != nil {
		ms.qrTimer.Stop()
		ms.qrTimer = nil
	}
}

// startLocked cria a instância de protocolo e inicia o consumo de
// eventos. Chamado com ms.mu em posse.
func (e *Engine) startLocked(ms *managedSession) error {
	ms.sess.Status = session.StatusInitializing
	ms.sess.LastSeen = time.Now()

	dir, err := e.store.EnsureLocal(ms.sess.ID)
	if err != nil {
		ms.sess.Status = session.StatusFailed
		return err
	}
	ms.authDir = dir

	client, err := e.factory.NewClient(e.ctx, ms.sess.ID, dir)
	if err != nil {
		ms.sess.Status = session.StatusFailed
		return err
	}
	ms.client = client

	go e.consumeEvents(ms, client)

	if err := client.Connect(e.ctx); err != nil {
		client.End()
		ms.client = nil
		ms.sess.Status = session.StatusFailed
		return err
	}

	e.logger.Debug().
		Str("session_id", ms.sess.ID).
		Bool("recovered", ms.sess.IsRecovered).
		Msg("Protocol client started")
	return nil
}

// restartLocked fecha o socket atual preservando o auth e recria a
// instância de protocolo. Emite o webhook de reconexão.
func (e *Engine) restartLocked(ms *managedSession) error {
	ms.cancelTimers()
	ms.qr = nil
	ms.sess.QRAttempts = 0
	ms.sess.ManualDisconnect = false

	if ms.client != nil {
		ms.client.End()
		ms.client = nil
	}

	if err := e.startLocked(ms); err != nil {
		e.notify(ms, session.EventFailed, nil)
		return err
	}

	e.notify(ms, session.EventReconnecting, nil)
	return nil
}

// consumeEvents processa o canal de eventos de um cliente em ordem de
// chegada. A goroutine morre quando o cliente fecha o canal.
func (e *Engine) consumeEvents(ms *managedSession, client protocol.Client) {
	for ev := range client.Events() {
		switch evt := ev.(type) {
		case protocol.ConnectionUpdate:
			e.handleConnectionUpdate(ms, client, evt)
		case protocol.CredsUpdate:
			e.logger.Trace().
				Str("session_id", ms.sess.ID).
				Msg("Credentials updated")
		case protocol.MessageStatusUpdate:
			e.notifier.NotifyMessageStatus(ms.sess.ID, evt)
		}
	}
}

func (e *Engine) handleConnectionUpdate(ms *managedSession, client protocol.Client, evt protocol.ConnectionUpdate) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	// Eventos de um cliente substituído por Restart são descartados
	if ms.removed || ms.client != client {
		return
	}

	if evt.QR != "" {
		e.handleQRLocked(ms, evt.QR)
		return
	}

	switch evt.State {
	case protocol.ConnectionConnecting:
		e.logger.Debug().
			Str("session_id", ms.sess.ID).
			Msg("Protocol connecting")
	case protocol.ConnectionOpen:
		e.handleOpenLocked(ms, client)
	case protocol.ConnectionClose:
		e.handleCloseLocked(ms, evt.Disconnect)
	}
}

// handleQRLocked aplica o fluxo de QR: incrementa a tentativa, publica o
// desafio e, na última tentativa, arma o timer de auto-disconnect.
func (e *Engine) handleQRLocked(ms *managedSession, code string) {
	if ms.sess.QRAttempts >= e.cfg.MaxQRAttempts {
		// Evento tardio após o limite: ignorar
		return
	}

	ms.sess.QRAttempts++
	attempt := ms.sess.QRAttempts
	final := attempt == e.cfg.MaxQRAttempts

	expiry := e.cfg.QRExpiry
	if final {
		expiry = e.cfg.FinalQRExpiry
	}

	now := time.Now()
	ms.qr = &session.QRChallenge{
		SessionID:          ms.sess.ID,
		Code:               code,
		Attempt:            attempt,
		MaxAttempts:        e.cfg.MaxQRAttempts,
		IssuedAt:           now,
		ExpiresAt:          now.Add(expiry),
		MaxAttemptsReached: final,
	}
	ms.sess.Status = session.StatusQRReady
	ms.sess.LastSeen = now

	if final {
		grace := e.cfg.AutoDisconnectGrace
		qr := ms.qr
		e.notify(ms, session.EventAutoDisconnected, func(u *session.StatusUpdate) {
			u.QR = qr
			u.AutoDisconnectIn = int(grace.Seconds())
		})
		ms.qrTimer = time.AfterFunc(grace, func() {
			e.autoDisconnect(ms)
		})
		e.logger.Warn().
			Str("session_id", ms.sess.ID).
			Int("attempt", attempt).
			Msg("Max QR attempts reached, auto-disconnect armed")
		return
	}

	qr := ms.qr
	e.notify(ms, session.EventQRReady, func(u *session.StatusUpdate) {
		u.QR = qr
	})
	e.logger.Info().
		Str("session_id", ms.sess.ID).
		Int("attempt", attempt).
		Msg("QR challenge issued")
}

// autoDisconnect força AUTO_DISCONNECTED quando a última tentativa de QR
// expira sem pareamento.
func (e *Engine) autoDisconnect(ms *managedSession) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.removed || ms.sess.Status != session.StatusQRReady {
		return
	}

	ms.cancelTimers()
	ms.qr = nil

	if ms.client != nil {
		ms.client.End()
		ms.client = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.store.Purge(ctx, ms.sess.ID); err != nil {
		e.logger.Warn().
			Err(err).
			Str("session_id", ms.sess.ID).
			Msg("Auth purge on auto-disconnect failed")
	}

	now := time.Now()
	ms.sess.Status = session.StatusAutoDisconnected
	ms.sess.DisconnectedAt = &now
	ms.sess.LastDisconnectReason = "qr_expired"

	e.notify(ms, session.EventDisconnected, func(u *session.StatusUpdate) {
		u.Reason = "qr_expired"
	})

	e.logger.Info().
		Str("session_id", ms.sess.ID).
		Msg("Session auto-disconnected after QR expiry")
}

// handleOpenLocked trata a conexão estabelecida: limpa o QR, zera as
// tentativas, cacheia telefone e nome e espelha o auth remotamente.
func (e *Engine) handleOpenLocked(ms *managedSession, client protocol.Client) {
	ms.cancelTimers()
	ms.qr = nil
	ms.sess.QRAttempts = 0
	ms.sess.ManualDisconnect = false

	now := time.Now()
	ms.sess.Status = session.StatusConnected
	ms.sess.ConnectedAt = &now
	ms.sess.LastSeen = now
	ms.sess.PhoneNumber = registry.NormalizePhone(client.UserJID())
	ms.sess.DisplayName = client.PushName()
	ms.sess.LastDisconnectReason = ""

	e.notify(ms, session.EventConnected, nil)

	// Upload remoto em background: falhas nunca bloqueiam CONNECTED
	sessionID := ms.sess.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.store.Snapshot(ctx, sessionID); err != nil {
			e.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Msg("Remote auth snapshot failed after connect")
		}
	}()

	e.logger.Info().
		Str("session_id", ms.sess.ID).
		Str("phone", ms.sess.PhoneNumber).
		Msg("Session connected")
}

// handleCloseLocked aplica a política de causa de desconexão
func (e *Engine) handleCloseLocked(ms *managedSession, info *protocol.DisconnectInfo) {
	decision := classifyClose(info, ms.sess.ManualDisconnect, ms.sess.IsRecovered, e.cfg)
	ms.sess.LastDisconnectReason = decision.reason

	code := 0
	if info != nil {
		code = info.StatusCode
	}
	e.logger.Info().
		Str("session_id", ms.sess.ID).
		Int("status_code", code).
		Str("reason", decision.reason).
		Msg("Connection closed")

	switch decision.action {
	case actionIgnore:
		// Disconnect manual já transicionou e notificou

	case actionLoggedOut:
		e.remoteLogoutLocked(ms)

	case actionReplaced:
		ms.cancelTimers()
		ms.qr = nil
		now := time.Now()
		ms.sess.Status = session.StatusDisconnected
		ms.sess.DisconnectedAt = &now
		if ms.client != nil {
			ms.client.End()
			ms.client = nil
		}
		e.notify(ms, session.EventDisconnected, func(u *session.StatusUpdate) {
			u.Reason = decision.reason
		})

	case actionBadSession:
		ms.cancelTimers()
		ms.qr = nil
		ms.sess.QRAttempts = 0
		if ms.client != nil {
			ms.client.End()
			ms.client = nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := e.store.Purge(ctx, ms.sess.ID); err != nil {
			e.logger.Warn().
				Err(err).
				Str("session_id", ms.sess.ID).
				Msg("Auth purge on bad session failed")
		}
		cancel()
		now := time.Now()
		ms.sess.Status = session.StatusDisconnected
		ms.sess.DisconnectedAt = &now
		e.notify(ms, session.EventDisconnected, func(u *session.StatusUpdate) {
			u.Reason = decision.reason
			u.RequiresAuth = true
		})

	case actionRestart:
		if err := e.restartLocked(ms); err != nil {
			e.logger.Error().
				Err(err).
				Str("session_id", ms.sess.ID).
				Msg("Immediate restart failed")
		}

	case actionReconnect:
		e.scheduleReconnectLocked(ms, decision.delay, decision.reason)
	}
}

// remoteLogoutLocked trata o desvínculo feito pelo telefone: o webhook
// leva o telefone e o nome cacheados antes da limpeza.
func (e *Engine) remoteLogoutLocked(ms *managedSession) {
	phone := ms.sess.PhoneNumber
	display := ms.sess.DisplayName

	ms.cancelTimers()
	ms.qr = nil
	ms.sess.QRAttempts = 0

	if ms.client != nil {
		ms.client.End()
		ms.client = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.store.Purge(ctx, ms.sess.ID); err != nil {
		e.logger.Warn().
			Err(err).
			Str("session_id", ms.sess.ID).
			Msg("Auth purge on remote logout failed")
	}

	now := time.Now()
	ms.sess.Status = session.StatusLoggedOut
	ms.sess.LoggedOutAt = &now

	e.notify(ms, session.EventLoggedOut, func(u *session.StatusUpdate) {
		u.PhoneNumber = phone
		u.DisplayName = display
		u.Reason = "logged_out"
	})

	e.logger.Info().
		Str("session_id", ms.sess.ID).
		Str("phone", phone).
		Msg("Session logged out remotely")
}

// scheduleReconnectLocked entra em RECONNECTING e arma o one-shot de
// reconexão. Um timer pendente anterior é cancelado antes.
func (e *Engine) scheduleReconnectLocked(ms *managedSession, delay time.Duration, reason string) {
	ms.cancelTimers()
	ms.qr = nil

	now := time.Now()
	ms.sess.Status = session.StatusReconnecting
	ms.sess.DisconnectedAt = &now

	e.notify(ms, session.EventReconnecting, func(u *session.StatusUpdate) {
		u.Reason = reason
	})

	ms.reconnectTimer = time.AfterFunc(delay, func() {
		e.reconnect(ms)
	})

	e.logger.Info().
		Str("session_id", ms.sess.ID).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("Reconnect scheduled")
}

// reconnect é disparado pelo timer: recria a instância de protocolo se a
// sessão ainda estiver aguardando reconexão.
func (e *Engine) reconnect(ms *managedSession) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.removed || ms.sess.Status != session.StatusReconnecting {
		return
	}

	if ms.client != nil {
		ms.client.End()
		ms.client = nil
	}

	if err := e.startLocked(ms); err != nil {
		e.logger.Error().
			Err(err).
			Str("session_id", ms.sess.ID).
			Msg("Reconnect failed")
		e.notify(ms, session.EventFailed, nil)
	}
}

// snapshotLocked monta a visão somente leitura da sessão
func (e *Engine) snapshotLocked(ms *managedSession) session.Snapshot {
	snap := session.Snapshot{
		ID:                   ms.sess.ID,
		UserID:               ms.sess.UserID,
		Name:                 ms.sess.Name,
		Status:               ms.sess.Status,
		PhoneNumber:          ms.sess.PhoneNumber,
		DisplayName:          ms.sess.DisplayName,
		QRAttempts:           ms.sess.QRAttempts,
		IsRecovered:          ms.sess.IsRecovered,
		LastDisconnectReason: ms.sess.LastDisconnectReason,
		CreatedAt:            ms.sess.CreatedAt,
		LastSeen:             ms.sess.LastSeen,
		ConnectedAt:          ms.sess.ConnectedAt,
		DisconnectedAt:       ms.sess.DisconnectedAt,
		LoggedOutAt:          ms.sess.LoggedOutAt,
	}
	if ms.sess.Status == session.StatusQRReady && ms.qr != nil {
		qr := *ms.qr
		snap.QR = &qr
	}
	return snap
}
