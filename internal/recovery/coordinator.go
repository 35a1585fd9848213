package recovery

import (
	"context"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/registry"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Lifecycle é o subconjunto da engine usado pelo coordenador
type Lifecycle interface {
	Create(ctx context.Context, sessionID, userID, name string, isRecovery bool) (session.Snapshot, error)
	GetStatus(sessionID string) (session.Snapshot, error)
	List() []session.Snapshot
}

// AuthStore é o subconjunto do store de autenticação usado aqui
type AuthStore interface {
	Restore(ctx context.Context, sessionID string) error
	Snapshot(ctx context.Context, sessionID string) error
}

// Backend é o subconjunto do cliente de registro usado aqui
type Backend interface {
	FetchAssignments(ctx context.Context) ([]registry.Assignment, error)
	ReportRecovery(ctx context.Context, report registry.RecoveryReport) error
	NotifyPreserved(ctx context.Context, sessionIDs []string) error
}

// Coordinator executa a recuperação de cold-start dirigida pelas
// atribuições do backend e a preservação de sessões no shutdown.
type Coordinator struct {
	engine  Lifecycle
	store   AuthStore
	backend Backend
	logger  logger.Logger

	startupDelay time.Duration
}

// NewCoordinator cria o coordenador de recuperação
func NewCoordinator(engine Lifecycle, store AuthStore, backend Backend, startupDelay time.Duration, log logger.Logger) *Coordinator {
	return &Coordinator{
		engine:       engine,
		store:        store,
		backend:      backend,
		logger:       log.WithComponent("recovery"),
		startupDelay: startupDelay,
	}
}

// resumable lista os estados prévios que justificam recuperação
func resumable(status string) bool {
	switch status {
	case "CONNECTED", "QR_REQUIRED", "RECONNECTING":
		return true
	}
	return false
}

// RunStartupRecovery busca as atribuições do backend e recria cada
// sessão elegível. Erros por sessão são registrados individualmente; a
// recuperação sempre completa e reporta o agregado.
func (c *Coordinator) RunStartupRecovery(ctx context.Context) error {
	if c.startupDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.startupDelay):
		}
	}

	assignments, err := c.backend.FetchAssignments(ctx)
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		c.logger.Info().Msg("No sessions assigned for recovery")
		return nil
	}

	c.logger.Info().
		Int("assignments", len(assignments)).
		Msg("Starting session recovery")

	report := registry.RecoveryReport{Timestamp: time.Now()}
	for _, assignment := range assignments {
		outcome := c.recoverOne(ctx, assignment)
		report.Outcomes = append(report.Outcomes, outcome)
		switch outcome.Status {
		case registry.RecoveryRecovered:
			report.Recovered++
		case registry.RecoveryFailed:
			report.Failed++
		case registry.RecoverySkipped:
			report.Skipped++
		}
	}

	c.logger.Info().
		Int("recovered", report.Recovered).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("Session recovery finished")

	if err := c.backend.ReportRecovery(ctx, report); err != nil {
		c.logger.Warn().Err(err).Msg("Recovery report failed")
	}
	return nil
}

func (c *Coordinator) recoverOne(ctx context.Context, assignment registry.Assignment) registry.RecoveryOutcome {
	outcome := registry.RecoveryOutcome{SessionID: assignment.SessionID}

	if _, err := c.engine.GetStatus(assignment.SessionID); err == nil {
		outcome.Status = registry.RecoverySkipped
		outcome.Error = "session already exists"
		return outcome
	}

	if !resumable(assignment.Status) {
		outcome.Status = registry.RecoverySkipped
		outcome.Error = "prior status not resumable: " + assignment.Status
		return outcome
	}

	// Restauração best-effort: sem creds remotos a sessão cai no QR
	if err := c.store.Restore(ctx, assignment.SessionID); err != nil {
		c.logger.Warn().
			Err(err).
			Str("session_id", assignment.SessionID).
			Msg("Auth restore failed, session will fall through to QR")
	}

	if _, err := c.engine.Create(ctx, assignment.SessionID, assignment.UserID, "", true); err != nil {
		outcome.Status = registry.RecoveryFailed
		outcome.Error = err.Error()
		c.logger.Error().
			Err(err).
			Str("session_id", assignment.SessionID).
			Msg("Session recovery failed")
		return outcome
	}

	outcome.Status = registry.RecoveryRecovered
	c.logger.Info().
		Str("session_id", assignment.SessionID).
		Str("prior_status", assignment.Status).
		Msg("Session recovered")
	return outcome
}

// PreserveSessions faz o snapshot remoto de toda sessão CONNECTED ou
// QR_READY e informa ao backend a lista preservada. Executado no
// shutdown gracioso, antes de encerrar os sockets.
func (c *Coordinator) PreserveSessions(ctx context.Context) []string {
	var preserved []string

	for _, snap := range c.engine.List() {
		if snap.Status != session.StatusConnected && snap.Status != session.StatusQRReady {
			continue
		}
		if err := c.store.Snapshot(ctx, snap.ID); err != nil {
			c.logger.Warn().
				Err(err).
				Str("session_id", snap.ID).
				Msg("Session preservation failed")
			continue
		}
		preserved = append(preserved, snap.ID)
	}

	if len(preserved) > 0 {
		if err := c.backend.NotifyPreserved(ctx, preserved); err != nil {
			c.logger.Warn().Err(err).Msg("Preserved sessions notification failed")
		}
	}

	c.logger.Info().
		Int("preserved", len(preserved)).
		Msg("Session preservation finished")
	return preserved
}
