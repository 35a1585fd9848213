package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Timeouts por classe de chamada ao backend
const (
	webhookTimeout      = 5 * time.Second
	heartbeatTimeout    = 5 * time.Second
	registrationTimeout = 15 * time.Second
	assignmentTimeout   = 10 * time.Second
)

// Config parametriza o cliente de registro
type Config struct {
	BaseURL           string
	AuthToken         string
	Identity          WorkerIdentity
	HeartbeatInterval time.Duration
	MaxRetries        int
	RetryInterval     time.Duration
	StartupDelay      time.Duration
}

// SnapshotProvider fornece a visão das sessões para o heartbeat
type SnapshotProvider interface {
	List() []session.Snapshot
	Statistics() session.Statistics
}

// Client registra o worker no backend, mantém o heartbeat e espelha as
// transições de sessão como webhooks fire-and-forget.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
	logger     logger.Logger

	registered atomic.Bool
	startedAt  time.Time
}

// NewClient cria o cliente de registro
func NewClient(cfg Config, log logger.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "backend-webhooks",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    breaker,
		logger:     log.WithComponent("worker-registry"),
		startedAt:  time.Now(),
	}
}

// IsRegistered indica se o worker está registrado no backend
func (c *Client) IsRegistered() bool {
	return c.registered.Load()
}

// Register anuncia o worker ao backend com retry de back-off fixo.
// Um atraso de startup configurável precede a primeira tentativa.
func (c *Client) Register(ctx context.Context) (*RegisterResponse, error) {
	if c.cfg.StartupDelay > 0 {
		c.logger.Info().
			Dur("delay", c.cfg.StartupDelay).
			Msg("Waiting before registration attempt")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.StartupDelay):
		}
	}

	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.register(ctx)
		if err == nil {
			c.registered.Store(true)
			c.logger.Info().
				Str("worker_id", c.cfg.Identity.ID).
				Bool("recovery_required", resp.RecoveryRequired).
				Int("assigned_sessions", resp.AssignedSessionCount).
				Msg("Worker registered with backend")
			return resp, nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Registration attempt failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryInterval):
			}
		}
	}

	return nil, fmt.Errorf("registration failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) register(ctx context.Context) (*RegisterResponse, error) {
	var resp RegisterResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/workers/register", c.cfg.Identity, registrationTimeout, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunHeartbeat envia heartbeats periódicos até o contexto encerrar
func (c *Client) RunHeartbeat(ctx context.Context, provider SnapshotProvider) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.registered.Load() {
				continue
			}
			if err := c.sendHeartbeat(ctx, provider); err != nil {
				c.logger.Warn().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

func (c *Client) sendHeartbeat(ctx context.Context, provider SnapshotProvider) error {
	payload := c.buildHeartbeat(provider)
	path := fmt.Sprintf("/api/v1/workers/%s/heartbeat", c.cfg.Identity.ID)
	return c.doJSON(ctx, http.MethodPut, path, payload, heartbeatTimeout, nil)
}

func (c *Client) buildHeartbeat(provider SnapshotProvider) HeartbeatPayload {
	snapshots := provider.List()
	stats := provider.Statistics()

	sessions := make([]SessionHeartbeat, 0, len(snapshots))
	for _, snap := range snapshots {
		sessions = append(sessions, SessionHeartbeat{
			SessionID:   snap.ID,
			UserID:      snap.UserID,
			Status:      snap.Status.Backend(),
			PhoneNumber: snap.PhoneNumber,
			LastSeen:    snap.LastSeen,
			ConnectedAt: snap.ConnectedAt,
		})
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	heapPct := 0.0
	if mem.HeapSys > 0 {
		heapPct = float64(mem.HeapAlloc) / float64(mem.HeapSys) * 100
	}

	return HeartbeatPayload{
		Sessions: sessions,
		Metrics: HeartbeatMetrics{
			// Aproximação: goroutines ativas sobre o número de CPUs
			CPUUsagePercent: float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()),
			HeapUsedPercent: heapPct,
			UptimeSeconds:   int64(time.Since(c.startedAt).Seconds()),
			TotalSessions:   stats.Total,
			ActiveSessions:  stats.Active(),
			GoroutineCount:  runtime.NumGoroutine(),
			HeapAllocBytes:  mem.HeapAlloc,
		},
		SentAt: time.Now(),
	}
}

// NotifySessionStatus envia o webhook de transição de forma assíncrona.
// Falhas nunca propagam para a transição que as originou.
func (c *Client) NotifySessionStatus(update session.StatusUpdate) {
	payload := webhookFromUpdate(update)
	go c.postWebhook("/api/v1/webhooks/session-status", payload)
}

// NotifyMessageStatus envia atualizações de entrega de mensagem
func (c *Client) NotifyMessageStatus(sessionID string, update protocol.MessageStatusUpdate) {
	payload := MessageStatusWebhook{
		SessionID: sessionID,
		MessageID: update.MessageID,
		To:        update.To,
		Status:    update.Status,
		Timestamp: update.At,
	}
	go c.postWebhook("/api/v1/webhooks/message-status", payload)
}

func (c *Client) postWebhook(path string, payload any) {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		return struct{}{}, c.doJSON(ctx, http.MethodPost, path, payload, webhookTimeout, nil)
	})
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("endpoint", path).
			Interface("payload", payload).
			Msg("Webhook delivery failed")
	}
}

// FetchAssignments busca a lista autoritativa de sessões deste worker.
// 404 significa que não há atribuições.
func (c *Client) FetchAssignments(ctx context.Context) ([]Assignment, error) {
	path := fmt.Sprintf("/api/v1/workers/%s/sessions/assigned", c.cfg.Identity.ID)

	var payload struct {
		Sessions []Assignment `json:"sessions"`
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, assignmentTimeout, &payload)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return payload.Sessions, nil
}

// ReportRecovery envia o agregado da recuperação de startup
func (c *Client) ReportRecovery(ctx context.Context, report RecoveryReport) error {
	path := fmt.Sprintf("/api/v1/workers/%s/sessions/recovery-status", c.cfg.Identity.ID)
	return c.doJSON(ctx, http.MethodPost, path, report, assignmentTimeout, nil)
}

// NotifyPreserved informa as sessões preservadas durante o shutdown
func (c *Client) NotifyPreserved(ctx context.Context, sessionIDs []string) error {
	path := fmt.Sprintf("/api/v1/workers/%s/sessions/preserved", c.cfg.Identity.ID)
	payload := PreservedPayload{SessionIDs: sessionIDs, Timestamp: time.Now()}
	return c.doJSON(ctx, http.MethodPost, path, payload, assignmentTimeout, nil)
}

// Unregister remove o worker do backend. Falhas são apenas logadas.
func (c *Client) Unregister(ctx context.Context) {
	if !c.registered.Load() {
		return
	}

	path := fmt.Sprintf("/api/v1/workers/%s", c.cfg.Identity.ID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, assignmentTimeout, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Worker unregister failed")
		return
	}

	c.registered.Store(false)
	c.logger.Info().Str("worker_id", c.cfg.Identity.ID).Msg("Worker unregistered")
}

// statusError carrega o status HTTP de uma resposta de erro do backend
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
