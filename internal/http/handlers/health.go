package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/engine"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/responses"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Check verifica a disponibilidade de uma dependência externa
type Check func(ctx context.Context) error

// HealthHandler implementa os endpoints de saúde do worker
type HealthHandler struct {
	workerID  string
	engine    *engine.Engine
	checks    map[string]Check
	startedAt time.Time
	ready     atomic.Bool
	logger    logger.Logger
}

// NewHealthHandler cria uma nova instância do health handler.
// checks mapeia nome da dependência para a verificação; dependências
// ausentes (ex.: banco desabilitado) simplesmente não entram no mapa.
func NewHealthHandler(workerID string, eng *engine.Engine, checks map[string]Check, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		workerID:  workerID,
		engine:    eng,
		checks:    checks,
		startedAt: time.Now(),
		logger:    log.WithComponent("health-handler"),
	}
}

// SetReady marca os serviços centrais como inicializados
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health retorna o estado geral com flags por dependência, estatísticas
// de sessão e um snapshot de memória. 503 quando o serviço de protocolo
// não está disponível.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := map[string]bool{
		"whatsapp": h.engine != nil,
	}
	for name, check := range h.checks {
		err := check(ctx)
		services[name] = err == nil
		if err != nil {
			h.logger.WithError(err).WithField("dependency", name).
				Warn().Msg("Dependency check failed")
		}
	}

	var stats interface{}
	if h.engine != nil {
		stats = h.engine.Statistics()
	}

	data := map[string]interface{}{
		"workerId": h.workerID,
		"services": services,
		"sessions": stats,
		"memory":   memorySnapshot(),
		"uptime":   time.Since(h.startedAt).Round(time.Second).String(),
	}

	if !services["whatsapp"] {
		responses.ServiceUnavailable(w, "Worker is unhealthy", data)
		return
	}

	responses.Success(w, "Worker is healthy", data)
}

// Ready retorna 200 apenas quando os serviços centrais inicializaram
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		responses.ServiceUnavailable(w, "Worker is not ready", nil)
		return
	}
	responses.Success(w, "Worker is ready", map[string]string{"workerId": h.workerID})
}

// Live retorna 200 sempre que o processo está vivo
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	responses.Success(w, "Worker is alive", nil)
}

// Metrics retorna métricas por sessão e agregadas, no mesmo formato
// consumido pelo heartbeat do registry
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	sessions := h.engine.List()
	stats := h.engine.Statistics()

	responses.Success(w, "Worker metrics", map[string]interface{}{
		"workerId":   h.workerID,
		"statistics": stats,
		"sessions":   sessions,
		"memory":     memorySnapshot(),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func memorySnapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"heapUsedMB":  m.HeapAlloc / 1024 / 1024,
		"heapTotalMB": m.HeapSys / 1024 / 1024,
		"goroutines":  runtime.NumGoroutine(),
		"numGC":       m.NumGC,
	}
}
