package logger

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ============================================================================
// WHATSMEOW ADAPTER
// ============================================================================

// ProtocolLoggerAdapter adapta nosso Logger para o waLog.Logger do whatsmeow
type ProtocolLoggerAdapter struct {
	logger Logger
}

// NewProtocolLogger cria o adaptador de logging para whatsmeow
func NewProtocolLogger(logger Logger) waLog.Logger {
	return &ProtocolLoggerAdapter{logger: logger}
}

func (w *ProtocolLoggerAdapter) Errorf(msg string, args ...interface{}) {
	if len(args) == 0 {
		w.logger.Error().Msg(msg)
	} else {
		w.logger.Error().Msgf(msg, args...)
	}
}

func (w *ProtocolLoggerAdapter) Warnf(msg string, args ...interface{}) {
	if len(args) == 0 {
		w.logger.Warn().Msg(msg)
	} else {
		w.logger.Warn().Msgf(msg, args...)
	}
}

func (w *ProtocolLoggerAdapter) Infof(msg string, args ...interface{}) {
	if len(args) == 0 {
		w.logger.Info().Msg(msg)
	} else {
		w.logger.Info().Msgf(msg, args...)
	}
}

func (w *ProtocolLoggerAdapter) Debugf(msg string, args ...interface{}) {
	if len(args) == 0 {
		w.logger.Debug().Msg(msg)
	} else {
		w.logger.Debug().Msgf(msg, args...)
	}
}

func (w *ProtocolLoggerAdapter) Sub(module string) waLog.Logger {
	if module == "" {
		return w
	}
	return &ProtocolLoggerAdapter{logger: w.logger.WithComponent(module)}
}

// ============================================================================
// BUN ORM ADAPTER
// ============================================================================

// BunQueryHook implementa hook para logging de queries do Bun ORM
type BunQueryHook struct {
	logger Logger
}

// NewBunQueryHook cria um novo hook para logging de queries do Bun
func NewBunQueryHook(logger Logger) bun.QueryHook {
	return &BunQueryHook{
		logger: logger.WithComponent("database"),
	}
}

// BeforeQuery é chamado antes da execução da query
func (h *BunQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery é chamado após a execução da query
func (h *BunQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	durationMs := duration.Milliseconds()

	if event.Err != nil {
		h.logger.Error().
			Err(event.Err).
			Str("query", h.sanitizeQuery(event.Query)).
			Int64("duration_ms", durationMs).
			Msg("Database query failed")
		return
	}

	// Queries lentas (> 100ms) sempre logam como WARNING
	if durationMs > 100 {
		h.logger.Warn().
			Str("query", h.sanitizeQuery(event.Query)).
			Int64("duration_ms", durationMs).
			Msg("Slow database query")
		return
	}

	h.logger.Debug().
		Int64("duration_ms", durationMs).
		Msg("DB operation completed")
}

// sanitizeQuery encurta e normaliza a query para logging
func (h *BunQueryHook) sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	const maxLength = 200
	if len(query) > maxLength {
		query = query[:maxLength] + "..."
	}

	var builder strings.Builder
	builder.Grow(len(query))

	var lastWasSpace bool
	for _, r := range query {
		switch r {
		case '\n', '\t', '\r', ' ':
			if !lastWasSpace {
				builder.WriteByte(' ')
				lastWasSpace = true
			}
		default:
			builder.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(builder.String())
}
