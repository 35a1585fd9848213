package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/responses"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// NewRecoveryMiddleware captura panics nos handlers e responde 500
func NewRecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"panic":       err,
						"stack":       string(debug.Stack()),
						"method":      r.Method,
						"url":         r.URL.String(),
						"remote_addr": r.RemoteAddr,
					}).Error().Msg("Panic recovered")

					responses.InternalError(w, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
