package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/responses"
)

// NewRateLimit limita requisições por IP dentro da janela configurada
func NewRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			responses.TooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
