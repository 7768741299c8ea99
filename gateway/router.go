package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"comclear/gateway/middleware"
)

// Config controls the gateway's outer HTTP surface.
type Config struct {
	Auth            middleware.AuthConfig
	RateLimitPerSec float64
	RateLimitBurst  int
}

// NewRouter assembles the gateway router: the JSON-RPC endpoint behind auth,
// rate limiting and idempotency replay, plus health and metrics endpoints.
func NewRouter(cfg Config, rpcHandler http.Handler, store *IdempotencyStore, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		r.Use(auth.Middleware())
		r.Use(IdempotencyMiddleware(store))
		r.Method(http.MethodPost, "/rpc", rpcHandler)
	})

	return r
}
