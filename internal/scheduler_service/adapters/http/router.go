package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CallbackPath is where the broker delivers execution callbacks.
const CallbackPath = "/api/v1/callbacks/execute"

// HealthChecker reports whether a dependency is usable.
type HealthChecker func(ctx context.Context) error

// RouterConfig wires the handlers into one chi router.
type RouterConfig struct {
	Posts      *PostHandler
	Callbacks  *CallbackHandler
	JWTSecret  string
	Health     HealthChecker
	Logger     *slog.Logger
	ReqTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	timeout := cfg.ReqTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)
	r.Use(chi_middleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				cfg.Logger.WarnContext(r.Context(), "Health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated by broker signature, not by user token.
	r.Post(CallbackPath, cfg.Callbacks.HandleExecute)

	r.Route("/api/v1/scheduled_posts", func(pr chi.Router) {
		pr.Use(JWTAuthMiddleware(cfg.JWTSecret, cfg.Logger))
		cfg.Posts.RegisterRoutes(pr)
	})

	return r
}
