package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/couponali/authcore"
	"github.com/couponali/authcore/middleware"
)

// RouterConfig wires the router's optional parts.
type RouterConfig struct {
	Metrics     http.Handler
	AdminRole   string
	EchoSecrets bool
	Timeout     time.Duration
}

// NewRouter builds the full HTTP surface for engine.
func NewRouter(engine *authcore.Engine, logger *slog.Logger, cfg RouterConfig) http.Handler {
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	h := New(engine, logger, cfg.EchoSecrets)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Timeout))
	r.Use(middleware.ClientInfo)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	h.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine))
		h.RegisterProtected(r)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(cfg.AdminRole))
			h.RegisterAdmin(r)
		})
	})
	return r
}
