// Package api implements the coordinator's HTTP surface (spec §6): agent
// registration and heartbeat, target distribution, result submission, and
// the derived uptime/latency/status queries, behind CORS, shared-secret
// auth, and per-IP rate limiting the way the teacher's router wires its
// own middleware stack.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stormmon/storm/server/internal/agentregistry"
	"github.com/stormmon/storm/server/internal/aggregator"
	"github.com/stormmon/storm/server/internal/cache"
	"github.com/stormmon/storm/server/internal/targetstore"
)

// RouterConfig holds every dependency needed to build the HTTP router,
// populated in cmd/server/main.go once every component is constructed.
type RouterConfig struct {
	APIKey     string
	Agents     *agentregistry.Registry
	Targets    *targetstore.Store
	Aggregator *aggregator.Aggregator
	Cache      *cache.Cache
	Logger     *zap.Logger
	StartedAt  time.Time
}

// NewRouter builds the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	agentHandler := NewAgentHandler(cfg.Agents, cfg.Logger)
	targetHandler := NewTargetHandler(cfg.Targets, cfg.Logger)
	resultHandler := NewResultHandler(cfg.Agents, cfg.Aggregator, cfg.Logger)
	uptimeHandler := NewUptimeHandler(cfg.Aggregator, cfg.Cache, cfg.Logger)

	registerLimiter := rateLimit(rate.Every(time.Second), 5)
	keyAuth := requireAPIKey(cfg.APIKey)

	r.Route("/api", func(r chi.Router) {
		r.With(registerLimiter, keyAuth).Post("/register", agentHandler.Register)
		r.With(keyAuth).Post("/heartbeat", agentHandler.Heartbeat)

		r.Get("/targets", targetHandler.List)
		r.Get("/targets/check-updates", targetHandler.CheckUpdates)
		r.Get("/targets/{id}/uptime", uptimeHandler.TargetWindowUptime)

		r.Post("/results", resultHandler.Submit)
		r.Get("/results", resultHandler.List)

		r.Get("/uptime", uptimeHandler.Uptime)
		r.With(keyAuth).Post("/uptime/reset", uptimeHandler.Reset)
		r.With(keyAuth).Post("/uptime/check", uptimeHandler.ForceCheck)

		r.Get("/latency", uptimeHandler.Latency)
		r.Get("/target-status", uptimeHandler.TargetStatus)
		r.Get("/agents", agentHandler.List)
	})

	r.Handle("/metrics", newMetricsHandler(cfg.Agents, cfg.Targets, cfg.Aggregator, cfg.StartedAt))

	return r
}
