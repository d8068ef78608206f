package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stormmon/storm/server/internal/agentregistry"
	"github.com/stormmon/storm/server/internal/aggregator"
	"github.com/stormmon/storm/server/internal/targetstore"
)

// newMetricsHandler builds the GET /metrics endpoint (spec §6): a
// Prometheus exposition of agent/target counts and process uptime, wired
// through a dedicated registry so the coordinator's process metrics don't
// pull in the default registry's full Go runtime collector set.
func newMetricsHandler(agents *agentregistry.Registry, targets *targetstore.Store, agg *aggregator.Aggregator, startedAt time.Time) http.Handler {
	reg := prometheus.NewRegistry()

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storm_agents_total",
		Help: "Number of agents known to the coordinator.",
	}, func() float64 { return float64(len(agents.List())) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storm_agents_online",
		Help: "Number of agents currently reporting online.",
	}, func() float64 {
		online := 0
		for _, a := range agents.List() {
			if a.Status == "online" {
				online++
			}
		}
		return float64(online)
	})

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storm_targets_total",
		Help: "Number of configured monitoring targets.",
	}, func() float64 {
		ts, _ := targets.List()
		return float64(len(ts))
	})

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storm_targets_down",
		Help: "Number of targets currently in consensus-down state.",
	}, func() float64 {
		down := 0
		for _, s := range agg.GetAllTargetStatuses() {
			if s.IsDown {
				down++
			}
		}
		return float64(down)
	})

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storm_process_uptime_seconds",
		Help: "Seconds since the coordinator process started.",
	}, func() float64 { return time.Since(startedAt).Seconds() })

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
