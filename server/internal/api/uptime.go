package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/aggregator"
	"github.com/stormmon/storm/server/internal/cache"
	"github.com/stormmon/storm/server/internal/httpx"
)

// UptimeHandler serves the derived aggregate queries: uptime, latency,
// target-status, per-target window percentages, and the two admin actions
// (store reset, forced consensus re-evaluation).
type UptimeHandler struct {
	agg    *aggregator.Aggregator
	cache  *cache.Cache
	logger *zap.Logger
}

// NewUptimeHandler creates an UptimeHandler.
func NewUptimeHandler(agg *aggregator.Aggregator, cache *cache.Cache, logger *zap.Logger) *UptimeHandler {
	return &UptimeHandler{agg: agg, cache: cache, logger: logger.Named("uptime_handler")}
}

// targetUptime is one target's entry in the GET /api/uptime response.
type targetUptime struct {
	IsDown           bool            `json:"isDown"`
	DowntimeMs       int64           `json:"downtimeMs"`
	UptimePercentage float64         `json:"uptimePercentage"`
	AvgResponseTime  float64         `json:"avgResponseTime"`
	AgentReports     map[string]bool `json:"agentReports"`
}

// Uptime handles GET /api/uptime?targetId?&date?.
func (h *UptimeHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Local().Format("2006-01-02")
	}
	var targetFilter *int
	if v := r.URL.Query().Get("targetId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			httpx.ErrStatus(w, http.StatusBadRequest, "targetId must be an integer")
			return
		}
		targetFilter = &id
	}

	cacheKey := "uptime:" + date
	if cached, ok := h.cache.Get(cacheKey); ok {
		h.writeUptime(w, cached.(map[int]targetUptime), date, targetFilter)
		return
	}

	summary := h.agg.GetDailyDowntimeSummary(date)

	combined := make(map[int]targetUptime)
	counts := make(map[int]int)
	for _, byTarget := range summary {
		for targetID, total := range byTarget {
			cur, ok := combined[targetID]
			if !ok {
				cur = targetUptime{AgentReports: total.AgentReports}
			}
			cur.IsDown = cur.IsDown || total.IsDown
			if total.DowntimeMs > cur.DowntimeMs {
				cur.DowntimeMs = total.DowntimeMs
			}
			cur.UptimePercentage = 100 * (1 - float64(cur.DowntimeMs)/float64(24*60*60*1000))
			if cur.UptimePercentage < 0 {
				cur.UptimePercentage = 0
			}
			// An agent with no response-time data for the day reports 0 and
			// is left out of the average.
			if total.AvgResponseTime > 0 {
				cur.AvgResponseTime += total.AvgResponseTime
				counts[targetID]++
			}
			combined[targetID] = cur
		}
	}
	for targetID, cur := range combined {
		if n := counts[targetID]; n > 0 {
			cur.AvgResponseTime /= float64(n)
		}
		combined[targetID] = cur
	}

	h.cache.Set(cacheKey, combined)
	h.writeUptime(w, combined, date, targetFilter)
}

func (h *UptimeHandler) writeUptime(w http.ResponseWriter, combined map[int]targetUptime, date string, targetFilter *int) {
	results := make(map[int]targetUptime, len(combined))
	for targetID, v := range combined {
		if targetFilter != nil && targetID != *targetFilter {
			continue
		}
		results[targetID] = v
	}
	httpx.Ok(w, map[string]any{"results": results, "date": date})
}

// Latency handles GET /api/latency?targetId?&date?.
func (h *UptimeHandler) Latency(w http.ResponseWriter, r *http.Request) {
	var targetFilter *int
	if v := r.URL.Query().Get("targetId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			httpx.ErrStatus(w, http.StatusBadRequest, "targetId must be an integer")
			return
		}
		targetFilter = &id
	}
	var dateFilter *string
	if v := r.URL.Query().Get("date"); v != "" {
		dateFilter = &v
	}

	cacheKey := "latency:" + r.URL.Query().Get("targetId") + ":" + r.URL.Query().Get("date")
	if cached, ok := h.cache.Get(cacheKey); ok {
		httpx.Ok(w, cached.(map[string]any))
		return
	}

	buckets := h.agg.GetResponseTimeAverages(targetFilter, dateFilter)

	type point struct {
		Timestamp time.Time `json:"timestamp"`
		Value     float64   `json:"value"`
	}
	latencyData := make(map[int][]point, len(buckets))
	for targetID, bs := range buckets {
		points := make([]point, 0, len(bs))
		for _, b := range bs {
			points = append(points, point{Timestamp: b.StartTime, Value: b.AvgResponse})
		}
		latencyData[targetID] = points
	}

	fields := map[string]any{"latencyData": latencyData}
	h.cache.Set(cacheKey, fields)
	httpx.Ok(w, fields)
}

// TargetStatus handles GET /api/target-status.
func (h *UptimeHandler) TargetStatus(w http.ResponseWriter, r *http.Request) {
	cacheKey := "target-status"
	if cached, ok := h.cache.Get(cacheKey); ok {
		httpx.Ok(w, cached.(map[string]any))
		return
	}

	statuses := h.agg.GetAllTargetStatuses()
	up, down := 0, 0
	for _, s := range statuses {
		if s.IsDown {
			down++
		} else {
			up++
		}
	}

	fields := map[string]any{
		"currentStatus": statuses,
		"summary": map[string]int{
			"total": len(statuses),
			"up":    up,
			"down":  down,
		},
	}
	h.cache.Set(cacheKey, fields)
	httpx.Ok(w, fields)
}

// TargetWindowUptime handles GET /api/targets/:id/uptime.
func (h *UptimeHandler) TargetWindowUptime(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		httpx.ErrStatus(w, http.StatusBadRequest, "target id must be an integer")
		return
	}

	windows := h.agg.GetUptimePercentages(id)
	httpx.Ok(w, map[string]any{
		"uptime": map[string]float64{
			"day":   windows.Day,
			"week":  windows.Week,
			"month": windows.Month,
			"year":  windows.Year,
		},
	})
}

// Reset handles POST /api/uptime/reset.
func (h *UptimeHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.agg.ResetUptimeData(); err != nil {
		h.logger.Error("failed to reset uptime data", zap.Error(err))
		httpx.Err(w, err)
		return
	}
	httpx.Ok(w, nil)
}

// ForceCheck handles POST /api/uptime/check?targetId?.
func (h *UptimeHandler) ForceCheck(w http.ResponseWriter, r *http.Request) {
	var targetFilter *int
	if v := r.URL.Query().Get("targetId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			httpx.ErrStatus(w, http.StatusBadRequest, "targetId must be an integer")
			return
		}
		targetFilter = &id
	}
	h.agg.ReevaluateStatus(targetFilter)
	httpx.Ok(w, nil)
}
