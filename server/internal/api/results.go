package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/agentregistry"
	"github.com/stormmon/storm/server/internal/aggregator"
	"github.com/stormmon/storm/server/internal/httpx"
	"github.com/stormmon/storm/shared/types"
)

// ResultHandler serves check-result submission and the raw results query.
type ResultHandler struct {
	registry *agentregistry.Registry
	agg      *aggregator.Aggregator
	logger   *zap.Logger
}

// NewResultHandler creates a ResultHandler.
func NewResultHandler(registry *agentregistry.Registry, agg *aggregator.Aggregator, logger *zap.Logger) *ResultHandler {
	return &ResultHandler{registry: registry, agg: agg, logger: logger.Named("result_handler")}
}

// Submit handles POST /api/results.
func (h *ResultHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var batch types.ResultBatch
	if !httpx.DecodeJSON(w, r, &batch) {
		return
	}

	for _, result := range batch.Results {
		if err := h.registry.MustExist(result.AgentID); err != nil {
			h.logger.Warn("rejecting result from unknown agent", zap.String("agentId", result.AgentID))
			httpx.Err(w, err)
			return
		}
		if result.Timestamp.IsZero() {
			result.Timestamp = time.Now()
		}
		if err := h.agg.Submit(result); err != nil {
			h.logger.Error("failed to submit result", zap.Int("targetId", result.TargetID), zap.String("agentId", result.AgentID), zap.Error(err))
			httpx.Err(w, err)
			return
		}
	}

	httpx.Ok(w, map[string]any{"accepted": len(batch.Results)})
}

// List handles GET /api/results?agentId&targetId&date.
func (h *ResultHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var agentID *string
	if v := q.Get("agentId"); v != "" {
		agentID = &v
	}
	var targetID *int
	if v := q.Get("targetId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			httpx.ErrStatus(w, http.StatusBadRequest, "targetId must be an integer")
			return
		}
		targetID = &id
	}
	var date *string
	if v := q.Get("date"); v != "" {
		date = &v
	}

	httpx.Ok(w, map[string]any{"results": h.agg.GetRawResults(agentID, targetID, date)})
}
