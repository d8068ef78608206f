package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/httpx"
	"github.com/stormmon/storm/server/internal/targetstore"
)

// TargetHandler serves the target-list and change-check routes agents poll.
type TargetHandler struct {
	store  *targetstore.Store
	logger *zap.Logger
}

// NewTargetHandler creates a TargetHandler.
func NewTargetHandler(store *targetstore.Store, logger *zap.Logger) *TargetHandler {
	return &TargetHandler{store: store, logger: logger.Named("target_handler")}
}

// List handles GET /api/targets.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	targets, lastUpdated := h.store.List()
	httpx.Ok(w, map[string]any{
		"targets":     targets,
		"lastUpdated": lastUpdated.UnixMilli(),
	})
}

// CheckUpdates handles GET /api/targets/check-updates?lastChecked=N.
func (h *TargetHandler) CheckUpdates(w http.ResponseWriter, r *http.Request) {
	_, lastUpdated := h.store.List()

	var hasUpdates bool
	if raw := r.URL.Query().Get("lastChecked"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.ErrStatus(w, http.StatusBadRequest, "lastChecked must be a unix millisecond timestamp")
			return
		}
		hasUpdates = lastUpdated.UnixMilli() > ms
	} else {
		hasUpdates = true
	}

	httpx.Ok(w, map[string]any{
		"hasUpdates":  hasUpdates,
		"lastUpdated": lastUpdated.UnixMilli(),
	})
}
