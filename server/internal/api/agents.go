package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/agentregistry"
	"github.com/stormmon/storm/server/internal/httpx"
	"github.com/stormmon/storm/shared/types"
)

// AgentHandler serves the registration, heartbeat, and agent-listing routes.
type AgentHandler struct {
	registry *agentregistry.Registry
	logger   *zap.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(registry *agentregistry.Registry, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{registry: registry, logger: logger.Named("agent_handler")}
}

// Register handles POST /api/register.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httpx.ErrStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := h.registry.Register(req.Name, req.Location)
	if err != nil {
		h.logger.Error("register failed", zap.Error(err))
		httpx.Err(w, err)
		return
	}

	httpx.Ok(w, map[string]any{
		"agentId":  agent.ID,
		"serverId": "storm-coordinator",
	})
}

// Heartbeat handles POST /api/heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("x-agent-id")
	if agentID == "" {
		httpx.ErrStatus(w, http.StatusBadRequest, "x-agent-id header is required")
		return
	}

	if err := h.registry.Heartbeat(agentID); err != nil {
		httpx.Err(w, err)
		return
	}

	httpx.Ok(w, map[string]any{"timestamp": time.Now().UTC()})
}

// List handles GET /api/agents.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	httpx.Ok(w, map[string]any{"agents": h.registry.List()})
}
