// Package agentregistry implements the coordinator's agent registry
// (spec §4.2): an in-memory map of agents indexed by id with a secondary
// index by name, persisted to agents.json on every mutation. Registering
// with a previously-seen name reclaims that agent's id; a brand-new name
// mints the next `agent-<N>`. The only online→offline transition comes
// from the periodic liveness sweep, not from request handling.
package agentregistry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/apperr"
	"github.com/stormmon/storm/server/internal/blobstore"
	"github.com/stormmon/storm/shared/types"
)

// OfflineThreshold is the staleness bound spec §4.2 requires: an agent not
// heartbeated within this long is swept offline.
const OfflineThreshold = 120 * time.Second

// Registry is the coordinator's agent registry.
type Registry struct {
	blob   *blobstore.Store
	logger *zap.Logger

	mu       sync.RWMutex
	byID     map[string]*types.Agent
	byName   map[string]string // name -> id
	nextSeq  int
}

// New loads agents.json (if present) and resets every persisted agent to
// offline, per spec §3: "on coordinator startup every persisted agent is
// reset to offline until it reheartbeats."
func New(path string, logger *zap.Logger) (*Registry, error) {
	blob, err := blobstore.New(path)
	if err != nil {
		return nil, fmt.Errorf("agentregistry: %w", err)
	}
	r := &Registry{
		blob:   blob,
		logger: logger.Named("agentregistry"),
		byID:   make(map[string]*types.Agent),
		byName: make(map[string]string),
	}

	var doc types.AgentSet
	if err := blob.Load(&doc); err != nil {
		return nil, fmt.Errorf("agentregistry: load: %w", err)
	}
	for i := range doc.Agents {
		a := doc.Agents[i]
		a.Status = types.AgentOffline
		cp := a
		r.byID[a.ID] = &cp
		r.byName[a.Name] = a.ID
		if seq := sequenceOf(a.ID); seq > r.nextSeq {
			r.nextSeq = seq
		}
	}
	return r, nil
}

// sequenceOf extracts N from an "agent-<N>" id, or 0 if unparsable.
func sequenceOf(id string) int {
	var n int
	if _, err := fmt.Sscanf(id, "agent-%d", &n); err != nil {
		return 0
	}
	return n
}

// Register reuses the existing id if name has been seen before, otherwise
// mints the next agent-<N>. Marks the agent online and last-seen = now.
func (r *Registry) Register(name, location string) (*types.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, reused := r.byName[name]
	var agent *types.Agent
	if reused {
		agent = r.byID[id]
		agent.Location = location
	} else {
		r.nextSeq++
		id = fmt.Sprintf("agent-%d", r.nextSeq)
		agent = &types.Agent{ID: id, Name: name, Location: location}
		r.byID[id] = agent
		r.byName[name] = id
	}
	agent.Status = types.AgentOnline
	agent.LastSeen = time.Now()

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	out := *agent
	return &out, nil
}

// Heartbeat refreshes last-seen and marks the agent online. Returns
// apperr.ErrUnknownAgent if id is not registered.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.byID[id]
	if !ok {
		return apperr.Wrap(apperr.ErrUnknownAgent, "agent %s", id)
	}
	agent.Status = types.AgentOnline
	agent.LastSeen = time.Now()
	return r.persistLocked()
}

// MustExist returns apperr.ErrUnknownAgent if id is not registered —
// used to validate agentId on result submission.
func (r *Registry) MustExist(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byID[id]; !ok {
		return apperr.Wrap(apperr.ErrUnknownAgent, "agent %s", id)
	}
	return nil
}

// List returns a snapshot of all registered agents.
func (r *Registry) List() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Agent, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, *a)
	}
	return out
}

// SweepLiveness marks offline any agent whose last-seen exceeds
// OfflineThreshold. This is the only online→offline transition, per spec §4.2.
func (r *Registry) SweepLiveness() {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	now := time.Now()
	for _, a := range r.byID {
		if a.Status == types.AgentOnline && now.Sub(a.LastSeen) > OfflineThreshold {
			a.Status = types.AgentOffline
			changed = true
			r.logger.Info("agent swept offline", zap.String("agentId", a.ID), zap.Duration("sinceLastSeen", now.Sub(a.LastSeen)))
		}
	}
	if changed {
		if err := r.persistLocked(); err != nil {
			r.logger.Warn("failed to persist after liveness sweep", zap.Error(err))
		}
	}
}

// persistLocked writes the registry to disk. Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	doc := types.AgentSet{Agents: make([]types.Agent, 0, len(r.byID))}
	for _, a := range r.byID {
		doc.Agents = append(doc.Agents, *a)
	}
	if err := r.blob.Save(doc); err != nil {
		return apperr.Wrap(apperr.ErrIO, "agentregistry persist: %v", err)
	}
	return nil
}
