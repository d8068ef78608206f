package agentregistry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/apperr"
	"github.com/stormmon/storm/shared/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "agents.json"), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRegisterMintsSequentialIDs(t *testing.T) {
	r := newTestRegistry(t)

	a1, err := r.Register("eu-1", "EU")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	a2, err := r.Register("us-1", "US")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a1.ID != "agent-1" || a2.ID != "agent-2" {
		t.Fatalf("got ids %s, %s", a1.ID, a2.ID)
	}
}

func TestRegisterReclaimsIDByName(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Register("eu-1", "EU")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := r.Register("eu-1", "EU")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected reclaimed id, got %s then %s", first.ID, second.ID)
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Heartbeat("agent-999")
	if !errors.Is(err, apperr.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestSweepLivenessMarksOfflineOnly(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Register("eu-1", "EU")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.mu.Lock()
	r.byID[a.ID].LastSeen = time.Now().Add(-OfflineThreshold - time.Second)
	r.mu.Unlock()

	r.SweepLiveness()

	agents := r.List()
	if len(agents) != 1 || agents[0].Status != types.AgentOffline {
		t.Fatalf("expected agent swept offline, got %+v", agents)
	}
}

func TestNewResetsLoadedAgentsToOffline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")

	r1, err := New(path, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r1.Register("eu-1", "EU"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r2, err := New(path, zap.NewNop())
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	agents := r2.List()
	if len(agents) != 1 || agents[0].Status != types.AgentOffline {
		t.Fatalf("expected reloaded agent offline, got %+v", agents)
	}
}
