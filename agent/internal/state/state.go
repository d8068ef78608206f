// Package state persists the agent's local identity across restarts:
// the agent id assigned by the coordinator on registration, and the
// target-set version last seen, so a restart doesn't necessarily force
// re-registration and the target-update poller has a version to compare
// against. The agent still fetches the full target list at startup. Grounded on the
// teacher's connection manager's loadState/saveState pair, adapted from a
// single agent_id field to the small set of fields this agent needs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State is the persisted shape of <state-dir>/agent-state.json.
type State struct {
	AgentID     string    `json:"agentId"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	LastTargets time.Time `json:"lastTargetsVersion"`
}

func filePath(stateDir string) string {
	return filepath.Join(stateDir, "agent-state.json")
}

// Load reads the persisted state from disk. Returns a zero-value State
// (no error) if the file does not yet exist.
func Load(stateDir string) (State, error) {
	data, err := os.ReadFile(filePath(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("state: read: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("state: corrupted state file: %w", err)
	}
	return s, nil
}

// Save writes s to disk atomically via a uuid-suffixed temp file + rename,
// the same pattern the coordinator's blobstore uses.
func Save(stateDir string, s State) error {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return fmt.Errorf("state: create state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	tmpPath := filepath.Join(stateDir, fmt.Sprintf(".agent-state.%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath(stateDir)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}
