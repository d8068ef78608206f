package targetstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/shared/types"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

func writeTargets(t *testing.T, path string, doc types.TargetSet) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewStartsWithEmptySetWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "targets.json"), testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	targets, _ := s.List()
	if len(targets) != 0 {
		t.Fatalf("expected empty set, got %d targets", len(targets))
	}
}

func TestLoadValidatesAndExposesTargets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.json")
	writeTargets(t, path, types.TargetSet{Targets: []types.Target{
		{ID: 1, Name: "a", Kind: types.TargetKindHTTP, Endpoint: "http://example.com", IntervalMs: 1000, TimeoutMs: 500},
	}})

	s, err := New(path, testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	targets, _ := s.List()
	if len(targets) != 1 || targets[0].ID != 1 {
		t.Fatalf("got %+v", targets)
	}
}

func TestUpsertPersistsAndBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "targets.json"), testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_, v0 := s.List()
	time.Sleep(time.Millisecond)

	target := types.Target{ID: 1, Name: "a", Kind: types.TargetKindICMP, Endpoint: "h", IntervalMs: 1000, TimeoutMs: 500}
	if err := s.Upsert(target); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok := s.Get(1)
	if !ok || got.Name != "a" {
		t.Fatalf("Get after upsert: %+v, ok=%v", got, ok)
	}
	if !s.HasChangesSince(v0) {
		t.Fatal("expected version to have advanced after upsert")
	}
}

func TestDeleteRemovesTarget(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "targets.json"), testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	target := types.Target{ID: 1, Name: "a", Kind: types.TargetKindICMP, Endpoint: "h", IntervalMs: 1000, TimeoutMs: 500}
	if err := s.Upsert(target); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(1); ok {
		t.Fatal("expected target to be gone after Delete")
	}
}

func TestUpsertRejectsInvalidTarget(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "targets.json"), testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	err = s.Upsert(types.Target{ID: 1, Name: "a", Kind: types.TargetKindHTTP, IntervalMs: 1000, TimeoutMs: 500})
	if err == nil {
		t.Fatal("expected validation error for missing http endpoint")
	}
}
