package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stormmon/storm/shared/types"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	results []types.CheckResult
}

func (f *fakeSubmitter) SubmitResults(_ context.Context, results []types.CheckResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
	return nil
}

func (f *fakeSubmitter) AgentID() string { return "agent-1" }

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func TestScheduleRunsImmediateFirstCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Storm/probe-1", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := &fakeSubmitter{}
	m, err := New("probe-1", sub, zap.NewNop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	target := types.Target{ID: 1, Name: "t1", Kind: types.TargetKindHTTP, Endpoint: srv.URL, IntervalMs: 60_000, TimeoutMs: 5_000}
	require.NoError(t, m.Schedule([]types.Target{target}))

	require.Eventually(t, func() bool { return sub.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduleRemovesDroppedTargets(t *testing.T) {
	sub := &fakeSubmitter{}
	m, err := New("probe-1", sub, zap.NewNop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	t1 := types.Target{ID: 1, Name: "t1", Kind: types.TargetKindHTTP, Endpoint: "http://127.0.0.1:1", IntervalMs: 60_000, TimeoutMs: 1_000}
	require.NoError(t, m.Schedule([]types.Target{t1}))
	require.Len(t, m.jobTags, 1)

	require.NoError(t, m.Schedule(nil))
	require.Len(t, m.jobTags, 0)
}

func TestRescheduleSameTargetIDPicksUpEndpointChange(t *testing.T) {
	var endpointMu sync.Mutex
	lastEndpointHit := ""
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpointMu.Lock()
		lastEndpointHit = "A"
		endpointMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpointMu.Lock()
		lastEndpointHit = "B"
		endpointMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srvB.Close()

	sub := &fakeSubmitter{}
	m, err := New("probe-1", sub, zap.NewNop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	targetA := types.Target{ID: 1, Name: "t1", Kind: types.TargetKindHTTP, Endpoint: srvA.URL, IntervalMs: 60_000, TimeoutMs: 5_000}
	require.NoError(t, m.Schedule([]types.Target{targetA}))
	require.Eventually(t, func() bool {
		endpointMu.Lock()
		defer endpointMu.Unlock()
		return lastEndpointHit == "A"
	}, 2*time.Second, 10*time.Millisecond)

	// Same target ID, different endpoint: must be picked up, not skipped.
	targetB := types.Target{ID: 1, Name: "t1", Kind: types.TargetKindHTTP, Endpoint: srvB.URL, IntervalMs: 30_000, TimeoutMs: 5_000}
	require.NoError(t, m.Schedule([]types.Target{targetB}))
	require.Eventually(t, func() bool {
		endpointMu.Lock()
		defer endpointMu.Unlock()
		return lastEndpointHit == "B"
	}, 2*time.Second, 10*time.Millisecond)
}
