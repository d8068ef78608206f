package aggregator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stormmon/storm/shared/types"
)

type fakeAlerter struct {
	messages []string
}

func (f *fakeAlerter) Alert(message string, targetID *int, agentID *string) {
	f.messages = append(f.messages, message)
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate() { f.calls++ }

func newTestAggregator(t *testing.T) (*Aggregator, *fakeAlerter) {
	t.Helper()
	alerter := &fakeAlerter{}
	a, err := New(filepath.Join(t.TempDir(), "results.json"), alerter, &fakeInvalidator{}, zap.NewNop())
	require.NoError(t, err)
	return a, alerter
}

func respTime(ms float64) *float64 { return &ms }

// S1 Single-agent outage.
func TestScenarioS1SingleAgentOutage(t *testing.T) {
	a, _ := newTestAggregator(t)
	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local)

	submit := func(offsetMs int, success bool) {
		require.NoError(t, a.Submit(types.CheckResult{
			TargetID: 1, AgentID: "agent-1",
			Timestamp: base.Add(time.Duration(offsetMs) * time.Millisecond),
			Success:   success,
		}))
	}
	submit(0, true)
	submit(1000, false)
	submit(2000, false)
	submit(3000, true)

	rec := a.lookupRecord("agent-1", 1, dayKey(base))
	require.NotNil(t, rec)
	require.Len(t, rec.Incidents, 1)
	require.Equal(t, base.Add(1000*time.Millisecond), rec.Incidents[0].StartTime)
	require.NotNil(t, rec.Incidents[0].EndTime)
	require.Equal(t, base.Add(3000*time.Millisecond), *rec.Incidents[0].EndTime)
	require.Equal(t, int64(2000), rec.DowntimeMs)
}

// S2 Flaky minority.
func TestScenarioS2FlakyMinority(t *testing.T) {
	a, _ := newTestAggregator(t)
	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	require.NoError(t, a.Submit(types.CheckResult{TargetID: 2, AgentID: "A", Timestamp: at(0), Success: true}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 2, AgentID: "B", Timestamp: at(0), Success: true}))

	require.NoError(t, a.Submit(types.CheckResult{TargetID: 2, AgentID: "A", Timestamp: at(10000), Success: false}))
	statusAfter10k := a.GetAllTargetStatuses()
	require.False(t, statusAfter10k[0].IsDown, "consensus must stay up with only one of two agents down")
	require.Nil(t, a.lookupRecord("A", 2, dayKey(base)).Incidents, "no incident should open yet")

	require.NoError(t, a.Submit(types.CheckResult{TargetID: 2, AgentID: "B", Timestamp: at(20000), Success: false}))
	recA := a.lookupRecord("A", 2, dayKey(base))
	recB := a.lookupRecord("B", 2, dayKey(base))
	require.Len(t, recA.Incidents, 1, "A's record must open an incident when B's report flips consensus down")
	require.Len(t, recB.Incidents, 1)
	require.Equal(t, at(20000), recA.Incidents[0].StartTime)
	require.Equal(t, at(20000), recB.Incidents[0].StartTime)

	require.NoError(t, a.Submit(types.CheckResult{TargetID: 2, AgentID: "A", Timestamp: at(30000), Success: true}))
	recA = a.lookupRecord("A", 2, dayKey(base))
	recB = a.lookupRecord("B", 2, dayKey(base))
	require.NotNil(t, recA.Incidents[0].EndTime, "A's incident must close when A reports up")
	require.Equal(t, at(30000), *recA.Incidents[0].EndTime)
	require.Nil(t, recB.Incidents[0].EndTime, "B's incident must remain open until B itself reports up")
}

// S5 Consensus uptime fusion.
func TestScenarioS5ConsensusUptimeFusion(t *testing.T) {
	a, _ := newTestAggregator(t)
	windowStart := time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local)

	at := func(min int) time.Time { return windowStart.Add(time.Duration(min) * time.Minute) }

	// Agent A down [0,20min), agent B down [10,30min), agent C never down.
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 7, AgentID: "A", Timestamp: at(0), Success: false}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 7, AgentID: "B", Timestamp: at(10), Success: true}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 7, AgentID: "C", Timestamp: at(0), Success: true}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 7, AgentID: "B", Timestamp: at(10), Success: false}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 7, AgentID: "A", Timestamp: at(20), Success: true}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 7, AgentID: "B", Timestamp: at(30), Success: true}))

	pct := a.fusedUptimePctLocked(7, windowStart, windowStart.Add(time.Hour))
	require.InDelta(t, 83.33, pct, 0.5)
}

func TestResponseTimeBucketFolding(t *testing.T) {
	a, _ := newTestAggregator(t)
	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local)

	require.NoError(t, a.Submit(types.CheckResult{TargetID: 1, AgentID: "agent-1", Timestamp: base, Success: true, ResponseTimeMs: respTime(100)}))
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 1, AgentID: "agent-1", Timestamp: base.Add(time.Minute), Success: true, ResponseTimeMs: respTime(200)}))

	rec := a.lookupRecord("agent-1", 1, dayKey(base))
	require.Len(t, rec.ResponseTimeIntervals, 1)
	require.Equal(t, 2, rec.ResponseTimeIntervals[0].Count)
	require.InDelta(t, 150, rec.ResponseTimeIntervals[0].AvgResponse, 0.001)
}

func TestResetUptimeDataClearsEverything(t *testing.T) {
	a, _ := newTestAggregator(t)
	require.NoError(t, a.Submit(types.CheckResult{TargetID: 1, AgentID: "agent-1", Timestamp: time.Now(), Success: false}))
	require.NoError(t, a.ResetUptimeData())
	require.Empty(t, a.GetAllTargetStatuses())
}
