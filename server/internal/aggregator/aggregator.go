// Package aggregator implements the coordinator's results aggregator and
// incident engine (spec §4.3) — the heart of the system. It turns a stream
// of submitted CheckResults into per-(agent,target,day) downtime records,
// 30-minute response-time buckets, and a derived multi-agent consensus
// status per target, and answers the downtime/latency/uptime queries built
// on top of that state.
package aggregator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/apperr"
	"github.com/stormmon/storm/server/internal/blobstore"
	"github.com/stormmon/storm/shared/types"
)

// Alerter fires a best-effort notification on a status transition.
// Implementations must never block or return an error to the aggregator —
// spec §4.5 requires alert failures to be swallowed.
type Alerter interface {
	Alert(message string, targetID *int, agentID *string)
}

// Invalidator is notified whenever submitted results change derived state,
// so a TTL read cache in front of the aggregator's queries can drop stale
// entries (spec §5: "MUST be invalidated on any result submission").
type Invalidator interface {
	Invalidate()
}

// resultsDoc mirrors data/db/results.json's shape exactly:
// agentId -> targetId -> dateYYYYMMDD -> DailyDowntimeRecord.
type resultsDoc map[string]map[string]map[string]types.DailyDowntimeRecord

// Aggregator holds the coordinator's persisted downtime/latency state and
// the derived in-memory consensus map. Mutating operations serialize
// through mu; reads take the read lock (spec §5).
type Aggregator struct {
	blob   *blobstore.Store
	logger *zap.Logger
	alert  Alerter
	cache  Invalidator

	mu sync.RWMutex
	// records[agentId][targetId][dateYYYY-MM-DD] is the authoritative record.
	records map[string]map[int]map[string]*types.DailyDowntimeRecord
	// statuses[targetId] is the derived, rebuildable consensus view.
	statuses map[int]*types.TargetStatus
}

// New loads results.json (if present) and rebuilds the in-memory consensus
// map from it.
func New(path string, alert Alerter, cache Invalidator, logger *zap.Logger) (*Aggregator, error) {
	blob, err := blobstore.New(path)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	a := &Aggregator{
		blob:     blob,
		logger:   logger.Named("aggregator"),
		alert:    alert,
		cache:    cache,
		records:  make(map[string]map[int]map[string]*types.DailyDowntimeRecord),
		statuses: make(map[int]*types.TargetStatus),
	}

	var doc resultsDoc
	if err := blob.Load(&doc); err != nil {
		return nil, fmt.Errorf("aggregator: load: %w", err)
	}
	for agentID, byTarget := range doc {
		for targetKey, byDate := range byTarget {
			var targetID int
			if _, err := fmt.Sscanf(targetKey, "%d", &targetID); err != nil {
				continue
			}
			for _, rec := range byDate {
				r := rec
				a.putRecordLocked(agentID, targetID, &r)
			}
		}
	}
	a.rebuildStatusesLocked()
	return a, nil
}

func (a *Aggregator) putRecordLocked(agentID string, targetID int, rec *types.DailyDowntimeRecord) {
	byTarget, ok := a.records[agentID]
	if !ok {
		byTarget = make(map[int]map[string]*types.DailyDowntimeRecord)
		a.records[agentID] = byTarget
	}
	byDate, ok := byTarget[targetID]
	if !ok {
		byDate = make(map[string]*types.DailyDowntimeRecord)
		byTarget[targetID] = byDate
	}
	byDate[rec.Date] = rec
}

// rebuildStatusesLocked derives TargetStatus.agentsReporting from each
// agent's most recent daily record per target, then recomputes consensus.
// Caller must hold a.mu.
func (a *Aggregator) rebuildStatusesLocked() {
	a.statuses = make(map[int]*types.TargetStatus)
	for agentID, byTarget := range a.records {
		for targetID, byDate := range byTarget {
			latest := latestRecord(byDate)
			if latest == nil {
				continue
			}
			status := a.statusForLocked(targetID)
			status.AgentsReporting[agentID] = latest.State() == types.StateDown
		}
	}
	for targetID, status := range a.statuses {
		status.IsDown = types.Consensus(status.AgentsReporting)
		_ = targetID
	}
}

func latestRecord(byDate map[string]*types.DailyDowntimeRecord) *types.DailyDowntimeRecord {
	var best *types.DailyDowntimeRecord
	for _, r := range byDate {
		if best == nil || r.Date > best.Date {
			best = r
		}
	}
	return best
}

// statusForLocked returns (creating if needed) the TargetStatus for targetID.
// Caller must hold a.mu.
func (a *Aggregator) statusForLocked(targetID int) *types.TargetStatus {
	status, ok := a.statuses[targetID]
	if !ok {
		status = &types.TargetStatus{
			TargetID:        targetID,
			AgentsReporting: make(map[string]bool),
		}
		a.statuses[targetID] = status
	}
	return status
}

// dayKey returns the local-zone "YYYY-MM-DD" date string used as the
// in-memory and persisted-field key for a timestamp.
func dayKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// bucketBounds returns the 30-minute half-open window containing t, aligned
// to local-day midnight: [start, start+30min).
func bucketBounds(t time.Time) (time.Time, time.Time) {
	local := t.Local()
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	elapsed := local.Sub(midnight)
	idx := elapsed / types.BucketWidth
	start := midnight.Add(idx * types.BucketWidth)
	return start, start.Add(types.BucketWidth)
}

// Submit runs one CheckResult through the full aggregator pipeline (spec
// §4.3 steps 1–6) and persists the result.
//
// Step 5's state machine is driven per reporting agent, not just the
// submitting one: when a consensus-down threshold is newly met, every
// agent currently reporting this target down opens an incident at once
// (S2: a single agent's submission can flip consensus and open incidents
// on two different agents' daily records in the same step). Closing is
// local to the agent whose own report flips back to up, independent of
// the other agents' reports — S2's agent B stays down in its own record
// until B itself reports up, even after the global consensus has already
// flipped back to up because of agent A alone.
func (a *Aggregator) Submit(result types.CheckResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	date := dayKey(result.Timestamp)
	record := a.recordFor(result.AgentID, result.TargetID, date)

	// Step 2: fold successful response times into their 30-minute bucket.
	if result.Success && result.ResponseTimeMs != nil {
		start, end := bucketBounds(result.Timestamp)
		bucket := findOrCreateBucket(record, start, end)
		bucket.Fold(*result.ResponseTimeMs)
	}

	// Step 3: update this agent's report for the target.
	status := a.statusForLocked(result.TargetID)
	status.AgentsReporting[result.AgentID] = !result.Success

	// Step 4: re-evaluate consensus.
	consensusDown := types.Consensus(status.AgentsReporting)
	status.IsDown = consensusDown
	status.LastUpdated = time.Now()

	// Step 5: drive the per-agent incident state machine.
	if consensusDown {
		for agentID, down := range status.AgentsReporting {
			if !down {
				continue
			}
			rec := a.recordFor(agentID, result.TargetID, date)
			if rec.State() == types.StateUp {
				rec.Incidents = append(rec.Incidents, types.DowntimeIncident{StartTime: result.Timestamp})
				rec.IsDown = true
				agentID := agentID
				a.alert.Alert(fmt.Sprintf("target %d is DOWN (reported by %s)", result.TargetID, agentID), &result.TargetID, &agentID)
			}
		}
	}
	for agentID, down := range status.AgentsReporting {
		if down {
			continue
		}
		rec := a.lookupRecord(agentID, result.TargetID, date)
		if rec == nil || rec.State() != types.StateDown {
			continue
		}
		last := &rec.Incidents[len(rec.Incidents)-1]
		end := result.Timestamp
		// Tie-break (spec §4.3): never let a late, out-of-arrival-order
		// result rewind the incident timeline behind its own start.
		if end.Before(last.StartTime) {
			end = last.StartTime
		}
		last.EndTime = &end
		rec.DowntimeMs += int64(end.Sub(last.StartTime) / time.Millisecond)
		rec.IsDown = false
		agentID := agentID
		a.alert.Alert(fmt.Sprintf("target %d recovered (reported by %s)", result.TargetID, agentID), &result.TargetID, &agentID)
	}

	if err := a.persistLocked(); err != nil {
		return err
	}
	a.cache.Invalidate()
	return nil
}

// recordFor returns (creating if needed) the daily record for
// (agentID, targetID, date). Caller must hold a.mu.
func (a *Aggregator) recordFor(agentID string, targetID int, date string) *types.DailyDowntimeRecord {
	byTarget, ok := a.records[agentID]
	if !ok {
		byTarget = make(map[int]map[string]*types.DailyDowntimeRecord)
		a.records[agentID] = byTarget
	}
	byDate, ok := byTarget[targetID]
	if !ok {
		byDate = make(map[string]*types.DailyDowntimeRecord)
		byTarget[targetID] = byDate
	}
	record, ok := byDate[date]
	if !ok {
		record = &types.DailyDowntimeRecord{Date: date}
		byDate[date] = record
	}
	return record
}

// lookupRecord returns the existing daily record for (agentID, targetID,
// date), or nil if none has been created yet. Caller must hold a.mu.
func (a *Aggregator) lookupRecord(agentID string, targetID int, date string) *types.DailyDowntimeRecord {
	byTarget, ok := a.records[agentID]
	if !ok {
		return nil
	}
	byDate, ok := byTarget[targetID]
	if !ok {
		return nil
	}
	return byDate[date]
}

func findOrCreateBucket(record *types.DailyDowntimeRecord, start, end time.Time) *types.ResponseTimeBucket {
	for i := range record.ResponseTimeIntervals {
		if record.ResponseTimeIntervals[i].StartTime.Equal(start) {
			return &record.ResponseTimeIntervals[i]
		}
	}
	record.ResponseTimeIntervals = append(record.ResponseTimeIntervals, types.ResponseTimeBucket{StartTime: start, EndTime: end})
	return &record.ResponseTimeIntervals[len(record.ResponseTimeIntervals)-1]
}

// persistLocked writes the full records map to results.json. Caller must
// hold a.mu.
func (a *Aggregator) persistLocked() error {
	doc := make(resultsDoc, len(a.records))
	for agentID, byTarget := range a.records {
		targetDoc := make(map[string]map[string]types.DailyDowntimeRecord, len(byTarget))
		for targetID, byDate := range byTarget {
			dateDoc := make(map[string]types.DailyDowntimeRecord, len(byDate))
			for _, rec := range byDate {
				dateDoc[denseDate(rec.Date)] = *rec
			}
			targetDoc[fmt.Sprintf("%d", targetID)] = dateDoc
		}
		doc[agentID] = targetDoc
	}
	if err := a.blob.Save(doc); err != nil {
		return apperr.Wrap(apperr.ErrIO, "aggregator persist: %v", err)
	}
	return nil
}

// denseDate converts "YYYY-MM-DD" to "YYYYMMDD" for the persisted key, per
// spec §6's results.json layout.
func denseDate(dashed string) string {
	out := make([]byte, 0, 8)
	for _, r := range dashed {
		if r != '-' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

// ResetUptimeData clears the persisted store and every in-memory map.
func (a *Aggregator) ResetUptimeData() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = make(map[string]map[int]map[string]*types.DailyDowntimeRecord)
	a.statuses = make(map[int]*types.TargetStatus)
	if err := a.persistLocked(); err != nil {
		return err
	}
	a.cache.Invalidate()
	return nil
}

// GetAllTargetStatuses returns a snapshot of the derived consensus map.
func (a *Aggregator) GetAllTargetStatuses() []types.TargetStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]types.TargetStatus, 0, len(a.statuses))
	for _, s := range a.statuses {
		cp := *s
		cp.AgentsReporting = make(map[string]bool, len(s.AgentsReporting))
		for k, v := range s.AgentsReporting {
			cp.AgentsReporting[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// ReevaluateStatus recomputes consensus for targetID (or every target if
// targetID is nil) from the current agentsReporting map, without waiting
// for a new CheckResult. Used by POST /api/uptime/check.
func (a *Aggregator) ReevaluateStatus(targetID *int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, status := range a.statuses {
		if targetID != nil && id != *targetID {
			continue
		}
		status.IsDown = types.Consensus(status.AgentsReporting)
		status.LastUpdated = time.Now()
	}
	a.cache.Invalidate()
}

// DailyDowntimeTotal is one target's downtime contribution for a single
// agent on the queried date, used by getDailyDowntimeSummary.
type DailyDowntimeTotal struct {
	IsDown          bool
	DowntimeMs      int64
	UptimePercentage float64
	AvgResponseTime float64
	AgentReports    map[string]bool
}

// GetDailyDowntimeSummary returns, for every (agentId, targetId) pair with
// a record on date, the closed downtime plus any still-open incident's
// contribution up to now (spec §4.3 query definition).
func (a *Aggregator) GetDailyDowntimeSummary(date string) map[string]map[int]DailyDowntimeTotal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]map[int]DailyDowntimeTotal)
	now := time.Now()
	for agentID, byTarget := range a.records {
		for targetID, byDate := range byTarget {
			record, ok := byDate[date]
			if !ok {
				continue
			}
			downtime := record.DowntimeMs
			if len(record.Incidents) > 0 {
				last := record.Incidents[len(record.Incidents)-1]
				if last.Open() {
					downtime += int64(now.Sub(last.StartTime) / time.Millisecond)
				}
			}
			var avg float64
			var totalCount int
			for _, b := range record.ResponseTimeIntervals {
				avg += b.AvgResponse * float64(b.Count)
				totalCount += b.Count
			}
			if totalCount > 0 {
				avg /= float64(totalCount)
			}

			const dayMs = 24 * 60 * 60 * 1000
			uptimePct := 100 * (1 - float64(downtime)/float64(dayMs))
			if uptimePct < 0 {
				uptimePct = 0
			}

			if out[agentID] == nil {
				out[agentID] = make(map[int]DailyDowntimeTotal)
			}
			out[agentID][targetID] = DailyDowntimeTotal{
				IsDown:           record.IsDown,
				DowntimeMs:       downtime,
				UptimePercentage: round2(uptimePct),
				AvgResponseTime:  avg,
				AgentReports:     a.reportsSnapshot(targetID),
			}
		}
	}
	return out
}

func (a *Aggregator) reportsSnapshot(targetID int) map[string]bool {
	status, ok := a.statuses[targetID]
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(status.AgentsReporting))
	for k, v := range status.AgentsReporting {
		out[k] = v
	}
	return out
}

// GetRawResults returns the persisted daily records matching the given
// optional agentId/targetId/date filters, in the same three-level tree
// shape as results.json, for GET /api/results.
func (a *Aggregator) GetRawResults(agentID *string, targetID *int, date *string) map[string]map[int]map[string]types.DailyDowntimeRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]map[int]map[string]types.DailyDowntimeRecord)
	for aID, byTarget := range a.records {
		if agentID != nil && aID != *agentID {
			continue
		}
		for tID, byDate := range byTarget {
			if targetID != nil && tID != *targetID {
				continue
			}
			for d, rec := range byDate {
				if date != nil && d != *date {
					continue
				}
				if out[aID] == nil {
					out[aID] = make(map[int]map[string]types.DailyDowntimeRecord)
				}
				if out[aID][tID] == nil {
					out[aID][tID] = make(map[string]types.DailyDowntimeRecord)
				}
				out[aID][tID][d] = *rec
			}
		}
	}
	return out
}

// GetResponseTimeAverages returns the 30-minute buckets matching the given
// optional targetId/date filters, keyed by targetId.
func (a *Aggregator) GetResponseTimeAverages(targetID *int, date *string) map[int][]types.ResponseTimeBucket {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[int][]types.ResponseTimeBucket)
	for _, byTarget := range a.records {
		for tID, byDate := range byTarget {
			if targetID != nil && tID != *targetID {
				continue
			}
			for d, rec := range byDate {
				if date != nil && d != *date {
					continue
				}
				out[tID] = append(out[tID], rec.ResponseTimeIntervals...)
			}
		}
	}
	for tID := range out {
		sort.Slice(out[tID], func(i, j int) bool {
			return out[tID][i].StartTime.Before(out[tID][j].StartTime)
		})
	}
	return out
}

// UptimeWindows is the day/week/month/year percentage set returned by
// getUptimePercentages.
type UptimeWindows struct {
	Day   float64
	Week  float64
	Month float64
	Year  float64
}

// GetUptimePercentages computes the fused multi-agent uptime percentage for
// targetID over the four standard windows ending now (spec §4.3's
// multi-agent uptime fusion algorithm).
func (a *Aggregator) GetUptimePercentages(targetID int) UptimeWindows {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := time.Now()
	return UptimeWindows{
		Day:   a.fusedUptimePctLocked(targetID, now.Add(-24*time.Hour), now),
		Week:  a.fusedUptimePctLocked(targetID, now.Add(-7*24*time.Hour), now),
		Month: a.fusedUptimePctLocked(targetID, now.Add(-30*24*time.Hour), now),
		Year:  a.fusedUptimePctLocked(targetID, now.Add(-365*24*time.Hour), now),
	}
}

type boundaryEvent struct {
	at    time.Time
	delta int
}

// fusedUptimePctLocked implements spec §4.3's multi-agent uptime fusion:
// gather every agent's incidents for targetID intersecting [start,end),
// sweep a +1/-1 boundary-event timeline, and accumulate elapsed time while
// MIN_AGENTS_FOR_DOWNTIME or more agents are concurrently down. Caller must
// hold at least a.mu.RLock.
func (a *Aggregator) fusedUptimePctLocked(targetID int, start, end time.Time) float64 {
	var events []boundaryEvent
	observed := false

	for _, byTarget := range a.records {
		byDate, ok := byTarget[targetID]
		if !ok {
			continue
		}
		for _, record := range byDate {
			for _, inc := range record.Incidents {
				incStart := inc.StartTime
				incEnd := end
				if inc.EndTime != nil {
					incEnd = *inc.EndTime
				}
				if incEnd.Before(start) || incStart.After(end) {
					continue
				}
				observed = true
				if incStart.Before(start) {
					incStart = start
				}
				if incEnd.After(end) {
					incEnd = end
				}
				if !incStart.Before(incEnd) {
					continue
				}
				events = append(events, boundaryEvent{at: incStart, delta: 1}, boundaryEvent{at: incEnd, delta: -1})
			}
			// A record existing for this window at all counts as "observed"
			// even with zero incidents, since it means the agent reported.
			if record.Date >= dayKey(start) && record.Date <= dayKey(end) {
				observed = true
			}
		}
	}

	if !observed {
		return 100
	}

	sort.Slice(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	var fusedDowntime time.Duration
	concurrentDown := 0
	var prev time.Time
	for i, ev := range events {
		if i > 0 && concurrentDown >= types.MinAgentsForDowntime {
			fusedDowntime += ev.at.Sub(prev)
		}
		concurrentDown += ev.delta
		prev = ev.at
	}

	window := end.Sub(start)
	if window <= 0 {
		return 100
	}
	pct := 100 * (1 - float64(fusedDowntime)/float64(window))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return round2(pct)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
