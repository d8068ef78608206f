// Package types defines the domain model shared by the Storm coordinator and
// agent: targets, agents, check results, downtime incidents, response-time
// buckets, and the derived consensus status. Both modules import this package
// so that wire payloads (JSON request/response bodies) and persisted records
// share a single set of field names and validation rules.
package types

import (
	"fmt"
	"net/url"
	"time"
)

// ─── Target ──────────────────────────────────────────────────────────────────

// TargetKind is the probe protocol used for a target.
type TargetKind string

const (
	TargetKindHTTP TargetKind = "http"
	TargetKindICMP TargetKind = "icmp"
)

// Target is a network endpoint to be probed. Targets are created, updated,
// and deleted only by reloading (or programmatically editing) the coordinator's
// config file — never implicitly by agents or check results.
type Target struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Kind       TargetKind `json:"kind"`
	Endpoint   string     `json:"endpoint"`
	IntervalMs int64      `json:"intervalMs"`
	TimeoutMs  int64      `json:"timeoutMs"`
}

// Validate checks that the target has all fields required for its kind and
// that the interval/timeout relationship holds. Called by the target
// configuration manager on every load and every programmatic upsert.
func (t *Target) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("target: id must be a positive integer")
	}
	if t.Name == "" {
		return fmt.Errorf("target %d: name is required", t.ID)
	}
	if t.IntervalMs <= 0 {
		return fmt.Errorf("target %d: intervalMs must be > 0", t.ID)
	}
	if t.TimeoutMs <= 0 {
		return fmt.Errorf("target %d: timeoutMs must be > 0", t.ID)
	}
	if t.TimeoutMs > t.IntervalMs {
		return fmt.Errorf("target %d: timeoutMs (%d) must be <= intervalMs (%d)", t.ID, t.TimeoutMs, t.IntervalMs)
	}

	switch t.Kind {
	case TargetKindHTTP:
		if t.Endpoint == "" {
			return fmt.Errorf("target %d: endpoint (URL) is required for kind=http", t.ID)
		}
		u, err := url.Parse(t.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("target %d: endpoint %q is not a valid URL", t.ID, t.Endpoint)
		}
	case TargetKindICMP:
		if t.Endpoint == "" {
			return fmt.Errorf("target %d: endpoint (host) is required for kind=icmp", t.ID)
		}
	default:
		return fmt.Errorf("target %d: unknown kind %q, must be \"http\" or \"icmp\"", t.ID, t.Kind)
	}

	return nil
}

// Interval returns the check interval as a time.Duration.
func (t *Target) Interval() time.Duration { return time.Duration(t.IntervalMs) * time.Millisecond }

// Timeout returns the check timeout as a time.Duration.
func (t *Target) Timeout() time.Duration { return time.Duration(t.TimeoutMs) * time.Millisecond }

// TargetSet is the document shape persisted to data/config/targets.json.
type TargetSet struct {
	Targets []Target `json:"targets"`
}

// ─── Agent ───────────────────────────────────────────────────────────────────

// AgentLiveness is the connection/liveness state of a registered agent.
type AgentLiveness string

const (
	AgentOnline  AgentLiveness = "online"
	AgentOffline AgentLiveness = "offline"
)

// Agent is a remote probing worker known to the coordinator.
type Agent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Location string        `json:"location"`
	Status   AgentLiveness `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
}

// AgentSet is the document shape persisted to data/db/agents.json.
type AgentSet struct {
	Agents []Agent `json:"agents"`
}

// ─── CheckResult ─────────────────────────────────────────────────────────────

// CheckResult is an immutable observation submitted by an agent. It is never
// mutated after submission — the aggregator only ever reads it to update the
// derived state (incidents, buckets, consensus).
type CheckResult struct {
	TargetID       int       `json:"targetId"`
	AgentID        string    `json:"agentId"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	ResponseTimeMs *float64  `json:"responseTimeMs,omitempty"`
	StatusCode     *int      `json:"statusCode,omitempty"`
	ErrorText      string    `json:"errorText,omitempty"`
}

// ResultBatch is the wire shape for POST /api/results.
type ResultBatch struct {
	Results []CheckResult `json:"results"`
}

// ─── DowntimeIncident ────────────────────────────────────────────────────────

// DowntimeIncident is a maximal interval during which the coordinator's
// consensus said a target was down, from one (agent, target, day) perspective.
// EndTime is nil while the incident is open.
type DowntimeIncident struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
}

// Open reports whether the incident has not yet been closed.
func (i *DowntimeIncident) Open() bool { return i.EndTime == nil }

// ─── ResponseTimeBucket ──────────────────────────────────────────────────────

// BucketWidth is the width of a response-time aggregation window.
const BucketWidth = 30 * time.Minute

// ResponseTimeBucket aggregates successful-check response times over a
// 30-minute half-open interval [StartTime, StartTime+BucketWidth), aligned
// to local-day midnight.
type ResponseTimeBucket struct {
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Count       int       `json:"count"`
	AvgResponse float64   `json:"avgResponseTime"`
}

// Fold incorporates one more successful response time into the running mean.
func (b *ResponseTimeBucket) Fold(responseTimeMs float64) {
	b.AvgResponse = (b.AvgResponse*float64(b.Count) + responseTimeMs) / float64(b.Count+1)
	b.Count++
}

// ─── DailyDowntimeRecord ─────────────────────────────────────────────────────

// IncidentState is the per-(agent,target,day) up/down state machine state.
type IncidentState string

const (
	StateUp   IncidentState = "up"
	StateDown IncidentState = "down"
)

// DailyDowntimeRecord is keyed by (agentId, targetId, date) and holds the
// closed-incident history, cumulative closed downtime, response-time
// buckets, and the current up/down state for that day.
//
// IsDown is a cache, not a source of truth: it always equals State() ==
// StateDown. A new incident opens on this record when the global
// consensus is down, this record is up, AND this record's own agent is
// among the agents currently reporting the target down; it closes only when this
// record's own agent individually reports up again, independent of
// whether global consensus has already flipped back — see the aggregator
// package's resolution of spec.md §9's open question.
type DailyDowntimeRecord struct {
	Date                  string               `json:"date"`
	DowntimeMs            int64                `json:"downtimeMs"`
	Incidents             []DowntimeIncident   `json:"incidents"`
	ResponseTimeIntervals []ResponseTimeBucket `json:"responseTimeIntervals"`
	IsDown                bool                 `json:"isDown"`
}

// State derives the current incident-machine state from the record:
// down iff the last incident (if any) is still open.
func (r *DailyDowntimeRecord) State() IncidentState {
	if len(r.Incidents) == 0 {
		return StateUp
	}
	last := &r.Incidents[len(r.Incidents)-1]
	if last.Open() {
		return StateDown
	}
	return StateUp
}

// ─── TargetStatus (derived, in-memory) ──────────────────────────────────────

// TargetStatus is the coordinator's derived, rebuildable consensus view of a
// single target: which agents are currently reporting it, whether each
// considers it down, and the fused isDown verdict.
type TargetStatus struct {
	TargetID        int             `json:"targetId"`
	IsDown          bool            `json:"isDown"`
	AgentsReporting map[string]bool `json:"agentReports"` // agentId -> reportedDown
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// MinAgentsForDowntime is the default consensus threshold (spec.md §4.3):
// when two or more agents report on a target, at least this many must agree
// it is down before the coordinator declares consensus-down.
const MinAgentsForDowntime = 2

// Consensus computes isDown from a target's agent report map per spec.md
// §4.3 step 4: a lone reporter is authoritative; two or more require a
// quorum of MinAgentsForDowntime.
func Consensus(agentsReporting map[string]bool) bool {
	if len(agentsReporting) == 1 {
		for _, down := range agentsReporting {
			return down
		}
	}
	down := 0
	for _, d := range agentsReporting {
		if d {
			down++
		}
	}
	return down >= MinAgentsForDowntime
}

// ─── Registration / heartbeat wire shapes ───────────────────────────────────

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Validate checks that the registration payload is well-formed.
func (r *RegisterRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("register: name is required")
	}
	return nil
}

// RegisterResponse is the payload of a successful registration.
type RegisterResponse struct {
	AgentID  string `json:"agentId"`
	ServerID string `json:"serverId"`
}
