package types

import (
	"testing"
	"time"
)

func TestTargetValidate(t *testing.T) {
	cases := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"valid http", Target{ID: 1, Name: "a", Kind: TargetKindHTTP, Endpoint: "http://example.com", IntervalMs: 1000, TimeoutMs: 500}, false},
		{"valid icmp", Target{ID: 1, Name: "a", Kind: TargetKindICMP, Endpoint: "example.com", IntervalMs: 1000, TimeoutMs: 1000}, false},
		{"timeout exceeds interval", Target{ID: 1, Name: "a", Kind: TargetKindICMP, Endpoint: "h", IntervalMs: 1000, TimeoutMs: 1001}, true},
		{"missing http endpoint", Target{ID: 1, Name: "a", Kind: TargetKindHTTP, IntervalMs: 1000, TimeoutMs: 500}, true},
		{"bad http url", Target{ID: 1, Name: "a", Kind: TargetKindHTTP, Endpoint: "not-a-url", IntervalMs: 1000, TimeoutMs: 500}, true},
		{"unknown kind", Target{ID: 1, Name: "a", Kind: "tcp", Endpoint: "h", IntervalMs: 1000, TimeoutMs: 500}, true},
		{"zero id", Target{ID: 0, Name: "a", Kind: TargetKindICMP, Endpoint: "h", IntervalMs: 1000, TimeoutMs: 500}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.target.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestConsensusSingleAgentAuthoritative(t *testing.T) {
	if !Consensus(map[string]bool{"agent-1": true}) {
		t.Fatal("single agent reporting down must be authoritative")
	}
	if Consensus(map[string]bool{"agent-1": false}) {
		t.Fatal("single agent reporting up must be authoritative")
	}
}

func TestConsensusMultiAgentQuorum(t *testing.T) {
	// A=2, D=1: below MinAgentsForDowntime, stays up.
	if Consensus(map[string]bool{"a": true, "b": false}) {
		t.Fatal("one of two agents down should not flip consensus")
	}
	// A=2, D=2: quorum met.
	if !Consensus(map[string]bool{"a": true, "b": true}) {
		t.Fatal("two of two agents down should flip consensus")
	}
}

func TestResponseTimeBucketFold(t *testing.T) {
	var b ResponseTimeBucket
	b.Fold(100)
	b.Fold(200)
	if b.Count != 2 {
		t.Fatalf("count = %d, want 2", b.Count)
	}
	if b.AvgResponse != 150 {
		t.Fatalf("avg = %v, want 150", b.AvgResponse)
	}
}

func TestDailyDowntimeRecordState(t *testing.T) {
	r := DailyDowntimeRecord{}
	if r.State() != StateUp {
		t.Fatal("empty record must be up")
	}

	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	r.Incidents = append(r.Incidents, DowntimeIncident{StartTime: start})
	if r.State() != StateDown {
		t.Fatal("record with an open incident must be down")
	}

	end := start.Add(5 * time.Minute)
	r.Incidents[0].EndTime = &end
	if r.State() != StateUp {
		t.Fatal("record with only closed incidents must be up")
	}
}
