package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stormmon/storm/shared/types"
)

func TestRegisterSendsAPIKeyAndStoresAgentID(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		require.Equal(t, "/api/register", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "agentId": "agent-3"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", zap.NewNop())
	id, err := c.Register(t.Context(), "probe-1", "us-east")
	require.NoError(t, err)
	require.Equal(t, "agent-3", id)
	require.Equal(t, "secret", gotKey)
	require.Equal(t, "agent-3", c.AgentID())
}

func TestSubmitResultsRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", zap.NewNop())
	err := c.SubmitResults(t.Context(), []types.CheckResult{{TargetID: 1, AgentID: "agent-1", Success: true}})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestSubmitResultsExhaustsRetriesAndReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", zap.NewNop())
	err := c.SubmitResults(t.Context(), []types.CheckResult{{TargetID: 1, AgentID: "agent-1", Success: true}})
	require.Error(t, err)
}

func TestFetchTargetsDoesNotSendAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "targets": []types.Target{}, "lastUpdated": 123})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", zap.NewNop())
	resp, err := c.FetchTargets(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(123), resp.LastUpdated)
}
