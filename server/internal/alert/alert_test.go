package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAlertNoopWhenURLUnset(t *testing.T) {
	s := New("", "", zap.NewNop())
	s.Alert("hello", nil, nil)
}

func TestAlertPostsSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var gotSig string
	var gotBody payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Storm-Signature")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.URL, "supersecret", zap.NewNop())
	targetID := 5
	agentID := "agent-1"
	s.Alert("target 5 is DOWN", &targetID, &agentID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotBody.Message != ""
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "target 5 is DOWN", gotBody.Message)
	require.NotNil(t, gotBody.TargetID)
	require.Equal(t, 5, *gotBody.TargetID)
	require.Contains(t, gotSig, "sha256=")
}
