package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, State{}, s)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := State{AgentID: "agent-7", Name: "probe-1", Location: "us-east", LastTargets: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, Save(dir, want))

	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, want.AgentID, got.AgentID)
	require.Equal(t, want.Name, got.Name)
	require.True(t, want.LastTargets.Equal(got.LastTargets))
}
