package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerRegistersOperations(t *testing.T) {
	tracker := NewTracker()
	require.False(t, tracker.HasActiveOperations())

	tracker.Start("user-1", "op-1")
	tracker.Start("user-2", "op-2")
	require.True(t, tracker.HasActiveOperations())

	tracker.End("user-1", "op-1")
	require.True(t, tracker.HasActiveOperations())

	tracker.End("user-2", "op-2")
	require.False(t, tracker.HasActiveOperations())
}

func TestTrackerEndOfUnknownOperationIsHarmless(t *testing.T) {
	tracker := NewTracker()
	tracker.End("user-1", "never-started")
	require.False(t, tracker.HasActiveOperations())
}

func TestTrackerLastActivityIsGlobal(t *testing.T) {
	tracker := NewTracker()
	require.Equal(t, neverActive, tracker.TimeSinceLastActivity())

	current := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	tracker.Start("user-1", "op-1")
	current = current.Add(30 * time.Second)
	require.Equal(t, 30*time.Second, tracker.TimeSinceLastActivity())

	// Another user's activity re-stamps the shared clock.
	tracker.Touch()
	require.Equal(t, time.Duration(0), tracker.TimeSinceLastActivity())
}

func TestTrackerExpiresAbandonedOperations(t *testing.T) {
	tracker := NewTracker()

	current := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	// A chunked session starts but the final chunk never arrives.
	tracker.Start("user-1", "op-abandoned")
	require.True(t, tracker.HasActiveOperations())

	current = current.Add(defaultOperationTTL - time.Second)
	require.True(t, tracker.HasActiveOperations())

	current = current.Add(2 * time.Second)
	require.False(t, tracker.HasActiveOperations())
}

func TestTrackerExpiryKeepsFreshOperations(t *testing.T) {
	tracker := NewTracker()

	current := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	tracker.Start("user-1", "op-stale")
	current = current.Add(defaultOperationTTL + time.Minute)
	tracker.Start("user-1", "op-fresh")

	require.True(t, tracker.HasActiveOperations())

	tracker.End("user-1", "op-fresh")
	require.False(t, tracker.HasActiveOperations())
}

func TestTrackerEndInvokesHook(t *testing.T) {
	tracker := NewTracker()
	calls := 0
	tracker.OnEnd(func() { calls++ })

	tracker.Start("user-1", "op-1")
	require.Zero(t, calls)

	tracker.End("user-1", "op-1")
	require.Equal(t, 1, calls)
}
