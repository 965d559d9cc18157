package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/status"
)

// TestSnapshotRunningIsStatic checks that Running reflects the entry
// being enabled (tracked at all), not whether it currently has a live
// session: an idle, enabled server is still running (spec §4.8).
func TestSnapshotRunningIsStatic(t *testing.T) {
	tr := status.NewTracker([]string{"fs", "git"})

	snap := tr.Snapshot()
	require.Contains(t, snap.Servers, "fs")
	assert.True(t, snap.Servers["fs"].Running)
	assert.Equal(t, int64(0), snap.Servers["fs"].LiveSessions)

	dec := tr.Server("fs").Inc()
	snap = tr.Snapshot()
	assert.True(t, snap.Servers["fs"].Running)
	assert.Equal(t, int64(1), snap.Servers["fs"].LiveSessions)

	dec()
	snap = tr.Snapshot()
	assert.True(t, snap.Servers["fs"].Running)
	assert.Equal(t, int64(0), snap.Servers["fs"].LiveSessions)
}

func TestServerRegistersUnknownNameOnFirstUse(t *testing.T) {
	tr := status.NewTracker(nil)
	dec := tr.Server("late").Inc()
	defer dec()

	snap := tr.Snapshot()
	assert.True(t, snap.Servers["late"].Running)
	assert.Equal(t, int64(1), snap.Servers["late"].LiveSessions)
}

func TestIncDecIsIdempotent(t *testing.T) {
	s := &status.Server{}
	dec := s.Inc()
	dec()
	dec()
	assert.Equal(t, int64(0), s.LiveSessions())
}
