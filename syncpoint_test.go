package cmdq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSyncpointEngine(t *testing.T) (*syncpointEngine, *ringWriter) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SyncpointWaitImpatience = 50
	mem := newMemory(8192)
	var status StatusWord
	rw := newRingWriter(mem, &status, cfg, BitBufDoneLow, nil)
	status.Set(BitBufDoneLow)
	return newSyncpointEngine(cfg, &status, nil), rw
}

func TestSyncpointNewIssuesIncreasingTickets(t *testing.T) {
	sp, rw := testSyncpointEngine(t)
	t1, err := sp.new(rw, false)
	require.NoError(t, err)
	t2, err := sp.new(rw, false)
	require.NoError(t, err)
	require.Equal(t, t1+1, t2)
}

// TestSyncpointMonotonicity is universal property 3.
func TestSyncpointMonotonicity(t *testing.T) {
	sp, _ := testSyncpointEngine(t)
	sp.genid = 5
	sp.markDone()
	sp.markDone()

	require.True(t, sp.check(1))
	require.True(t, sp.check(2))
	require.False(t, sp.check(3))
}

func TestSyncpointNewInsideBlockPanics(t *testing.T) {
	sp, rw := testSyncpointEngine(t)
	DebugAssertions = true
	require.Panics(t, func() { _, _ = sp.new(rw, true) })
}

func TestSyncpointWaitTimesOut(t *testing.T) {
	sp, _ := testSyncpointEngine(t)
	err := sp.wait(1) // nothing will ever mark ticket 1 done
	require.ErrorIs(t, err, ErrSyncpointTimeout)
}

func TestSyncpointWaitReturnsImmediatelyWhenAlreadyReached(t *testing.T) {
	sp, _ := testSyncpointEngine(t)
	sp.genid = 1
	sp.markDone()
	require.NoError(t, sp.wait(1))
}
