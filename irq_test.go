package cmdq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterruptGlueMarksSyncpointDone(t *testing.T) {
	var status StatusWord
	sp := newSyncpointEngine(DefaultConfig(), &status, nil)
	ig := newInterruptGlue(&status, sp, nil)

	status.Set(BitSyncpoint)
	ig.Handle()

	require.False(t, status.Test(BitSyncpoint))
	require.Equal(t, uint32(1), sp.done.Load())
}

func TestInterruptGlueInvokesFetchOnSig0(t *testing.T) {
	var status StatusWord
	sp := newSyncpointEngine(DefaultConfig(), &status, nil)
	ig := newInterruptGlue(&status, sp, nil)

	fetched := false
	ig.onFetch = func() { fetched = true }

	status.Set(BitSig0)
	ig.Handle()

	require.False(t, status.Test(BitSig0))
	require.True(t, fetched)
	require.Equal(t, uint32(1), ig.downstreamDone.Load())
}

func TestInterruptGlueDownstreamReachedWrapSafe(t *testing.T) {
	var status StatusWord
	sp := newSyncpointEngine(DefaultConfig(), &status, nil)
	ig := newInterruptGlue(&status, sp, nil)

	ig.downstreamDone.Store(0xFFFFFFFE)
	require.True(t, ig.downstreamReached(0xFFFFFFFE))
	require.False(t, ig.downstreamReached(0))
	ig.downstreamDone.Store(1) // wrapped past 0xFFFFFFFF
	require.True(t, ig.downstreamReached(0))
}

func TestInterruptGlueHandlesNoSignalsQuietly(t *testing.T) {
	var status StatusWord
	sp := newSyncpointEngine(DefaultConfig(), &status, nil)
	ig := newInterruptGlue(&status, sp, nil)
	ig.Handle() // must not panic or change anything
	require.Equal(t, uint32(0), status.Load())
}
