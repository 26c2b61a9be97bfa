package cmdq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeferredListOrdering(t *testing.T) {
	var dl deferredList
	var ran []string

	dl.append(&deferredEntry{cb: func(arg any) { ran = append(ran, arg.(string)) }, arg: "a", sync: 1})
	dl.append(&deferredEntry{cb: func(arg any) { ran = append(ran, arg.(string)) }, arg: "b", sync: 2})

	reached := func(t uint32) bool { return t <= 2 }
	downstream := func(uint32) bool { return true }

	require.True(t, dl.poll(reached, downstream))
	require.False(t, dl.poll(reached, downstream))
	require.False(t, dl.poll(reached, downstream))
	require.Equal(t, []string{"a", "b"}, ran)
}

func TestDeferredListStopsAtUnreachedEntry(t *testing.T) {
	var dl deferredList
	ranCount := 0

	dl.append(&deferredEntry{cb: func(any) { ranCount++ }, sync: 1})
	dl.append(&deferredEntry{cb: func(any) { ranCount++ }, sync: 5})

	reached := func(t uint32) bool { return t <= 1 }
	dl.poll(reached, func(uint32) bool { return true })
	dl.poll(reached, func(uint32) bool { return true }) // second poll: first entry already gone, second unreached

	require.Equal(t, 1, ranCount)
}

// TestDeferredListDownstreamFenceSkip is S6: callback A waits only on its
// syncpoint; callback B additionally waits on the downstream fence. While
// the downstream fence lags, poll() runs A but skips B; once it catches
// up, the next poll() runs B.
func TestDeferredListDownstreamFenceSkip(t *testing.T) {
	var dl deferredList
	var ran []string

	dl.append(&deferredEntry{cb: func(arg any) { ran = append(ran, arg.(string)) }, arg: "A", sync: 1})
	dl.append(&deferredEntry{cb: func(arg any) { ran = append(ran, arg.(string)) }, arg: "B", sync: 2, waitsForDownstream: true})

	reached := func(uint32) bool { return true }
	downstreamLagging := func(uint32) bool { return false }

	dl.poll(reached, downstreamLagging)
	require.Equal(t, []string{"A"}, ran, "A has no downstream requirement and should run; B should be skipped")

	downstreamCaughtUp := func(uint32) bool { return true }
	dl.poll(reached, downstreamCaughtUp)
	require.Equal(t, []string{"A", "B"}, ran)
}
