// irq.go - the Interrupt Glue: the single handler for the
// consumer-interrupt source, the only concurrent CPU-side context besides
// the producer thread itself.

package cmdq

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// DownstreamFetchFunc is invoked when SIG0 (the downstream-fence hook,
// e.g. a graphics trace device) is raised.
type DownstreamFetchFunc func()

// interruptGlue reacts to the consumer's interrupt source. It touches
// only the status word, syncpoints_done, and the downstream-fence hook.
type interruptGlue struct {
	status  *StatusWord
	sp      *syncpointEngine
	logger  *zap.Logger
	onFetch DownstreamFetchFunc

	downstreamDone atomic.Uint32
}

func newInterruptGlue(status *StatusWord, sp *syncpointEngine, logger *zap.Logger) *interruptGlue {
	return &interruptGlue{status: status, sp: sp, logger: logger}
}

// Handle runs the interrupt handler's full logic for one interrupt
// occurrence. It never fails.
func (ig *interruptGlue) Handle() {
	if ig.status.Test(BitSyncpoint) {
		ig.status.Clear(BitSyncpoint)
		ig.sp.markDone()
	}
	if ig.status.Test(BitSig0) {
		ig.status.Clear(BitSig0)
		ig.downstreamDone.Add(1)
		if ig.onFetch != nil {
			ig.onFetch()
		}
	}
}

// downstreamReached reports whether the downstream fence has caught up
// to t, using the same wrap-safe signed comparison as syncpoints.
func (ig *interruptGlue) downstreamReached(t uint32) bool {
	return int32(ig.downstreamDone.Load()-t) >= 0
}
