// syncpoint.go - the Syncpoint Engine: a monotonically increasing
// ticket issued into the command stream and observed via interrupt on
// the consumer side.

package cmdq

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// syncpointEngine issues tickets and tracks how many have completed.
// genid is producer-only (no concurrent writers); done is written only by
// the Interrupt Glue and read by anyone, so it is a plain atomic word,
// sufficient so long as the compiler is prevented from caching it.
type syncpointEngine struct {
	cfg    Config
	status *StatusWord
	logger *zap.Logger

	genid uint32
	done  atomic.Uint32
}

func newSyncpointEngine(cfg Config, status *StatusWord, logger *zap.Logger) *syncpointEngine {
	return &syncpointEngine{cfg: cfg, status: status, logger: logger}
}

// new writes a TEST_WRITE_STATUS command that makes the consumer wait for
// SIG_SYNCPOINT to be clear (so a prior syncpoint interrupt is always
// acknowledged before a new one is raised, preventing ticket loss) and
// then sets SYNCPOINT|INTR, and returns the newly issued ticket.
func (sp *syncpointEngine) new(rw *ringWriter, insideBlock bool) (uint32, error) {
	assertf(!insideBlock, "syncpoint created inside a block")

	setMask := uint32(BitSyncpoint | BitIntr)
	waitMask := uint32(BitSyncpoint)
	if err := rw.writeWords([]uint32{
		commandKey(Overlay0, opTestWriteStatus),
		setMask,
		waitMask,
	}); err != nil {
		return 0, err
	}
	sp.genid++
	return sp.genid, nil
}

// check compares with wrap-safe signed 32-bit subtraction: t has been
// reached once done - t, interpreted as int32, is >= 0.
func (sp *syncpointEngine) check(t uint32) bool {
	done := sp.done.Load()
	return int32(done-t) >= 0
}

// markDone is called by the Interrupt Glue on each SYNCPOINT interrupt.
func (sp *syncpointEngine) markDone() {
	sp.done.Add(1)
}

// wait blocks (busy-polling with backoff) until t has been reached. A
// caller is expected to have flushed before calling this, since the
// consumer will never raise the interrupt for a syncpoint it hasn't
// fetched yet.
func (sp *syncpointEngine) wait(t uint32) error {
	if sp.check(t) {
		return nil
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Microsecond,
		RandomizationFactor: 0.1,
		Multiplier:          1.5,
		MaxInterval:         time.Millisecond,
	}
	b.Reset()

	for i := 0; i < sp.cfg.SyncpointWaitImpatience; i++ {
		if sp.check(t) {
			return nil
		}
		time.Sleep(b.NextBackOff())
	}

	if sp.logger != nil {
		sp.logger.Error("syncpoint_wait impatient",
			zap.Uint32("ticket", t),
			zap.Uint32("done", sp.done.Load()),
		)
	}
	return ErrSyncpointTimeout
}
