// harness.go - a simulation driver pairing a Queue's producer side with
// the software Dispatcher Contract model (dispatch.go), so tests and
// cmd/cmdqctl can exercise rotation, preemption and syncpoint behaviour
// without real coprocessor hardware. Grounded in the coordinator's
// errgroup.WithContext pattern for running a goroutine pair with
// first-error propagation and cancellation.

package cmdq

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Harness runs a producer function against a two software consumer
// walkers (low and high priority) until the producer signals done or the
// context is cancelled.
type Harness struct {
	q       *Queue
	lowCm   *consumerModel
	highCm  *consumerModel
	onNoop  func()
	stepCap int
}

// NewHarness builds a harness over q. stepCap bounds how many commands the
// consumer model runs per doorbell wakeup, so a runaway producer can't
// make the harness spin forever inside a single step call.
func NewHarness(q *Queue, stepCap int) *Harness {
	h := &Harness{q: q, stepCap: stepCap}
	h.lowCm = newConsumerModel(q.mem, &q.status, q.lowRing.activeAddr)
	h.highCm = newConsumerModel(q.mem, &q.status, q.highRing.activeAddr)
	h.lowCm.NoopHook = func() {
		if h.onNoop != nil {
			h.onNoop()
		}
	}
	h.highCm.NoopHook = h.lowCm.NoopHook
	h.lowCm.Exec = func(key uint32, words []uint32) int { return 1 }
	h.highCm.Exec = h.lowCm.Exec
	return h
}

// OnNoop registers a callback invoked once per NOOP either consumer model
// executes, so tests can count consumed commands.
func (h *Harness) OnNoop(f func()) { h.onNoop = f }

// Run starts the consumer-model loop in a background goroutine via
// errgroup, driven by the queue's doorbells, and calls produce on the
// calling goroutine. It returns once produce returns and the consumer
// has drained everything produce wrote, or ctx is cancelled.
func (h *Harness) Run(ctx context.Context, produce func(q *Queue) error) error {
	wg, ctx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	wg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
				h.drain()
				return nil
			case <-h.q.LowPriorityDoorbell():
				h.lowCm.step(h.stepCap)
			case <-h.q.HighPriorityDoorbell():
				h.highCm.step(h.stepCap)
			}
		}
	})

	produceErr := produce(h.q)
	close(done)

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return produceErr
}

// drain runs both consumer models to quiescence after the producer is
// done, so a harness caller doesn't need its own polling loop.
func (h *Harness) drain() {
	for {
		n1 := h.lowCm.step(h.stepCap)
		n2 := h.highCm.step(h.stepCap)
		if n1 == 0 && n2 == 0 {
			return
		}
	}
}
