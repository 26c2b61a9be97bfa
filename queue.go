// queue.go - Queue ties the Status Word, Ring Writer, Overlay Registry,
// Block Recorder, Priority Switcher, Syncpoint Engine, Deferred Call
// List and Interrupt Glue into the public producer-facing API.

package cmdq

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ABIVersion identifies the command/overlay ABI this build of cmdq
// speaks. Overlay images built against a different version are rejected
// at registration.
const ABIVersion = 1

// Stats are read-only counters surfaced for monitoring, a plain
// snapshot struct rather than an interactive monitor.
type Stats struct {
	LowRotations     uint64
	HighRotations    uint64
	SyncpointsIssued uint32
	SyncpointsDone   uint32
	DeferredPending  int
}

// Queue is the lockless producer/consumer command queue. Its methods
// are the CPU-side producer API; the consumer side is out of scope and
// represented only by the Dispatcher Contract in dispatch.go.
type Queue struct {
	cfg    Config
	logger *zap.Logger

	mem    *memory
	status StatusWord

	lowRing  *ringWriter
	highRing *ringWriter

	overlays *overlayRegistry
	blocks   *blockRecorder
	priority *prioritySwitcher
	sp       *syncpointEngine
	irq      *interruptGlue
	deferred deferredList

	// producerMu serializes CPU-side producer calls. A single CPU
	// producer thread is assumed; this guards embedders that share a
	// Queue across goroutines without enforcing that discipline
	// themselves.
	producerMu sync.Mutex

	// insideBlock tracks whether the active writer is currently
	// redirected into a block recording, for the misuse assertions that
	// make syncpoint/deferred calls illegal mid-block.
	insideBlock bool

	deferredCount int
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithLogger attaches a zap logger for diagnostics. Without one, cmdq
// logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue with the given configuration.
func New(cfg Config, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(q)
	}

	q.mem = newMemory(defaultMemoryWords)
	q.lowRing = newRingWriter(q.mem, &q.status, cfg, BitBufDoneLow, q.logger)
	q.highRing = newRingWriter(q.mem, &q.status, cfg, BitBufDoneHigh, q.logger)
	q.overlays = newOverlayRegistry(cfg, ABIVersion, q.mem, q.logger)
	q.blocks = newBlockRecorder(q.mem, cfg)
	q.priority = newPrioritySwitcher(q.highRing, &q.status, cfg)
	q.sp = newSyncpointEngine(cfg, &q.status, q.logger)
	q.irq = newInterruptGlue(&q.status, q.sp, q.logger)

	return q, nil
}

// activeRing returns whichever ring the producer is currently targeting.
func (q *Queue) activeRing() *ringWriter {
	if q.priority.active {
		return q.highRing
	}
	return q.lowRing
}

// Close releases the queue. There is nothing to flush to disk (cmdq
// never persists queue state across resets); Close exists so embedders
// have a symmetric lifecycle hook.
func (q *Queue) Close() {}

// Noop writes a single NOOP command.
func (q *Queue) Noop() error {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	return q.activeRing().writeWords([]uint32{commandKey(Overlay0, opNoop)})
}

// Flush writes "more data pending" into the status word twice, ~10 CPU
// cycles apart, so a consumer that reads the status immediately before
// halting still observes it.
func (q *Queue) Flush() {
	q.status.Set(BitMorePending)
	q.activeRing().wakeConsumer()
	time.Sleep(10 * time.Nanosecond)
	q.status.Set(BitMorePending)
	q.activeRing().wakeConsumer()
}

// Wait flushes, then polls until both buffer-done bits are set, that is,
// until the consumer has passed the most recent rotation terminator of
// each ring. It does not wait for the consumer to reach the current write
// position, and it does not look at the deferred list. This is a
// diagnostic/test convenience, not part of the hot path.
func (q *Queue) Wait() error {
	q.Flush()
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Microsecond,
		RandomizationFactor: 0.1,
		Multiplier:          1.5,
		MaxInterval:         time.Millisecond,
	}
	b.Reset()
	for i := 0; i < q.cfg.RingStuckImpatience; i++ {
		if q.status.Test(BitBufDoneLow) && q.status.Test(BitBufDoneHigh) {
			return nil
		}
		time.Sleep(b.NextBackOff())
	}

	if q.logger != nil {
		snap, err := q.Snapshot().Encode()
		if err == nil {
			q.logger.Error("wait() gave up waiting for both rings to drain",
				zap.Int("snapshot_bytes", len(snap)),
				zap.Uint32("status", q.status.Load()),
			)
		}
	}
	return ErrRingStuck
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	return Stats{
		LowRotations:     q.lowRing.rotations,
		HighRotations:    q.highRing.rotations,
		SyncpointsIssued: q.sp.genid,
		SyncpointsDone:   q.sp.done.Load(),
		DeferredPending:  q.deferredCount,
	}
}

// LowPriorityDoorbell returns the channel a harness selects on to learn
// the producer wants the consumer's attention on the low-priority ring.
func (q *Queue) LowPriorityDoorbell() <-chan struct{} { return q.lowRing.wakeCh }

// HighPriorityDoorbell is the high-priority ring's analogue of
// LowPriorityDoorbell.
func (q *Queue) HighPriorityDoorbell() <-chan struct{} { return q.highRing.wakeCh }

// HandleInterrupt runs the Interrupt Glue for one interrupt occurrence.
// An embedder wires this to the real coprocessor-interrupt source.
func (q *Queue) HandleInterrupt() { q.irq.Handle() }

// --- Overlay Registry -------------------------------------------------

// OverlayRegister finds free dispatch-table slots automatically and
// returns the overlay ID shifted into the top 4 bits of a 32-bit word,
// so callers can OR it with a localIndex<<24 to build full command keys.
func (q *Queue) OverlayRegister(img OverlayImage) (uint32, error) {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	id, err := q.overlays.register(img, -1, q.activeRing())
	if err != nil {
		return 0, err
	}
	return uint32(id) << 28, nil
}

// OverlayRegisterStatic registers an overlay at a caller-pinned ID.
func (q *Queue) OverlayRegisterStatic(img OverlayImage, id byte) error {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	_, err := q.overlays.register(img, int(id), q.activeRing())
	return err
}

// OverlayUnregister frees an overlay's dispatch-table slots.
func (q *Queue) OverlayUnregister(id byte) error {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	return q.overlays.unregister(id, q.activeRing())
}

// OverlayGetState returns the live address of a region within an
// overlay's data image, validated to fall inside that image.
func (q *Queue) OverlayGetState(id byte, offset, size uint32) (uint32, error) {
	return q.overlays.getState(id, offset, size)
}

// CommandWord combines a base (e.g. the value returned by
// OverlayRegister) with a local command index to build a command key.
func CommandWord(base uint32, localIndex byte) uint32 {
	return base | uint32(localIndex)<<24
}

// --- Block Recorder -----------------------------------------------------

// BlockBegin starts recording commands into a new block instead of the
// active ring.
func (q *Queue) BlockBegin() {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	assertf(!q.priority.active, "block_begin during high-priority recording is unsupported")
	q.blocks.begin(q.activeRing())
	q.insideBlock = true
}

// BlockEnd closes the current recording and returns a handle.
func (q *Queue) BlockEnd() Block {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	h := q.blocks.end(q.activeRing())
	q.insideBlock = false
	return h
}

// BlockRun invokes a previously recorded block via CALL.
func (q *Queue) BlockRun(h Block) error {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	assertf(!q.priority.active, "block_run during high-priority is unsupported")
	return q.blocks.run(q.activeRing(), h)
}

// BlockFree releases a block's chunk chain back to the shared arena.
func (q *Queue) BlockFree(h Block) error {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	return q.blocks.free(h)
}

// --- Priority Switcher --------------------------------------------------

// HighPriBegin redirects the producer to the high-priority ring.
func (q *Queue) HighPriBegin() {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	q.priority.begin()
}

// HighPriEnd returns the producer to the low-priority ring.
func (q *Queue) HighPriEnd() error {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	return q.priority.end()
}

// HighPriSync spin-waits until the high-priority segment has fully drained.
func (q *Queue) HighPriSync() {
	q.priority.sync()
}

// --- Syncpoint Engine -----------------------------------------------------

// SyncpointNew issues a new ticket into the active stream.
func (q *Queue) SyncpointNew() (uint32, error) {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	return q.sp.new(q.activeRing(), q.insideBlock)
}

// SyncpointCheck reports whether ticket t has been reached.
func (q *Queue) SyncpointCheck(t uint32) bool {
	return q.sp.check(t)
}

// SyncpointWait blocks until ticket t has been reached.
func (q *Queue) SyncpointWait(t uint32) error {
	if q.sp.check(t) {
		return nil
	}
	q.Flush()
	return q.sp.wait(t)
}

// --- Deferred Call List ---------------------------------------------------

// CallDeferred issues a syncpoint and appends a callback to run once it
// is reached.
func (q *Queue) CallDeferred(cb DeferredFunc, arg any) (uint32, error) {
	return q.callDeferred(cb, arg, false)
}

// CallDeferredAfterDownstream is CallDeferred's analogue gated
// additionally on the downstream fence.
func (q *Queue) CallDeferredAfterDownstream(cb DeferredFunc, arg any) (uint32, error) {
	return q.callDeferred(cb, arg, true)
}

func (q *Queue) callDeferred(cb DeferredFunc, arg any, waitsForDownstream bool) (uint32, error) {
	q.producerMu.Lock()
	assertf(!q.insideBlock, "deferred call registered inside a block")
	q.producerMu.Unlock()

	t, err := q.SyncpointNew()
	if err != nil {
		return 0, fmt.Errorf("cmdq: call_deferred: %w", err)
	}

	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	q.deferred.append(&deferredEntry{cb: cb, arg: arg, sync: t, waitsForDownstream: waitsForDownstream})
	q.deferredCount++
	return t, nil
}

// Poll drains at most one ready deferred callback. It must be called
// from the same thread that calls CallDeferred.
func (q *Queue) Poll() bool {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()
	nonEmpty := q.deferred.poll(q.sp.check, q.irq.downstreamReached)
	q.deferredCount = q.countDeferred()
	return nonEmpty
}

func (q *Queue) countDeferred() int {
	n := 0
	for e := q.deferred.head; e != nil; e = e.next {
		n++
	}
	return n
}
