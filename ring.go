// ring.go - the Ring Writer: a CPU-side double-buffered writer with
// sentinel-based overflow detection. The same cursor
// (activeBuf/writePtr/sentinel) is reused, with a swappable overflow
// strategy, by the Block Recorder (block.go) when it redirects writes
// into a growable chunk chain instead of the double buffer.

package cmdq

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// overflowFunc runs when a reservation would cross the current sentinel.
// The ring's own implementation rotates the double buffer; the Block
// Recorder installs one that grows the chunk chain instead.
type overflowFunc func(rw *ringWriter, need uint32) error

// ringWriter is the shared cursor + overflow machinery used directly for
// the low/high-priority rings and redirected into block chunks while
// recording.
type ringWriter struct {
	mem    *memory
	status *StatusWord
	cfg    Config
	logger *zap.Logger
	wakeCh chan struct{}

	// bufDoneBit is the ping-pong synchronization bit this ring's
	// rotation waits on and re-arms (BitBufDoneLow or BitBufDoneHigh).
	bufDoneBit StatusBit

	// Double-buffer backing storage; index by activeIdx.
	bufAddr   [2]uint32
	buf       [2][]uint32
	activeIdx int

	// Cursor into the *current* backing buffer, which is buf[activeIdx]
	// in normal ring mode but a block chunk while recording.
	activeBuf  []uint32
	activeAddr uint32
	writePtr   uint32
	sentinel   uint32

	onOverflow overflowFunc

	rotations uint64
}

func newRingWriter(mem *memory, status *StatusWord, cfg Config, bufDoneBit StatusBit, logger *zap.Logger) *ringWriter {
	rw := &ringWriter{
		mem:        mem,
		status:     status,
		cfg:        cfg,
		logger:     logger,
		wakeCh:     make(chan struct{}, 1),
		bufDoneBit: bufDoneBit,
	}
	for i := 0; i < 2; i++ {
		addr, buf := mem.alloc(cfg.RingWords)
		rw.bufAddr[i] = addr
		rw.buf[i] = buf
	}
	rw.activeIdx = 0
	rw.activeBuf = rw.buf[0]
	rw.activeAddr = rw.bufAddr[0]
	rw.sentinel = cfg.RingWords - cfg.RingSentinelMargin
	rw.onOverflow = (*ringWriter).rotateRing
	// The non-active buffer starts "done" so the very first rotation
	// doesn't have to wait on a consumer that has never run.
	status.Set(bufDoneBit)
	return rw
}

// wakeConsumer posts a non-blocking doorbell notification. In a real
// deployment this would ring the coprocessor's wakeup line; in this
// simulation it is a buffered channel a harness can select on.
func (rw *ringWriter) wakeConsumer() {
	select {
	case rw.wakeCh <- struct{}{}:
	default:
	}
}

// reserve returns n contiguous words in the current backing buffer,
// rotating (or, while recording, growing the block chain) first if the
// reservation would cross the sentinel.
func (rw *ringWriter) reserve(n uint32) ([]uint32, error) {
	if n == 0 || n > rw.cfg.MaxCommandWords {
		return nil, ErrCommandTooLarge
	}
	if rw.writePtr+n > rw.sentinel {
		if err := rw.onOverflow(rw, n); err != nil {
			return nil, err
		}
	}
	region := rw.activeBuf[rw.writePtr : rw.writePtr+n]
	rw.writePtr += n
	return region, nil
}

// writeWords reserves len(words) words and fills them in write-ordering
// discipline: every word except the header is written first with an
// ordinary store, then the header word is published with an atomic
// store, so a concurrent reader observes either the all-zero pre-image
// or the fully-formed command, never a torn header.
func (rw *ringWriter) writeWords(words []uint32) error {
	region, err := rw.reserve(uint32(len(words)))
	if err != nil {
		return err
	}
	for i := 1; i < len(words); i++ {
		region[i] = words[i]
	}
	atomic.StoreUint32(&region[0], words[0])
	return nil
}

// rotateRing implements buffer rotation for the normal ring-backed
// writer: wait for the other buffer to be marked done by the consumer,
// clear that bit, flip which buffer is active, stitch a
// WRITE_STATUS+JUMP terminator into the old buffer, and wake the
// consumer.
func (rw *ringWriter) rotateRing(need uint32) error {
	if err := rw.waitBufDone(); err != nil {
		return err
	}
	rw.status.Clear(rw.bufDoneBit)

	oldIdx := rw.activeIdx
	newIdx := 1 - oldIdx
	old := rw.buf[oldIdx]

	// WRITE_STATUS: payload (mask) first, header last.
	ws := old[rw.writePtr : rw.writePtr+2]
	ws[1] = uint32(rw.bufDoneBit)
	atomic.StoreUint32(&ws[0], commandKey(Overlay0, opWriteStatus))

	// JUMP to the new buffer: payload (target address) first, header last.
	jp := old[rw.writePtr+2 : rw.writePtr+4]
	jp[1] = rw.bufAddr[newIdx]
	atomic.StoreUint32(&jp[0], commandKey(Overlay0, opJump))

	// The buffer we're about to reuse must read as fully zero again
	// before we let any new command land in it: every word of an active
	// write buffer is either a fully-written command or zero.
	for i := range rw.buf[newIdx] {
		rw.buf[newIdx][i] = 0
	}

	rw.activeIdx = newIdx
	rw.activeBuf = rw.buf[newIdx]
	rw.activeAddr = rw.bufAddr[newIdx]
	rw.writePtr = 0
	rw.sentinel = rw.cfg.RingWords - rw.cfg.RingSentinelMargin
	rw.rotations++

	rw.wakeConsumer()
	return nil
}

// waitBufDone busy-waits (with exponential backoff between polls,
// mirroring the bird-adapter reconnect loop this module is grounded on)
// for the consumer to finish the buffer we're about to reuse.
func (rw *ringWriter) waitBufDone() error {
	if rw.status.Test(rw.bufDoneBit) {
		return nil
	}
	rw.wakeConsumer()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Microsecond,
		RandomizationFactor: 0.1,
		Multiplier:          1.5,
		MaxInterval:         time.Millisecond,
	}
	b.Reset()

	for i := 0; i < rw.cfg.RingStuckImpatience; i++ {
		if rw.status.Test(rw.bufDoneBit) {
			return nil
		}
		time.Sleep(b.NextBackOff())
	}

	if rw.logger != nil {
		rw.logger.Error("ring rotation stuck waiting for consumer",
			zap.Uint32("active_addr", rw.activeAddr),
			zap.Uint32("write_ptr", rw.writePtr),
			zap.Uint32("status", rw.status.Load()),
		)
	}
	return ErrRingStuck
}
