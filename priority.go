// priority.go - the Priority Switcher: a second ring context that can
// preempt the normal stream on demand.

package cmdq

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// prioritySwitcher owns the high-priority ring and the epilog-patch state
// needed to coalesce back-to-back highpri_begin calls.
type prioritySwitcher struct {
	status *StatusWord
	cfg    Config

	highRing *ringWriter

	// active is true between highpri_begin and highpri_end.
	active bool

	// epilogBuf/epilogIdx point at the most recently written epilog
	// JUMP-to-next-instruction placeholder, so a new highpri_begin before the
	// consumer has re-entered high-priority can patch it in place with a
	// single aligned word store.
	epilogPending bool
	epilogBuf     []uint32
	epilogIdx     uint32
}

func newPrioritySwitcher(highRing *ringWriter, status *StatusWord, cfg Config) *prioritySwitcher {
	return &prioritySwitcher{status: status, cfg: cfg, highRing: highRing}
}

// begin swaps the active writer to the high-priority ring and asks the
// consumer to switch at its next command boundary. The consumer records
// its own low-priority resume point in the SWAP_BUFFERS save slot when it
// later executes end's epilog, so begin needs no address from the caller.
func (ps *prioritySwitcher) begin() {
	assertf(!ps.active, "highpri_begin called while already in high-priority")

	if ps.epilogPending {
		// A previous segment's epilog hasn't been consumed yet: patch it
		// in place with a JUMP to this new segment instead of appending
		// after it.
		atomic.StoreUint32(&ps.epilogBuf[ps.epilogIdx], commandKey(Overlay0, opJump))
		ps.epilogBuf[ps.epilogIdx+1] = ps.highRing.activeAddr + ps.highRing.writePtr
		ps.epilogPending = false
	}

	ps.active = true
	ps.status.Set(BitHighPriRequested)
}

// end writes the epilog (a JUMP to the next instruction, forcing the
// consumer to re-fetch and notice the request bit) followed by a
// SWAP_BUFFERS back to the low-priority stream.
func (ps *prioritySwitcher) end() error {
	assertf(ps.active, "highpri_end called without a matching highpri_begin")

	epilogAddr := ps.highRing.activeAddr
	epilogOff := ps.highRing.writePtr
	if err := ps.highRing.writeWords([]uint32{
		commandKey(Overlay0, opJump),
		epilogAddr + epilogOff + uint32(opWords[opJump]), // jump to next instruction: re-fetch, re-check request bit
	}); err != nil {
		return err
	}
	ps.epilogPending = true
	ps.epilogBuf = ps.highRing.activeBuf
	ps.epilogIdx = epilogOff

	// Status mask word: low 16 bits are the set-mask, high 16 bits are
	// the clear-mask (see statusMaskWord in status.go). This SWAP_BUFFERS
	// clears both high-priority bits and sets nothing.
	clearBits := uint32(BitHighPriRequested | BitHighPriRunning)
	if err := ps.highRing.writeWords([]uint32{
		commandKey(Overlay0, opSwapBuffers),
		uint32(ps.cfg.SwapSlots - 1), // save slot: high-priority position
		uint32(ps.cfg.SwapSlots - 2), // load slot: low-priority position
		statusMaskWord(0, clearBits),
	}); err != nil {
		return err
	}

	ps.active = false
	return nil
}

// sync spin-waits until both HIGHPRI_REQUESTED and HIGHPRI_RUNNING are
// clear.
func (ps *prioritySwitcher) sync() {
	if !ps.status.TestAny(BitHighPriRequested | BitHighPriRunning) {
		return
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Microsecond,
		RandomizationFactor: 0.1,
		Multiplier:          1.5,
		MaxInterval:         time.Millisecond,
	}
	b.Reset()
	for ps.status.TestAny(BitHighPriRequested | BitHighPriRunning) {
		time.Sleep(b.NextBackOff())
	}
}
