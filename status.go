// status.go - shared status word between producer and consumer.

package cmdq

import "sync/atomic"

// StatusBit names one bit of the shared status word. Each bit has exactly
// one designated writer (either the CPU producer or the consumer/interrupt
// side) for *setting* it, though either side may need to observe or clear
// it.
type StatusBit uint32

const (
	// BitMorePending signals the consumer that the producer has appended
	// data past a point the consumer had already drained to zero.
	BitMorePending StatusBit = 1 << iota
	// BitBufDoneLow is set by the consumer when it finishes the *other*
	// half of the low-priority double buffer, letting the producer reuse it.
	BitBufDoneLow
	// BitBufDoneHigh is the high-priority ring's analogue of BitBufDoneLow.
	BitBufDoneHigh
	// BitSyncpoint is raised by a TEST_WRITE_STATUS command; cleared by the
	// interrupt handler after it increments syncpoints_done.
	BitSyncpoint
	// BitHighPriRequested asks the consumer to switch to the high-priority
	// stream at the next command boundary.
	BitHighPriRequested
	// BitHighPriRunning is set while the consumer is executing the
	// high-priority stream.
	BitHighPriRunning
	// BitSig0 is the downstream-fence hook (e.g. a graphics trace device).
	BitSig0
	// BitHalt indicates the consumer has halted awaiting wakeup.
	BitHalt
	// BitBroke marks an unrecoverable consumer-side fault.
	BitBroke
	// BitIntr is the raw interrupt line, raised alongside any bit that
	// should wake the CPU's interrupt handler.
	BitIntr
)

// StatusWord is the sole synchronization primitive between the producer
// and the consumer. Bits are updated with atomic set/clear masks so that
// a multi-bit update from one side never tears a concurrent single-bit
// update from the other side.
type StatusWord struct {
	word atomic.Uint32
}

// Load returns the current value of the status word.
func (s *StatusWord) Load() uint32 {
	return s.word.Load()
}

// Test reports whether all bits in mask are currently set.
func (s *StatusWord) Test(mask StatusBit) bool {
	return s.word.Load()&uint32(mask) == uint32(mask)
}

// TestAny reports whether any bit in mask is currently set.
func (s *StatusWord) TestAny(mask StatusBit) bool {
	return s.word.Load()&uint32(mask) != 0
}

// Set atomically ORs mask into the status word.
func (s *StatusWord) Set(mask StatusBit) {
	s.word.Or(uint32(mask))
}

// Clear atomically ANDs the complement of mask into the status word.
func (s *StatusWord) Clear(mask StatusBit) {
	s.word.And(^uint32(mask))
}

// SetClear atomically applies a set mask and a clear mask in one step, so
// an observer never sees a state where the set bits are up but the clear
// bits haven't dropped yet (or vice versa). Used by SWAP_BUFFERS, whose
// wire encoding carries both masks together.
func (s *StatusWord) SetClear(setMask, clearMask StatusBit) {
	for {
		old := s.word.Load()
		next := (old &^ uint32(clearMask)) | uint32(setMask)
		if s.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// statusMaskWord packs a set-mask (low 16 bits) and a clear-mask (high 16
// bits) into the single payload word that SWAP_BUFFERS carries on the
// wire. WRITE_STATUS carries a bare set mask instead, with no packing
// needed.
func statusMaskWord(setMask, clearMask uint32) uint32 {
	return setMask&0xFFFF | (clearMask&0xFFFF)<<16
}

// unpackStatusMaskWord is the inverse of statusMaskWord, used by the
// reference consumer model to interpret SWAP_BUFFERS payload words.
func unpackStatusMaskWord(w uint32) (setMask, clearMask uint32) {
	return w & 0xFFFF, (w >> 16) & 0xFFFF
}
