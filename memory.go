// memory.go - flat word-addressable arena standing in for the shared
// RDRAM region the CPU and coprocessor both address. Ring buffers and
// block chunks are allocated from here so that JUMP/CALL/RET commands can
// carry a real 32-bit address in their payload rather than a Go pointer.

package cmdq

import "sync"

// defaultMemoryWords sizes the simulated RDRAM arena generously enough
// for both ring buffers and a deep chain of block chunks in tests and the
// cmdqctl harness; production embedders size the real arena to their
// platform's RDRAM instead.
const defaultMemoryWords = 1 << 20 // 4MB of 32-bit words

// memory is a bump allocator over a flat []uint32, with a size-classed
// free list so the Block Recorder's chunk doubling can reuse chunks
// instead of growing the arena without bound.
type memory struct {
	mu       sync.Mutex
	words    []uint32
	next     uint32
	freeList map[uint32][]uint32 // word-count -> stack of freed addresses
}

func newMemory(words uint32) *memory {
	return &memory{
		words:    make([]uint32, words),
		freeList: make(map[uint32][]uint32),
	}
}

// alloc returns a zero-filled region of n words and its address. Freshly
// bump-allocated regions are zero by construction (make allocates zeroed
// memory); regions reused from the free list are zeroed here explicitly,
// preserving the "buffers are always zero-initialized before activation"
// invariant for both cases.
func (m *memory) alloc(n uint32) (addr uint32, buf []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stack := m.freeList[n]; len(stack) > 0 {
		addr = stack[len(stack)-1]
		m.freeList[n] = stack[:len(stack)-1]
		buf = m.words[addr : addr+n]
		for i := range buf {
			buf[i] = 0
		}
		return addr, buf
	}

	if m.next+n > uint32(len(m.words)) {
		panic("cmdq: shared memory arena exhausted")
	}
	addr = m.next
	buf = m.words[addr : addr+n]
	m.next += n
	return addr, buf
}

// free returns a region to the size-classed free list for reuse.
func (m *memory) free(addr, n uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeList[n] = append(m.freeList[n], addr)
}

// at returns the n-word slice starting at addr, for direct word access
// (used by the Dispatcher Contract reference walker and tests).
func (m *memory) at(addr, n uint32) []uint32 {
	return m.words[addr : addr+n]
}
