// block.go - the Block Recorder: redirects the shared writer cursor into
// a growable linked chain of buffers and supports nested block_run
// invocation.

package cmdq

import "sync/atomic"

// Block is an opaque handle to a recorded command sequence. The zero
// value is not a valid handle.
type Block struct {
	firstAddr    uint32
	firstWords   uint32
	nestingLevel int
}

// blockRecorder tracks the single in-flight recording (block_begin has no
// reentrancy of its own; nested block_run calls during a recording bump
// the *enclosing* block's nesting level instead of starting a second
// recording).
type blockRecorder struct {
	mem *memory
	cfg Config

	recording bool

	// Saved ringWriter cursor + overflow handler, restored by block_end.
	savedBuf        []uint32
	savedAddr       uint32
	savedWritePtr   uint32
	savedSentinel   uint32
	savedOverflow   overflowFunc

	firstAddr    uint32
	firstWords   uint32
	curWords     uint32
	nestingLevel int
}

func newBlockRecorder(mem *memory, cfg Config) *blockRecorder {
	return &blockRecorder{mem: mem, cfg: cfg}
}

// begin redirects rw's cursor into a freshly allocated first chunk.
func (br *blockRecorder) begin(rw *ringWriter) {
	assertf(!br.recording, "block_begin called while a block is already recording")

	br.savedBuf = rw.activeBuf
	br.savedAddr = rw.activeAddr
	br.savedWritePtr = rw.writePtr
	br.savedSentinel = rw.sentinel
	br.savedOverflow = rw.onOverflow

	minWords := uint32(br.cfg.BlockMinChunk / 4)
	addr, buf := br.mem.alloc(minWords)

	br.recording = true
	br.firstAddr = addr
	br.firstWords = minWords
	br.curWords = minWords
	br.nestingLevel = 0

	rw.activeBuf = buf
	rw.activeAddr = addr
	rw.writePtr = 0
	// Reserve the last 2 words of every chunk for the JUMP stitch to the
	// next chunk, exactly as the ring reserves RingSentinelMargin words
	// for its WRITE_STATUS+JUMP terminator.
	rw.sentinel = minWords - 2
	rw.onOverflow = func(rw *ringWriter, need uint32) error {
		return br.growBlockChunk(rw, need)
	}
}

// end writes the block's RET, restores the writer's previous cursor, and
// returns a handle.
func (br *blockRecorder) end(rw *ringWriter) Block {
	assertf(br.recording, "block_end called without a matching block_begin")

	region, err := rw.reserve(1)
	if err != nil {
		// A single-word RET can only fail to fit if growBlockChunk itself
		// failed, which only happens at the configured chunk ceiling.
		panic(err)
	}
	atomic.StoreUint32(&region[0], commandKey(Overlay0, opRet)|uint32(br.nestingLevel)<<2)

	h := Block{firstAddr: br.firstAddr, firstWords: br.firstWords, nestingLevel: br.nestingLevel}

	rw.activeBuf = br.savedBuf
	rw.activeAddr = br.savedAddr
	rw.writePtr = br.savedWritePtr
	rw.sentinel = br.savedSentinel
	rw.onOverflow = br.savedOverflow

	br.recording = false
	return h
}

// run writes a CALL to the block's first chunk. If called while another
// block is recording, the enclosing block's nesting level is bumped to
// max(outer, inner+1) rather than emitting anything into the inner
// block's own (separate, already-closed) chunk chain.
func (br *blockRecorder) run(rw *ringWriter, h Block) error {
	if br.recording {
		assertf(h.nestingLevel+1 <= br.cfg.MaxNestingLevel, "block nesting ceiling exceeded")
		if h.nestingLevel+1 > br.nestingLevel {
			br.nestingLevel = h.nestingLevel + 1
		}
	}
	return rw.writeWords([]uint32{
		commandKey(Overlay0, opCall),
		h.firstAddr,
		uint32(h.nestingLevel) << 2,
	})
}

// free walks the chunk chain, releasing each chunk back to the shared
// arena. Each chunk is scanned backward from its end to the first
// non-zero word, which must be a JUMP (continue to the next chunk) or a
// RET (last chunk, stop).
func (br *blockRecorder) free(h Block) error {
	addr, words := h.firstAddr, h.firstWords
	for {
		buf := br.mem.at(addr, words)
		i := int(words) - 1
		for i >= 0 && buf[i] == 0 {
			i--
		}
		if i < 0 {
			return ErrBadChunkTerminator
		}

		// RET is a single word, so the last non-zero word IS its header.
		// JUMP is two words, so the last non-zero word is its address
		// payload and the header sits one word earlier.
		if tail := buf[i]; overlayIDOf(tail) == Overlay0 && localIndexOf(tail) == opRet {
			br.mem.free(addr, words)
			return nil
		}
		if i == 0 {
			return ErrBadChunkTerminator
		}
		head := buf[i-1]
		if overlayIDOf(head) != Overlay0 || localIndexOf(head) != opJump {
			return ErrBadChunkTerminator
		}
		next := buf[i]
		nextWords := words * 2
		if nextWords > uint32(br.cfg.BlockMaxChunk/4) {
			nextWords = uint32(br.cfg.BlockMaxChunk / 4)
		}
		br.mem.free(addr, words)
		addr, words = next, nextWords
	}
}

// growBlockChunk is the Block Recorder's overflow strategy: allocate a
// chunk double the previous size (capped at BlockMaxChunk), terminate
// the old chunk with a JUMP to the new one, and continue recording there.
func (br *blockRecorder) growBlockChunk(rw *ringWriter, need uint32) error {
	newWords := br.curWords * 2
	maxWords := uint32(br.cfg.BlockMaxChunk / 4)
	if newWords > maxWords {
		newWords = maxWords
	}
	assertf(newWords-2 >= need, "block chunk ceiling too small for command of %d words", need)

	newAddr, newBuf := br.mem.alloc(newWords)

	old := rw.activeBuf
	jp := old[rw.writePtr : rw.writePtr+2]
	jp[1] = newAddr
	atomic.StoreUint32(&jp[0], commandKey(Overlay0, opJump))

	rw.activeBuf = newBuf
	rw.activeAddr = newAddr
	rw.writePtr = 0
	rw.sentinel = newWords - 2
	br.curWords = newWords
	return nil
}
