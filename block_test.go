package cmdq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testBlockSetup(t *testing.T) (*blockRecorder, *ringWriter) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BlockMinChunk = 16 * 4 // 16 words
	cfg.BlockMaxChunk = 64 * 4
	mem := newMemory(16384)
	var status StatusWord
	rw := newRingWriter(mem, &status, cfg, BitBufDoneLow, nil)
	status.Set(BitBufDoneLow)
	return newBlockRecorder(mem, cfg), rw
}

// TestBlockRecorderBasic is part of S4: a block of noops, ended, has the
// recorded noops followed by a RET.
func TestBlockRecorderBasic(t *testing.T) {
	br, rw := testBlockSetup(t)

	br.begin(rw)
	for i := 0; i < 3; i++ {
		require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	}
	h := br.end(rw)

	chunk := br.mem.at(h.firstAddr, h.firstWords)
	for i := 0; i < 3; i++ {
		require.Equal(t, byte(opNoop), localIndexOf(chunk[i]))
	}
	require.Equal(t, byte(opRet), localIndexOf(chunk[3]))
}

// TestBlockRecorderNestedNestingLevel is S4's nesting-level assertion:
// running an inner block during an outer block's recording bumps the
// outer block's nesting level to inner+1.
func TestBlockRecorderNestedNestingLevel(t *testing.T) {
	br, rw := testBlockSetup(t)

	br.begin(rw)
	for i := 0; i < 3; i++ {
		require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	}
	inner := br.end(rw)
	require.Equal(t, 0, inner.nestingLevel)

	br.begin(rw)
	require.NoError(t, br.run(rw, inner))
	require.NoError(t, br.run(rw, inner))
	require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	outer := br.end(rw)

	require.Equal(t, 1, outer.nestingLevel)
}

func TestBlockRecorderRunWritesCallWithSlot(t *testing.T) {
	br, rw := testBlockSetup(t)

	br.begin(rw)
	require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	h := br.end(rw)

	require.NoError(t, br.run(rw, h))

	// CALL is the 3-word command we just wrote at rw.writePtr-3.
	call := rw.activeBuf[rw.writePtr-3 : rw.writePtr]
	require.Equal(t, byte(opCall), localIndexOf(call[0]))
	require.Equal(t, h.firstAddr, call[1])
	require.Equal(t, uint32(h.nestingLevel)<<2, call[2])
}

func TestBlockRecorderNestingCeiling(t *testing.T) {
	br, rw := testBlockSetup(t)
	br.cfg.MaxNestingLevel = 1

	br.begin(rw)
	require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	leaf := br.end(rw)
	require.Equal(t, 0, leaf.nestingLevel)

	br.begin(rw)
	require.NoError(t, br.run(rw, leaf))
	mid := br.end(rw)
	require.Equal(t, 1, mid.nestingLevel)

	br.begin(rw)
	DebugAssertions = true
	require.Panics(t, func() { _ = br.run(rw, mid) })
	br.end(rw) // restore rw's cursor so testBlockSetup invariants hold for later tests
}

// TestBlockRecorderGrowsChunkOnOverflow exercises the Block Recorder's own
// overflow path: enough commands to outgrow the first chunk stitches a
// JUMP and continues recording in a doubled chunk.
func TestBlockRecorderGrowsChunkOnOverflow(t *testing.T) {
	br, rw := testBlockSetup(t)

	br.begin(rw)
	for i := 0; i < 20; i++ {
		require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	}
	h := br.end(rw)
	require.Greater(t, h.firstWords, uint32(0))

	require.NoError(t, br.free(h))
}

func TestBlockRecorderFreeRejectsBadTerminator(t *testing.T) {
	br, rw := testBlockSetup(t)

	br.begin(rw)
	require.NoError(t, rw.writeWords([]uint32{commandKey(Overlay0, opNoop)}))
	h := br.end(rw)

	// Corrupt the RET so the backward scan finds neither RET nor JUMP.
	chunk := br.mem.at(h.firstAddr, h.firstWords)
	for i := range chunk {
		if localIndexOf(chunk[i]) == opRet {
			chunk[i] = commandKey(Overlay0, opNoop)
			break
		}
	}
	require.ErrorIs(t, br.free(h), ErrBadChunkTerminator)
}
