package cmdq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func smallRingConfig() Config {
	cfg := DefaultConfig()
	cfg.RingWords = 16
	cfg.RingSentinelMargin = 4
	cfg.MaxCommandWords = 4
	return cfg
}

// TestRingWriterHeaderWrittenLast is S1: after writeWords returns, the
// buffer holds either the full command or, at any instant sampled before
// the header store, the payload alone with a zero header. We can't
// observe the intermediate instant directly in a single-threaded test,
// but we can assert the final state matches the exact word layout and
// that the header carries the command key in its top byte.
func TestRingWriterHeaderWrittenLast(t *testing.T) {
	cfg := smallRingConfig()
	mem := newMemory(1024)
	var status StatusWord
	rw := newRingWriter(mem, &status, cfg, BitBufDoneLow, nil)

	require.NoError(t, rw.writeWords([]uint32{0xAB000001, 0xDEADBEEF, 0xCAFEBABE}))

	got := rw.buf[0][:3]
	require.Equal(t, []uint32{0xAB000001, 0xDEADBEEF, 0xCAFEBABE}, got)
}

// TestRingWriterRotation is S2: writing enough one-word commands to
// overflow a small buffer stitches a WRITE_STATUS+JUMP terminator into
// the old buffer and continues in the other half.
func TestRingWriterRotation(t *testing.T) {
	cfg := smallRingConfig()
	mem := newMemory(1024)
	var status StatusWord
	rw := newRingWriter(mem, &status, cfg, BitBufDoneLow, nil)
	status.Set(BitBufDoneLow)

	key := commandKey(1, 1) // 0x11 in the top byte
	rotationsBefore := rw.rotations
	for i := 0; i < 20; i++ {
		require.NoError(t, rw.writeWords([]uint32{key}))
		if rw.rotations > rotationsBefore {
			break
		}
	}
	require.Greater(t, rw.rotations, rotationsBefore, "expected at least one rotation")

	oldBuf := rw.buf[1-rw.activeIdx]
	// Find the WRITE_STATUS+JUMP terminator stitched before the sentinel.
	foundWriteStatus, foundJump := false, false
	for i := 0; i+1 < len(oldBuf); i++ {
		if overlayIDOf(oldBuf[i]) == Overlay0 && localIndexOf(oldBuf[i]) == opWriteStatus {
			foundWriteStatus = true
		}
		if overlayIDOf(oldBuf[i]) == Overlay0 && localIndexOf(oldBuf[i]) == opJump {
			foundJump = true
		}
	}
	require.True(t, foundWriteStatus, "expected a WRITE_STATUS terminator in the rotated-out buffer")
	require.True(t, foundJump, "expected a JUMP terminator in the rotated-out buffer")
}

func TestRingWriterRejectsOversizedCommand(t *testing.T) {
	cfg := smallRingConfig()
	mem := newMemory(1024)
	var status StatusWord
	rw := newRingWriter(mem, &status, cfg, BitBufDoneLow, nil)

	err := rw.writeWords(make([]uint32, cfg.MaxCommandWords+1))
	require.ErrorIs(t, err, ErrCommandTooLarge)
}

// TestRingWriterZeroQuiescence is universal property 2: a freshly rotated
// buffer reads back as all zero before any command lands in it.
func TestRingWriterZeroQuiescence(t *testing.T) {
	cfg := smallRingConfig()
	mem := newMemory(1024)
	var status StatusWord
	rw := newRingWriter(mem, &status, cfg, BitBufDoneLow, nil)
	status.Set(BitBufDoneLow)

	key := commandKey(1, 1)
	for i := 0; i < 20 && rw.rotations == 0; i++ {
		require.NoError(t, rw.writeWords([]uint32{key}))
	}
	require.Greater(t, rw.rotations, uint64(0))

	for i := int(rw.writePtr); i < len(rw.activeBuf); i++ {
		require.Equal(t, uint32(0), rw.activeBuf[i], "word %d of freshly rotated buffer should be zero", i)
	}
}
