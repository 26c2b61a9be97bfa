// command.go - command word layout and overlay-0 opcode encoding.

package cmdq

// Command words are aligned uint32s. The first word's top byte carries the
// command key: top 4 bits select an overlay ID, bottom 4 bits select a
// local command index within that overlay.
const (
	keyShift      = 24
	overlayIDMask = 0xF0
	localIdxMask  = 0x0F

	// KeyInvalid (0x00) marks unwritten ring memory. It must never be a
	// valid command key for any registered overlay.
	KeyInvalid byte = 0x00
)

// Overlay0 holds the internal dispatch opcodes the consumer always
// understands, regardless of which overlay is currently loaded.
const Overlay0 byte = 0x00

// Local command indices within Overlay0.
const (
	opInvalid          byte = 0x0
	opNoop             byte = 0x1
	opJump             byte = 0x2
	opCall             byte = 0x3
	opRet              byte = 0x4
	opDMA              byte = 0x5
	opWriteStatus      byte = 0x6
	opSwapBuffers      byte = 0x7
	opTestWriteStatus  byte = 0x8
)

// opWords gives the word count of each Overlay0 opcode.
var opWords = map[byte]int{
	opNoop:            1,
	opJump:            2,
	opCall:            3,
	opRet:             1,
	opDMA:             5,
	opWriteStatus:     2,
	opSwapBuffers:     4,
	opTestWriteStatus: 3,
}

// commandKey packs an overlay ID (0-15) and local index (0-15) into the
// top byte of a command's header word.
func commandKey(overlayID, localIndex byte) uint32 {
	key := (overlayID<<4)&overlayIDMask | localIndex&localIdxMask
	return uint32(key) << keyShift
}

// overlayIDOf extracts the overlay ID from a header word's top byte.
func overlayIDOf(header uint32) byte {
	return byte(header>>keyShift) >> 4
}

// localIndexOf extracts the local command index from a header word's top byte.
func localIndexOf(header uint32) byte {
	return byte(header>>keyShift) & 0x0F
}

// isInvalidKey reports whether header's top byte is the reserved
// "no command here" key.
func isInvalidKey(header uint32) bool {
	return byte(header>>keyShift) == KeyInvalid
}
