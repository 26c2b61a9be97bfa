// overlay.go - the Overlay Registry: maps 4-bit overlay IDs to
// code+data blobs, packs a DMEM-resident dispatch table, and schedules
// the table update lazily via an in-stream DMA command.

package cmdq

import (
	"fmt"

	"go.uber.org/zap"
)

// commandBaseShift encodes the overlay's command_base = id * 32,
// written into the overlay's data image.
const commandBaseShift = 5 // 32 == 1<<5

// OverlayImage describes an overlay's code and data blobs as the caller
// supplies them. Code/Data are the source-of-truth buffers in RDRAM; the
// registry never copies them, only records their addresses and sizes and
// DMAs the dispatch table (not the blobs themselves) to the consumer.
type OverlayImage struct {
	// HeaderABI must match Queue's configured ABI version or registration
	// fails with ErrOverlayHeaderMismatch.
	HeaderABI uint32

	CodeAddr uint32
	CodeSize uint32
	DataAddr uint32
	DataSize uint32

	// CommandCount is the number of commands this overlay exports;
	// slot_count = ceil(CommandCount / 16).
	CommandCount int

	// CommandBaseOffset is the word offset within the data image where
	// command_base (id*32) should be written; this requires writing
	// through an uncached view of that memory. The memory arena backing
	// DataAddr already behaves as that uncached view, since every access
	// goes through atomic or plain word stores that become visible the
	// instant they execute, with no local cache.
	CommandBaseOffset uint32
}

type overlayDescriptor struct {
	image    OverlayImage
	id       byte
	slotBase int
	slots    int
}

// overlayRegistry packs overlay descriptors into a fixed-capacity
// dispatch table; overlays occupy one or more consecutive 16-command
// slots.
type overlayRegistry struct {
	cfg    Config
	abi    uint32
	mem    *memory
	logger *zap.Logger
	table  []*overlayDescriptor // len == cfg.OverlaySlots, nil == free
	byID   map[byte]*overlayDescriptor

	// tableAddr/tableBuf are the single arena-resident region the packed
	// dispatch table is written into; every registration and
	// unregistration overwrites it in place rather than allocating a
	// fresh region, since the table is one canonical location the
	// consumer always DMAs from.
	tableAddr uint32
	tableBuf  []uint32
}

func newOverlayRegistry(cfg Config, abi uint32, mem *memory, logger *zap.Logger) *overlayRegistry {
	addr, buf := mem.alloc(uint32(cfg.OverlaySlots))
	return &overlayRegistry{
		cfg:       cfg,
		abi:       abi,
		mem:       mem,
		logger:    logger,
		table:     make([]*overlayDescriptor, cfg.OverlaySlots),
		byID:      make(map[byte]*overlayDescriptor),
		tableAddr: addr,
		tableBuf:  buf,
	}
}

func slotsNeeded(commandCount int) int {
	return (commandCount + 15) / 16
}

// register finds a run of free adjacent slots, or uses pinnedID if given.
func (r *overlayRegistry) register(img OverlayImage, pinnedID int, rw *ringWriter) (byte, error) {
	if img.HeaderABI != r.abi {
		return 0, fmt.Errorf("%w: got 0x%X want 0x%X", ErrOverlayHeaderMismatch, img.HeaderABI, r.abi)
	}

	need := slotsNeeded(img.CommandCount)
	if need <= 0 {
		need = 1
	}

	var id byte
	if pinnedID >= 0 {
		if pinnedID == int(Overlay0) {
			return 0, ErrSlotOccupied
		}
		if r.table[pinnedID] != nil {
			return 0, ErrSlotOccupied
		}
		if pinnedID+need > len(r.table) {
			return 0, ErrOverlayFull
		}
		id = byte(pinnedID)
	} else {
		found := -1
		run := 0
		// Slot 0 is reserved for Overlay0, the consumer's built-in
		// dispatch opcodes; the scan never hands it to a registered
		// overlay.
		for i := 1; i < len(r.table); i++ {
			if r.table[i] == nil {
				run++
				if run == need {
					found = i - need + 1
					break
				}
			} else {
				run = 0
			}
		}
		if found < 0 {
			if r.logger != nil {
				r.logger.Warn("overlay dispatch table full", zap.Int("need_slots", need))
			}
			return 0, ErrOverlayFull
		}
		id = byte(found)
	}

	desc := &overlayDescriptor{image: img, id: id, slotBase: int(id), slots: need}
	for i := 0; i < need; i++ {
		r.table[int(id)+i] = desc
	}
	r.byID[id] = desc

	// command_base = id * 32, written into the overlay's own data image
	// through the shared arena.
	if img.DataAddr+img.CommandBaseOffset < uint32(len(r.mem.words)) {
		r.mem.words[img.DataAddr+img.CommandBaseOffset] = uint32(id) << commandBaseShift
	}

	if err := r.postTableUpdate(rw); err != nil {
		return 0, err
	}

	if r.logger != nil {
		r.logger.Info("overlay registered", zap.Uint8("id", id), zap.Int("slots", need))
	}
	return id, nil
}

// unregister clears a descriptor's slots and posts a table update.
func (r *overlayRegistry) unregister(id byte, rw *ringWriter) error {
	desc, ok := r.byID[id]
	if !ok {
		return ErrOverlayNotFound
	}
	for i := 0; i < desc.slots; i++ {
		r.table[desc.slotBase+i] = nil
	}
	delete(r.byID, id)
	return r.postTableUpdate(rw)
}

// getState returns the live address of an overlay's saved-state region,
// validating it falls inside the overlay's own data image.
func (r *overlayRegistry) getState(id byte, offset, size uint32) (uint32, error) {
	desc, ok := r.byID[id]
	if !ok {
		return 0, ErrOverlayNotFound
	}
	if offset+size > desc.image.DataSize {
		return 0, ErrStateOutsideImage
	}
	return desc.image.DataAddr + offset, nil
}

// postTableUpdate enqueues a DMA of the packed dispatch table so the
// consumer picks up the change lazily, at its own pace, without any
// handshake or synchronization.
func (r *overlayRegistry) postTableUpdate(rw *ringWriter) error {
	for i := range r.tableBuf {
		r.tableBuf[i] = 0
		if desc := r.table[i]; desc != nil {
			r.tableBuf[i] = uint32(desc.id)<<commandBaseShift | uint32(desc.image.CommandCount)
		}
	}
	return rw.writeWords([]uint32{
		commandKey(Overlay0, opDMA),
		r.tableAddr,          // source: the registry's resident table region
		0,                    // destination: consumer's dispatch-table scratchpad (opaque)
		uint32(len(r.table)), // length in words
		1,                    // direction flag: 1 == RDRAM -> scratchpad
	})
}
