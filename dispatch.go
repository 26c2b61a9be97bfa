// dispatch.go - the Dispatcher Contract: the rules the consumer must
// follow to parse the ring. The real consumer is assembly running on the
// coprocessor and out of scope; consumerModel is a software walker that
// implements the same contract for tests and the simulation harness, not
// a production component.

package cmdq

// consumerModel walks a command stream the way the contract requires: read
// the header, dispatch by (overlay, local index), advance by the opcode's
// word count, and react to the same status-word transitions a real
// coprocessor would. It understands only Overlay0's internal opcodes;
// anything else is handed to Exec so tests can model overlay-specific
// commands without teaching this walker about them.
type consumerModel struct {
	mem    *memory
	status *StatusWord
	addr   uint32
	pos    uint32

	// callSlots holds CALL's saved return positions, keyed by the slot
	// index CALL/RET encode in their low bits.
	callSlots map[uint32]uint32

	// Exec is invoked for any command whose overlay id is not 0. It must
	// return the command's word count so the walker can advance.
	Exec func(key uint32, words []uint32) int

	// NoopHook, if set, is invoked once per executed NOOP.
	NoopHook func()
}

func newConsumerModel(mem *memory, status *StatusWord, startAddr uint32) *consumerModel {
	return &consumerModel{mem: mem, status: status, addr: startAddr, callSlots: make(map[uint32]uint32)}
}

// step executes commands until the stream goes to sleep (MORE_PENDING
// clear at a zero header) or a budget of commands has run, whichever
// comes first. It returns the number of commands it executed.
func (cm *consumerModel) step(budget int) int {
	executed := 0
	for executed < budget {
		word := cm.mem.at(cm.addr+cm.pos, 1)[0]
		if isInvalidKey(word) {
			if cm.status.Test(BitMorePending) {
				cm.status.Clear(BitMorePending)
				continue
			}
			cm.status.Set(BitHalt)
			return executed
		}
		cm.status.Clear(BitHalt)

		overlayID := overlayIDOf(word)
		localIdx := localIndexOf(word)

		if overlayID != Overlay0 {
			n := cm.Exec(word, cm.mem.at(cm.addr+cm.pos, 1))
			cm.pos += uint32(n)
			executed++
			continue
		}

		n := cm.execOverlay0(localIdx)
		cm.pos += uint32(n)
		executed++
	}
	return executed
}

func (cm *consumerModel) execOverlay0(localIdx byte) int {
	switch localIdx {
	case opNoop:
		if cm.NoopHook != nil {
			cm.NoopHook()
		}
		return opWords[opNoop]

	case opJump:
		w := cm.mem.at(cm.addr+cm.pos, 2)
		cm.addr, cm.pos = w[1], 0
		return 0

	case opCall:
		w := cm.mem.at(cm.addr+cm.pos, 3)
		target, slot := w[1], w[2]>>2
		cm.callSlots[slot] = cm.addr + cm.pos + uint32(opWords[opCall])
		cm.addr, cm.pos = target, 0
		return 0

	case opRet:
		w := cm.mem.at(cm.addr+cm.pos, 1)
		slot := (w[0] &^ (0xFF << keyShift)) >> 2
		ret, ok := cm.callSlots[slot]
		if !ok {
			panic("cmdq: consumer model: RET from a slot with no matching CALL")
		}
		cm.addr, cm.pos = ret, 0
		return 0

	case opDMA:
		// Consumer-side scratchpad DMA is opaque to this model; just advance.
		return opWords[opDMA]

	case opWriteStatus:
		w := cm.mem.at(cm.addr+cm.pos, 2)
		cm.status.Set(StatusBit(w[1]))
		return opWords[opWriteStatus]

	case opSwapBuffers:
		w := cm.mem.at(cm.addr+cm.pos, 4)
		setMask, clearMask := unpackStatusMaskWord(w[3])
		cm.status.SetClear(StatusBit(setMask), StatusBit(clearMask))
		return opWords[opSwapBuffers]

	case opTestWriteStatus:
		w := cm.mem.at(cm.addr+cm.pos, 3)
		setMask, waitMask := w[1], w[2]
		for cm.status.Load()&waitMask != 0 {
		}
		cm.status.Set(StatusBit(setMask))
		cm.status.Set(BitIntr)
		return opWords[opTestWriteStatus]

	default:
		return opWords[opNoop]
	}
}
