// errors.go - sentinel errors for cmdq's resource-exhaustion and
// contract-violation failure modes.

package cmdq

import "errors"

var (
	// ErrOverlayFull is returned when no consecutive free dispatch-table
	// slots are available for a new overlay.
	ErrOverlayFull = errors.New("cmdq: overlay dispatch table full")

	// ErrSlotOccupied is returned when overlay_register_static's pinned ID
	// collides with an already-registered overlay.
	ErrSlotOccupied = errors.New("cmdq: overlay slot already occupied")

	// ErrOverlayHeaderMismatch is returned when an overlay image's ABI
	// header does not match this queue's runtime.
	ErrOverlayHeaderMismatch = errors.New("cmdq: overlay header does not match runtime")

	// ErrOverlayNotFound is returned by overlay_unregister for an unknown ID.
	ErrOverlayNotFound = errors.New("cmdq: overlay id not registered")

	// ErrStateOutsideImage is returned by overlay_get_state when the
	// requested save-state region falls outside the overlay's data image.
	ErrStateOutsideImage = errors.New("cmdq: overlay state region outside data image")

	// ErrCommandTooLarge is returned when a reserved command would exceed
	// the command-size ceiling, Config.MaxCommandWords.
	ErrCommandTooLarge = errors.New("cmdq: command exceeds size ceiling")

	// ErrRingStuck is returned when a ring rotation's spin-wait exceeds
	// Config.RingStuckImpatience without the consumer setting the
	// matching bufdone bit.
	ErrRingStuck = errors.New("cmdq: ring rotation stuck waiting for consumer")

	// ErrSyncpointTimeout is returned when syncpoint_wait's spin-wait
	// exceeds Config.SyncpointWaitImpatience without the ticket being
	// reached; a timeout triggers a diagnostic dump before returning.
	ErrSyncpointTimeout = errors.New("cmdq: syncpoint_wait impatient")

	// ErrNestingCeiling names the breach where block_run would bump the
	// enclosing block's nesting level past Config.MaxNestingLevel. block_run
	// reports that breach through a misuse assertion and does not return
	// this error.
	ErrNestingCeiling = errors.New("cmdq: block nesting ceiling exceeded")

	// ErrBadChunkTerminator is returned by block_free when a chunk's
	// trailing non-zero word is neither a JUMP nor a RET.
	ErrBadChunkTerminator = errors.New("cmdq: block chunk has invalid terminator")
)
