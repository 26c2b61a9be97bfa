// snapshot.go - diagnostic state capture for the queue, using a
// magic-plus-version-plus-gzip binary framing. These snapshots are
// diagnostic-only: cmdq never persists queue state across resets, so
// there is no Restore.

package cmdq

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
)

const (
	snapshotMagic   = "CMDQ"
	snapshotVersion = 1
)

// QueueSnapshot captures enough of a queue's live state to diagnose a
// stuck ring or misbehaving consumer model: both ring buffers, which half
// is active, the write cursor, the overlay dispatch table, and the
// syncpoint counters.
type QueueSnapshot struct {
	ActiveIdx     int
	WritePtr      uint32
	Sentinel      uint32
	LowBuf        []uint32
	HighBuf       []uint32
	OverlayIDs    []byte
	SyncpointGen  uint32
	SyncpointDone uint32
	Status        uint32
}

// Snapshot captures the queue's current state for diagnostics and tests.
// It is never fed back into a live queue.
func (q *Queue) Snapshot() QueueSnapshot {
	q.producerMu.Lock()
	defer q.producerMu.Unlock()

	ids := make([]byte, 0, len(q.overlays.byID))
	for id := range q.overlays.byID {
		ids = append(ids, id)
	}

	active := q.activeRing()
	return QueueSnapshot{
		ActiveIdx:     active.activeIdx,
		WritePtr:      active.writePtr,
		Sentinel:      active.sentinel,
		LowBuf:        append([]uint32(nil), q.lowRing.activeBuf...),
		HighBuf:       append([]uint32(nil), q.highRing.activeBuf...),
		OverlayIDs:    ids,
		SyncpointGen:  q.sp.genid,
		SyncpointDone: q.sp.done.Load(),
		Status:        q.status.Load(),
	}
}

// Encode serializes a snapshot with a magic, a version, then each
// buffer's uncompressed length followed by its gzip-compressed bytes.
func (s QueueSnapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(snapshotVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(s.ActiveIdx))
	binary.Write(&buf, binary.LittleEndian, s.WritePtr)
	binary.Write(&buf, binary.LittleEndian, s.Sentinel)
	binary.Write(&buf, binary.LittleEndian, s.SyncpointGen)
	binary.Write(&buf, binary.LittleEndian, s.SyncpointDone)
	binary.Write(&buf, binary.LittleEndian, s.Status)

	for _, words := range [][]uint32{s.LowBuf, s.HighBuf} {
		raw := make([]byte, len(words)*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(raw[i*4:], w)
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(raw)))

		var compressed bytes.Buffer
		gz := gzip.NewWriter(&compressed)
		if _, err := gz.Write(raw); err != nil {
			return nil, fmt.Errorf("cmdq: compressing snapshot buffer: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("cmdq: closing snapshot gzip writer: %w", err)
		}
		binary.Write(&buf, binary.LittleEndian, uint32(compressed.Len()))
		buf.Write(compressed.Bytes())
	}

	return buf.Bytes(), nil
}
