// deferred.go - the Deferred Call List: a CPU-side ordered list of
// callbacks keyed to syncpoints and an optional downstream fence.

package cmdq

// DeferredFunc is a CPU-side callback run once its syncpoint (and, if
// requested, the downstream fence) has been reached.
type DeferredFunc func(arg any)

type deferredEntry struct {
	cb                 DeferredFunc
	arg                any
	sync               uint32
	waitsForDownstream bool
	next               *deferredEntry
}

// deferredList is appended on the producer thread and drained on the
// producer thread; the interrupt handler never walks it.
type deferredList struct {
	head, tail *deferredEntry
}

func (dl *deferredList) append(e *deferredEntry) {
	if dl.tail == nil {
		dl.head, dl.tail = e, e
		return
	}
	dl.tail.next = e
	dl.tail = e
}

// poll walks from head, stopping at the first entry whose syncpoint has
// not yet been reached. A reached entry that also needs the downstream
// fence is skipped (not stopped on) if that fence hasn't caught up, since
// later entries may still be independently callable. At most one
// callback runs per call, to bound latency.
//
// sync reports whether a ticket has been reached; downstream reports the
// same for the downstream fence counter, using the entry's own sync
// ticket as the downstream clock (the downstream device is expected to
// advance in step with the same command-stream positions, so no second
// ticket field is needed).
func (dl *deferredList) poll(syncReached func(uint32) bool, downstreamReached func(uint32) bool) bool {
	var prev *deferredEntry
	for e := dl.head; e != nil; e = e.next {
		if !syncReached(e.sync) {
			break
		}
		if e.waitsForDownstream && !downstreamReached(e.sync) {
			prev = e
			continue
		}

		dl.unlink(prev, e)
		e.cb(e.arg)
		break
	}
	return dl.head != nil
}

func (dl *deferredList) unlink(prev, e *deferredEntry) {
	if prev == nil {
		dl.head = e.next
	} else {
		prev.next = e.next
	}
	if dl.tail == e {
		dl.tail = prev
	}
}
