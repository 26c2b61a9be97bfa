package cmdq

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestQueueSnapshotCapturesLiveState(t *testing.T) {
	q := testQueue(t)
	require.NoError(t, q.Noop())
	require.NoError(t, q.Noop())

	img := OverlayImage{HeaderABI: ABIVersion, DataAddr: 10, DataSize: 64, CommandCount: 4}
	base, err := q.OverlayRegister(img)
	require.NoError(t, err)

	want := QueueSnapshot{
		ActiveIdx:     0,
		WritePtr:      q.lowRing.writePtr,
		Sentinel:      q.lowRing.sentinel,
		SyncpointGen:  0,
		SyncpointDone: 0,
		Status:        q.status.Load(),
		OverlayIDs:    []byte{byte(base >> 28)},
	}
	got := q.Snapshot()

	diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(QueueSnapshot{}, "LowBuf", "HighBuf"),
		cmpopts.SortSlices(func(a, b byte) bool { return a < b }),
	)
	require.Empty(t, diff, "snapshot mismatch (-want +got)")
}

func TestQueueSnapshotEncodeStartsWithMagic(t *testing.T) {
	q := testQueue(t)
	require.NoError(t, q.Noop())

	raw, err := q.Snapshot().Encode()
	require.NoError(t, err)
	require.Greater(t, len(raw), len(snapshotMagic))
	require.Equal(t, []byte(snapshotMagic), raw[:len(snapshotMagic)])
}
