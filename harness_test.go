package cmdq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHarnessRunDrivesBothConsumerModels(t *testing.T) {
	q := testQueue(t)
	h := NewHarness(q, 256)

	var executed int
	h.OnNoop(func() { executed++ })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.Run(ctx, func(q *Queue) error {
		for i := 0; i < 20; i++ {
			if err := q.Noop(); err != nil {
				return err
			}
		}
		q.HighPriBegin()
		for i := 0; i < 5; i++ {
			if err := q.Noop(); err != nil {
				return err
			}
		}
		if err := q.HighPriEnd(); err != nil {
			return err
		}
		return q.Wait()
	})
	require.NoError(t, err)
	require.Equal(t, 25, executed)
}

func TestHarnessRunPropagatesProducerError(t *testing.T) {
	q := testQueue(t)
	h := NewHarness(q, 64)

	boom := ErrCommandTooLarge
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := h.Run(ctx, func(q *Queue) error { return boom })
	require.ErrorIs(t, err, boom)
}
