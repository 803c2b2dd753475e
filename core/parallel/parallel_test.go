package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelize_CoversEveryItemOnce(t *testing.T) {
	const n = 1037
	seen := make([]int32, n)
	Parallelize(n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
	})
	for i, c := range seen {
		assert.Equal(t, int32(1), c, "item %d", i)
	}
}

func TestParallelizeWithThreshold_Sequential(t *testing.T) {
	calls := 0
	ParallelizeWithThreshold(10, DefaultThreshold, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, 1, calls)
}

func TestParallelizeErr(t *testing.T) {
	t.Run("propagates error", func(t *testing.T) {
		boom := errors.New("boom")
		err := ParallelizeErr(context.Background(), 100, func(_ context.Context, start, _ int) error {
			if start == 0 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("zero items", func(t *testing.T) {
		assert.NoError(t, ParallelizeErr(context.Background(), 0, nil))
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var ran int32
		err := ParallelizeErr(ctx, 50, func(context.Context, int, int) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), ran)
	})
}
