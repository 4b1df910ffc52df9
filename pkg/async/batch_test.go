package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_RunsEveryItem(t *testing.T) {
	var sum atomic.Int64
	errs := Batch(context.Background(), []int{1, 2, 3, 4}, 2, "sum", time.Second, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int64(10), sum.Load())
}

func TestBatch_CollectsFailures(t *testing.T) {
	errOdd := errors.New("odd")
	errs := Batch(context.Background(), []int{1, 2, 3}, 3, "flush", time.Second, func(_ context.Context, n int) error {
		if n%2 == 1 {
			return errOdd
		}
		return nil
	})

	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, errOdd)
	}
	assert.Contains(t, errs[0].Error(), "flush[0]")
	assert.Contains(t, errs[1].Error(), "flush[2]")
}

func TestBatch_PanicAndTimeout(t *testing.T) {
	errs := Batch(context.Background(), []string{"panic", "slow"}, 2, "sinks", 20*time.Millisecond, func(ctx context.Context, s string) error {
		if s == "panic" {
			panic("disk gone")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrTaskPanicked)
	assert.ErrorIs(t, errs[1], context.DeadlineExceeded)
}

func TestBatch_Empty(t *testing.T) {
	assert.Empty(t, Batch(context.Background(), []int(nil), 0, "none", time.Second, func(context.Context, int) error {
		return errors.New("never called")
	}))
}
