package runner

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesInputOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}

	outcomes := Map(context.Background(), items, 3, func(ctx context.Context, n int) (string, error) {
		// Later items finish first.
		time.Sleep(time.Duration(n) * time.Millisecond)
		return strconv.Itoa(n), nil
	})

	require.Len(t, outcomes, len(items))
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.NoError(t, o.Err)
		assert.Equal(t, strconv.Itoa(items[i]), o.Value)
	}
}

func TestMap_ConcurrencyCeiling(t *testing.T) {
	const limit = 2
	var inFlight, highWater int64

	items := make([]int, 12)
	outcomes := Map(context.Background(), items, limit, func(ctx context.Context, _ int) (struct{}, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			hw := atomic.LoadInt64(&highWater)
			if cur <= hw || atomic.CompareAndSwapInt64(&highWater, hw, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	})

	assert.Len(t, outcomes, 12)
	assert.LessOrEqual(t, atomic.LoadInt64(&highWater), int64(limit))
}

func TestMap_FailureDoesNotAbortOthers(t *testing.T) {
	items := []int{0, 1, 2, 3}

	outcomes := Map(context.Background(), items, 2, func(ctx context.Context, n int) (int, error) {
		if n%2 == 1 {
			return 0, eris.Errorf("item %d failed", n)
		}
		return n * 10, nil
	})

	require.Len(t, outcomes, 4)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)
	assert.Error(t, outcomes[3].Err)
	assert.Equal(t, 20, outcomes[2].Value)
}

func TestMap_PanicBecomesFailure(t *testing.T) {
	outcomes := Map(context.Background(), []int{0, 1}, 1, func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			panic("boom")
		}
		return n, nil
	})

	require.Len(t, outcomes, 2)
	assert.ErrorContains(t, outcomes[0].Err, "task panic")
	assert.NoError(t, outcomes[1].Err)
}

func TestMap_CancelledContextFailsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := Map(ctx, []int{1, 2, 3}, 1, func(ctx context.Context, n int) (int, error) {
		return n, nil
	})

	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Error(t, o.Err)
	}
}

func TestMap_DefaultLimit(t *testing.T) {
	outcomes := Map(context.Background(), []int{1}, 0, func(ctx context.Context, n int) (int, error) {
		return n + 1, nil
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, 2, outcomes[0].Value)
}
