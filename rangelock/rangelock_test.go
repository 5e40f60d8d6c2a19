package rangelock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireNonOverlappingSucceedsImmediately(t *testing.T) {
	table := New()
	ctx := context.Background()

	l1, err := table.Acquire(ctx, 0, 10)
	require.NoError(t, err)
	l2, err := table.Acquire(ctx, 10, 10)
	require.NoError(t, err)

	assert.Len(t, table.Active(), 2)
	table.Release(l1)
	table.Release(l2)
	assert.Len(t, table.Active(), 0)
}

func TestAcquireOverlappingBlocksUntilRelease(t *testing.T) {
	table := New()
	ctx := context.Background()

	l1, err := table.Acquire(ctx, 0, 10)
	require.NoError(t, err)

	acquired := make(chan *Lock, 1)
	go func() {
		l2, err := table.Acquire(ctx, 5, 10)
		require.NoError(t, err)
		acquired <- l2
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	table.Release(l1)

	select {
	case l2 := <-acquired:
		table.Release(l2)
	case <-time.After(time.Second):
		t.Fatal("overlapping acquire never woke up after release")
	}
}

func TestRangeLocksSerializeObservableOrder(t *testing.T) {
	// Concurrent overlapping writers observe the order in which they
	// acquired the range lock, and never hold it at the same time
	// (spec.md §8 scenario 6).
	table := New()
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	holders, maxHolders := 0, 0
	var wg sync.WaitGroup

	first, err := table.Acquire(ctx, 0, 4)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := table.Acquire(ctx, 0, 4)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			table.Release(l)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	table.Release(first)
	wg.Wait()

	assert.Len(t, order, 5)
	assert.Equal(t, 1, maxHolders)
	assert.Empty(t, table.Active())
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	table := New()
	_, err := table.Acquire(context.Background(), 0, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = table.Acquire(ctx, 5, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
