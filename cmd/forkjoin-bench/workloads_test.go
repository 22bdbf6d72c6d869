package main

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forkjoin "github.com/Swind/go-forkjoin"
)

func newBenchPool(t *testing.T) *forkjoin.Pool {
	t.Helper()
	pool, err := forkjoin.NewPool(forkjoin.WithParallelism(4), forkjoin.WithLogger(forkjoin.NewNoOpLogger()))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.ShutdownNow()
		pool.AwaitTerminationTimeout(5 * time.Second)
	})
	return pool
}

func TestFibTask(t *testing.T) {
	pool := newBenchPool(t)

	for _, threshold := range []int{1, 5, 40} {
		v, err := pool.Invoke(context.Background(), fibTask(22, threshold))
		require.NoError(t, err)
		assert.Equal(t, 17711, v, "threshold %d", threshold)
	}
}

func TestSortTask(t *testing.T) {
	pool := newBenchPool(t)
	xs := randomInts(10_000, 7)
	want := slices.Clone(xs)
	slices.Sort(want)

	_, err := pool.Invoke(context.Background(), sortTask(xs, make([]int, len(xs)), 64))

	require.NoError(t, err)
	assert.Equal(t, want, xs)
}

func TestMerge(t *testing.T) {
	xs := []int{1, 4, 9, 2, 3, 10, 11}
	merge(xs, make([]int, len(xs)), 3)
	assert.Equal(t, []int{1, 2, 3, 4, 9, 10, 11}, xs)
}
