package main

import (
	"context"
	"math/rand/v2"
	"slices"

	forkjoin "github.com/Swind/go-forkjoin"
)

// fibTask computes fib(n), falling back to a sequential loop below threshold.
func fibTask(n, threshold int) *forkjoin.Task {
	return forkjoin.NewTask(func(ctx context.Context) (any, error) {
		if n <= threshold {
			return fibSeq(n), nil
		}
		f1 := fibTask(n-1, threshold)
		if err := f1.Fork(ctx); err != nil {
			return nil, err
		}
		v2, err := fibTask(n-2, threshold).Invoke(ctx)
		if err != nil {
			return nil, err
		}
		v1, err := f1.Join(ctx)
		if err != nil {
			return nil, err
		}
		return v1.(int) + v2.(int), nil
	})
}

func fibSeq(n int) int {
	a, b := 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}

// sortTask merge sorts xs in place using buf as scratch space of equal length.
func sortTask(xs, buf []int, threshold int) *forkjoin.Task {
	return forkjoin.NewAction(func(ctx context.Context) error {
		if len(xs) <= threshold {
			slices.Sort(xs)
			return nil
		}
		mid := len(xs) / 2
		err := forkjoin.InvokeAll(ctx,
			sortTask(xs[:mid], buf[:mid], threshold),
			sortTask(xs[mid:], buf[mid:], threshold))
		if err != nil {
			return err
		}
		merge(xs, buf, mid)
		return nil
	})
}

func merge(xs, buf []int, mid int) {
	copy(buf, xs)
	i, j, k := 0, mid, 0
	for i < mid && j < len(xs) {
		if buf[i] <= buf[j] {
			xs[k] = buf[i]
			i++
		} else {
			xs[k] = buf[j]
			j++
		}
		k++
	}
	k += copy(xs[k:], buf[i:mid])
	copy(xs[k:], buf[j:])
}

func randomInts(n int, seed uint64) []int {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	xs := make([]int, n)
	for i := range xs {
		xs[i] = r.IntN(n * 4)
	}
	return xs
}
