// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Bounded(t *testing.T) {
	pool := New(3)
	require.Equal(t, 3, pool.MaxParallelism())

	var running, maxRunning, count atomic.Int32
	release := make(chan struct{})
	const numTasks = 10
	go func() {
		for range numTasks {
			pool.Submit(func() {
				current := running.Add(1)
				for {
					previous := maxRunning.Load()
					if current <= previous || maxRunning.CompareAndSwap(previous, current) {
						break
					}
				}
				<-release
				running.Add(-1)
				count.Add(1)
			})
		}
	}()

	// Wait for the pool to saturate.
	require.Eventually(t, func() bool { return pool.NumRunning() == 3 }, time.Second, time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return count.Load() == numTasks }, time.Second, time.Millisecond)
	pool.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(3))
	assert.Equal(t, 0, pool.NumRunning())
}

func TestPool_Inline(t *testing.T) {
	pool := New(1)
	var count int
	for range 5 {
		pool.Submit(func() { count++ })
	}
	pool.Wait()
	assert.Equal(t, 5, count)

	pool = New(0)
	assert.Equal(t, runtime.NumCPU(), pool.MaxParallelism())
}
