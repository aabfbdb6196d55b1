// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent benchmark runs concurrently, with a bound on the number of runs in
// flight.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs tasks in goroutines, at most MaxParallelism at a time.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning decreases.
	numRunning     int
	finished       sync.WaitGroup
}

// New returns a Pool running at most maxParallelism tasks at a time.
// If maxParallelism <= 0, it uses runtime.NumCPU().
//
// A parallelism of 1 runs the tasks inline, in the goroutine calling Submit.
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the maximum number of tasks running at the same time.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// NumRunning returns the number of tasks currently running.
func (p *Pool) NumRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRunning
}

// Submit waits until there is a free slot, and starts the task in a new goroutine.
// With a parallelism of 1 it runs the task and returns when it's finished.
func (p *Pool) Submit(task func()) {
	p.finished.Add(1)
	if p.maxParallelism == 1 {
		defer p.finished.Done()
		task()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.numRunning++
	go func() {
		defer p.finished.Done()
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Signal()
			p.mu.Unlock()
		}()
		task()
	}()
}

// Wait blocks until all submitted tasks are finished.
func (p *Pool) Wait() {
	p.finished.Wait()
}
