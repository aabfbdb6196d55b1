// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphssl/internal/workerspool"
)

// Job is one benchmark run: a configuration, given by its Wrapper, on one data element.
type Job struct {
	Wrapper Wrapper
	Element Element
}

// RunOptions configures RunAll.
type RunOptions struct {
	TuningMetric       string
	TuningMetricIsLoss bool

	// Parallelism is the maximum number of runs in flight. If <= 0 it uses the number of CPUs.
	Parallelism int

	// OnResult, if set, is called after each run finishes, with the job index and its result.
	// Calls are serialized.
	OnResult func(jobIdx int, result Result)
}

// RunAll benchmarks every job, each with its own ModelBenchmarker, and returns the results in the order
// of jobs.
//
// Training failures are reported as skipped results. It returns an error, after the runs in flight
// finish, if a benchmarker can't be created or a run fails a precondition: later jobs are not started.
func RunAll(jobs []Job, options RunOptions) ([]Result, error) {
	results := make([]Result, len(jobs))
	pool := workerspool.New(options.Parallelism)
	var mu sync.Mutex
	var firstErr error
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	for jobIdx, job := range jobs {
		if failed() {
			break
		}
		pool.Submit(func() {
			var result Result
			err := exceptions.TryCatch[error](func() {
				m, err := job.Wrapper.GetBenchmarker()
				if err != nil {
					panic(errors.WithMessagef(err, "creating %s for sample id %s",
						job.Wrapper.GetBenchmarkerClass(), job.Element.SampleID))
				}
				result = m.Benchmark(job.Element, options.TuningMetric, options.TuningMetricIsLoss)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				klog.Errorf("job %d failed: %+v", jobIdx, err)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results[jobIdx] = result
			if options.OnResult != nil {
				options.OnResult(jobIdx, result)
			}
		})
	}
	pool.Wait()
	return results, firstErr
}
