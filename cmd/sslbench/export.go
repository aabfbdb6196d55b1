// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/gomlx/graphssl/pkg/benchmark"
	"github.com/gomlx/graphssl/pkg/classmetrics"
	"github.com/gomlx/graphssl/pkg/hparams"
)

// resultsDataFrame has one row per run, with the configuration index, the identifying fields and the
// test metrics (NaN for skipped runs).
func resultsDataFrame(configs []hparams.Configuration, numSamples int, results []benchmark.Result) dataframe.DataFrame {
	numRuns := len(results)
	configIdx := make([]int, numRuns)
	pretextTasks := make([]string, numRuns)
	sampleIDs := make([]string, numRuns)
	runIDs := make([]string, numRuns)
	skipped := make([]bool, numRuns)
	failures := make([]string, numRuns)
	epochs := make([]int, numRuns)
	for ii, result := range results {
		configIdx[ii] = ii / numSamples
		pretextTasks[ii] = hparams.GetOr(configs[ii/numSamples].Benchmark, benchmark.ParamPretextTask, "none")
		sampleIDs[ii] = result.SampleID
		runIDs[ii] = result.RunID
		skipped[ii] = result.Skipped
		if result.Err != nil {
			failures[ii] = result.Err.Error()
		}
		epochs[ii] = len(result.Losses)
	}
	columns := []series.Series{
		series.New(configIdx, series.Int, "config"),
		series.New(pretextTasks, series.String, "pretext_task"),
		series.New(sampleIDs, series.String, "sample_id"),
		series.New(runIDs, series.String, "run_id"),
		series.New(skipped, series.Bool, "skipped"),
		series.New(failures, series.String, "error"),
		series.New(epochs, series.Int, "epochs"),
	}
	for _, name := range classmetrics.Names() {
		values := make([]float64, numRuns)
		for ii, result := range results {
			value, found := result.TestMetrics[name]
			if !found {
				value = math.NaN()
			}
			values[ii] = value
		}
		columns = append(columns, series.New(values, series.Float, "test_"+name))
	}
	return dataframe.New(columns...)
}

// writeCSV writes the per-run results to path.
func writeCSV(path string, configs []hparams.Configuration, numSamples int, results []benchmark.Result) error {
	df := resultsDataFrame(configs, numSamples, results)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build results table")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write results to %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}

// plotLosses saves to path the training loss per epoch of each configuration, averaged over its
// completed runs.
func plotLosses(path string, configs []hparams.Configuration, numSamples int, results []benchmark.Result) error {
	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	var lines []any
	for configIdx := range configs {
		var sums []float64
		var counts []int
		for _, result := range results[configIdx*numSamples : (configIdx+1)*numSamples] {
			if result.Skipped {
				continue
			}
			for epoch, loss := range result.Losses {
				if epoch >= len(sums) {
					sums = append(sums, 0)
					counts = append(counts, 0)
				}
				sums[epoch] += loss
				counts[epoch]++
			}
		}
		if len(sums) == 0 {
			continue
		}
		points := make(plotter.XYs, len(sums))
		for epoch := range sums {
			points[epoch].X = float64(epoch)
			points[epoch].Y = sums[epoch] / float64(counts[epoch])
		}
		pretextTask := hparams.GetOr(configs[configIdx].Benchmark, benchmark.ParamPretextTask, "none")
		lines = append(lines, fmt.Sprintf("#%d %s", configIdx+1, pretextTask), points)
	}
	if len(lines) == 0 {
		return errors.New("no completed runs to plot")
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return errors.Wrap(err, "failed to plot losses")
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", path)
	}
	return nil
}
