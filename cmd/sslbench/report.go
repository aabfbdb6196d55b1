// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/gomlx/graphssl/pkg/benchmark"
	"github.com/gomlx/graphssl/pkg/classmetrics"
	"github.com/gomlx/graphssl/pkg/hparams"
)

var titleStyle = lipgloss.NewStyle().Bold(true).MarginTop(1).MarginBottom(1)

// newReportTable creates a table with one row per configuration. The first numTextColumns columns describe
// the configuration, the last of them being the count of completed runs, dimmed for the incomplete rows.
// The row bestRow, if not negative, is highlighted.
func newReportTable(bestRow, numTextColumns int, incomplete []bool) *lgtable.Table {
	accent := lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#5FD7FF"}
	cell := lipgloss.NewStyle().Padding(0, 1)
	header := cell.Bold(true).Foreground(accent)
	best := cell.Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005F00", Dark: "#87FF87"})
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(accent)).
		BorderRow(false).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return header
			}
			s := cell
			if row == bestRow {
				s = best
			}
			if col == numTextColumns-1 && row < len(incomplete) && incomplete[row] {
				s = s.Italic(true).Faint(true)
			}
			if col >= numTextColumns-1 {
				s = s.Align(lipgloss.Right)
			}
			return s
		})
}

// describe returns a short description of the resolved hyperparameters of the configuration.
func describe(config hparams.Configuration) string {
	var parts []string
	for _, group := range []hparams.Params{config.Benchmark, config.Model, config.Pretext} {
		for _, name := range group.SortedNames() {
			if name == benchmark.ParamPretextTask {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", name, group[name]))
		}
	}
	return strings.Join(parts, " ")
}

// report aggregates the results (ordered by configuration, then sample) into a table with the mean test
// metrics of each configuration. The configuration with the best mean tuning metric is highlighted.
func report(configs []hparams.Configuration, numSamples int, results []benchmark.Result) string {
	metricNames := classmetrics.Names()
	header := append([]string{"#", "pretext", "hyperparameters", "runs"}, metricNames...)
	means := make([][]float64, len(configs))
	bestRow, bestScore := -1, math.Inf(-1)
	for configIdx := range configs {
		configResults := results[configIdx*numSamples : (configIdx+1)*numSamples]
		means[configIdx] = make([]float64, len(metricNames))
		for metricIdx, name := range metricNames {
			var values []float64
			for _, result := range configResults {
				if value, found := result.TestMetrics[name]; found && !result.Skipped && !math.IsNaN(value) {
					values = append(values, value)
				}
			}
			means[configIdx][metricIdx] = math.NaN()
			if len(values) > 0 {
				means[configIdx][metricIdx] = stat.Mean(values, nil)
			}
			if name == *flagTuningMetric {
				score := means[configIdx][metricIdx]
				if classmetrics.IsLoss(name) || *flagTuningMetricIsLoss {
					score = -score
				}
				if score > bestScore {
					bestRow, bestScore = configIdx, score
				}
			}
		}
	}

	completedRuns := make([]int, len(configs))
	incomplete := make([]bool, len(configs))
	for configIdx := range configs {
		for _, result := range results[configIdx*numSamples : (configIdx+1)*numSamples] {
			if !result.Skipped {
				completedRuns[configIdx]++
			}
		}
		incomplete[configIdx] = completedRuns[configIdx] < numSamples
	}

	table := newReportTable(bestRow, 4, incomplete).Headers(header...)
	for configIdx, config := range configs {
		completed := completedRuns[configIdx]
		pretextTask := hparams.GetOr(config.Benchmark, benchmark.ParamPretextTask, "none")
		row := []string{
			humanize.Ordinal(configIdx + 1),
			pretextTask,
			describe(config),
			fmt.Sprintf("%d/%d", completed, numSamples),
		}
		for _, mean := range means[configIdx] {
			row = append(row, fmt.Sprintf("%.4f", mean))
		}
		table.Row(row...)
	}
	title := titleStyle.Render(fmt.Sprintf("Mean test metrics over %s samples, selected by validation %s",
		humanize.Comma(int64(numSamples)), *flagTuningMetric))
	return title + "\n" + table.Render()
}
