// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// sslbench samples hyperparameter configurations from a grid, and benchmarks each of them on a set of
// generated stochastic block model graphs, reporting the mean test metrics per configuration.
//
// Example:
//
//	sslbench -grid=grid.yaml -configs=4 -samples=3 -set="epochs=50" -metrics_addr=:9090
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphssl/pkg/benchmark"
	"github.com/gomlx/graphssl/pkg/classmetrics"
	"github.com/gomlx/graphssl/pkg/hparams"
)

var (
	flagGrid = flag.String("grid", "", "YAML file with the hyperparameter grid, with the groups "+
		"\"benchmark\", \"model\" and \"pretext\". If empty, a small built-in grid is used.")
	flagConfigs  = flag.Int("configs", 3, "Number of configurations sampled from the grid.")
	flagSamples  = flag.Int("samples", 2, "Number of generated graphs each configuration is benchmarked on.")
	flagNodes    = flag.Int("nodes", 60, "Number of nodes of the generated graphs.")
	flagClasses  = flag.Int("classes", 3, "Number of classes (blocks) of the generated graphs.")
	flagFeatures = flag.Int("features", 16, "Number of node features of the generated graphs.")
	flagSeed     = flag.Uint64("seed", 0, "Seed for the configurations sampling and the graphs generation.")

	flagTuningMetric = flag.String("tuning_metric", classmetrics.Accuracy,
		fmt.Sprintf("Validation metric used for model selection, one of %q.", classmetrics.Names()))
	flagTuningMetricIsLoss = flag.Bool("tuning_metric_is_loss", false,
		"Whether the tuning metric should be minimized. Defaults to true for \"logloss\".")
	flagParallelism = flag.Int("parallelism", 0, "Maximum number of runs in flight. 0 uses the number of CPUs.")
	flagMetricsAddr = flag.String("metrics_addr", "",
		"If set, address (e.g. \":9090\") where prometheus metrics are served on /metrics.")
	flagCSV  = flag.String("csv", "", "If set, path of a CSV file where the results of every run are written.")
	flagPlot = flag.String("plot", "", "If set, path of a PNG file with the training loss curves per configuration.")
)

const defaultGrid = `
benchmark:
  epochs: 50
  lr: [0.01, 0.005]
  pretext_task: [attribute_mask, grace, dgi, bgrl]
model:
  hidden_channels: [16, 32]
`

func main() {
	ctx := context.New()
	ctx.SetParams(benchmark.DefaultConfig().Params())
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	grid := loadGrid()
	// Settings from the command line override the benchmark group of the grid.
	if grid.Benchmark == nil {
		grid.Benchmark = hparams.Params{}
	}
	for _, key := range paramsSet {
		value, _ := ctx.GetParam(key)
		grid.Benchmark[key] = value
	}

	registry := prometheus.NewRegistry()
	collectors := must.M1(benchmark.NewCollectors(registry))
	if *flagMetricsAddr != "" {
		serveMetrics(registry, *flagMetricsAddr)
	}

	rng := rand.New(rand.NewPCG(*flagSeed, 0))
	elements := generateElements(rng)
	backend := must.M1(backends.New())
	klog.Infof("backend %s, %s possible configurations in grid", backend.Name(), humanize.Comma(int64(grid.Count())))

	configs := make([]hparams.Configuration, *flagConfigs)
	var jobs []benchmark.Job
	for configIdx := range configs {
		configs[configIdx] = must.M1(grid.Sample(rng))
		wrapper := &benchmark.NodeBenchmark{
			Backend:       backend,
			Configuration: configs[configIdx],
			Collectors:    collectors,
		}
		for _, element := range elements {
			jobs = append(jobs, benchmark.Job{Wrapper: wrapper, Element: element})
		}
	}

	isLoss := *flagTuningMetricIsLoss || classmetrics.IsLoss(*flagTuningMetric)
	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("benchmarking"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish())
	start := time.Now()
	results, err := benchmark.RunAll(jobs, benchmark.RunOptions{
		TuningMetric:       *flagTuningMetric,
		TuningMetricIsLoss: isLoss,
		Parallelism:        *flagParallelism,
		OnResult:           func(int, benchmark.Result) { _ = bar.Add(1) },
	})
	_ = bar.Finish()
	if err != nil {
		klog.Fatalf("Benchmark failed: %+v", err)
	}
	klog.Infof("%s runs finished in %s", humanize.Comma(int64(len(results))), time.Since(start).Round(time.Millisecond))
	fmt.Println(report(configs, len(elements), results))
	if *flagCSV != "" {
		must.M(writeCSV(*flagCSV, configs, len(elements), results))
	}
	if *flagPlot != "" {
		if err := plotLosses(*flagPlot, configs, len(elements), results); err != nil {
			klog.Errorf("%+v", err)
		}
	}
}

func loadGrid() *hparams.Grid {
	if *flagGrid == "" {
		return must.M1(hparams.ParseGrid([]byte(defaultGrid)))
	}
	grid, err := hparams.LoadGrid(*flagGrid)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	return grid
}

func serveMetrics(registry *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			klog.Errorf("metrics server on %q stopped: %v", addr, err)
		}
	}()
	klog.Infof("serving prometheus metrics on %s/metrics", addr)
}
