// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/graphssl/pkg/classmetrics"
	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
	"github.com/gomlx/graphssl/pkg/pretext"
)

var testBackend = sync.OnceValue(func() backends.Backend {
	return must.M1(backends.New())
})

// toyElement returns a stochastic block model graph with 10 nodes and 4 features, split 4/3/3.
func toyElement(t *testing.T, sampleID string) Element {
	rng := rand.New(rand.NewPCG(7, 11))
	data, err := graphdata.GenerateSBM(graphdata.DefaultSBMConfig(10, 2, 4), rng)
	require.NoError(t, err)
	train, val, test, err := graphdata.SplitMasks(10, 4, 3, 3, rng)
	require.NoError(t, err)
	return Element{
		SampleID:        sampleID,
		Graph:           data,
		Masks:           [3][]bool{train, val, test},
		GeneratorConfig: map[string]any{"num_nodes": 10},
	}
}

func newToyBenchmarker(t *testing.T, benchmarkParams, pretextParams hparams.Params) *ModelBenchmarker {
	m, err := NewModelBenchmarker(testBackend(), benchmarkParams, hparams.Params{encoder.ParamHiddenChannels: 8},
		pretextParams)
	require.NoError(t, err)
	return m
}

func requirePrecondition(t *testing.T, fn func()) {
	err := exceptions.TryCatch[error](fn)
	require.Error(t, err)
	var precondition *PreconditionError
	assert.Truef(t, errors.As(err, &precondition), "expected a PreconditionError, got %v", err)
}

func requireFinite(t *testing.T, losses []float64) {
	for epoch, loss := range losses {
		require.Falsef(t, math.IsNaN(loss) || math.IsInf(loss, 0), "loss of epoch %d is %g", epoch, loss)
	}
}

func TestConfigFromParams(t *testing.T) {
	config, err := ConfigFromParams(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)

	config, err = ConfigFromParams(hparams.Params{
		ParamEpochs:         7,
		ParamLearningRate:   1, // Integers are converted.
		ParamTrainingScheme: "alternate",
		ParamPretextTask:    "grace",
		ParamSeed:           3,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, config.Epochs)
	assert.Equal(t, 1.0, config.LearningRate)
	assert.Equal(t, SchemeAlternate, config.Scheme)
	assert.Equal(t, "grace", config.PretextTask)
	assert.Equal(t, int64(3), config.Seed)
	assert.Equal(t, int64(3), config.Params()[ParamSeed])

	for _, params := range []hparams.Params{
		{"epoch": 10},
		{ParamEpochs: 0},
		{ParamEpochs: "ten"},
		{ParamTrainingScheme: "sometimes"},
		{ParamPretextTask: "not_a_task"},
		{ParamLearningRate: []any{0.1, 0.01}},
	} {
		_, err = ConfigFromParams(params)
		assert.Errorf(t, err, "params %v should have failed", params)
	}
}

func TestEndToEnd(t *testing.T) {
	m := newToyBenchmarker(t,
		hparams.Params{ParamEpochs: 5, ParamPretextTask: "attribute_mask", ParamSeed: 1},
		hparams.Params{"node_mask_ratio": 0.2})
	result := m.Benchmark(toyElement(t, "toy"), classmetrics.Accuracy, false)
	require.False(t, result.Skipped)
	assert.Equal(t, "toy", result.SampleID)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Losses, 5)
	requireFinite(t, result.Losses)
	require.NotNil(t, result.TestMetrics)
	for _, name := range []string{classmetrics.Accuracy, classmetrics.F1Micro} {
		require.Contains(t, result.TestMetrics, name)
		assert.GreaterOrEqual(t, result.TestMetrics[name], 0.0)
		assert.LessOrEqual(t, result.TestMetrics[name], 1.0)
	}
	assert.Contains(t, result.ValMetrics, classmetrics.Accuracy)

	// Model variables in their scopes.
	ctx := m.Context()
	require.NotNil(t, ctx)
	assert.NotNil(t, ctx.GetVariableByScopeAndName(ClassifierScope+"/dense", "weights"))
	assert.Equal(t, "attribute_mask", m.Task().Name())
}

func TestSkipped(t *testing.T) {
	m := newToyBenchmarker(t, hparams.Params{ParamEpochs: 2}, nil)
	element := toyElement(t, "degenerate")
	element.Skipped = true
	result := m.Benchmark(element, classmetrics.Accuracy, false)
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Losses)
	assert.Empty(t, result.TestMetrics)
	assert.Empty(t, result.ValMetrics)
	assert.Equal(t, "degenerate", result.SampleID)
	assert.Nil(t, m.Context(), "no model should be created for skipped elements")
}

func TestTrainingFailureIsSkipped(t *testing.T) {
	registry := prometheus.NewRegistry()
	collectors, err := NewCollectors(registry)
	require.NoError(t, err)
	m := newToyBenchmarker(t, hparams.Params{ParamEpochs: 2}, nil)
	m.SetCollectors(collectors)
	element := toyElement(t, "no-validation")
	// Without validation nodes there is nothing to evaluate: it fails during training.
	element.Masks[ValMask] = make([]bool, 10)
	result := m.Benchmark(element, classmetrics.Accuracy, false)
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Losses)
	assert.Empty(t, result.TestMetrics)
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, classmetrics.ErrNoExamples)
	assert.ErrorContains(t, result.Err, "validation metrics")
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Runs.WithLabelValues(OutcomeFailed)))

	// The model itself trained fine: only the validation metrics failed.
	_, err = m.TrainStep(element.Graph)
	require.NoError(t, err)
	_, err = m.Test(element.Graph, false)
	require.NoError(t, err)
}

func TestPreconditionsPanic(t *testing.T) {
	m := newToyBenchmarker(t, hparams.Params{ParamEpochs: 2}, nil)
	element := toyElement(t, "short-mask")
	element.Masks[TestMask] = element.Masks[TestMask][:5]
	requirePrecondition(t, func() { m.Benchmark(element, classmetrics.Accuracy, false) })

	element = toyElement(t, "bad-metric")
	requirePrecondition(t, func() { m.Benchmark(element, "precision", false) })

	element = toyElement(t, "overlapping")
	element.Masks[ValMask] = element.Masks[TrainMask]
	requirePrecondition(t, func() { m.Benchmark(element, classmetrics.Accuracy, false) })

	m = newToyBenchmarker(t, hparams.Params{ParamEpochs: 2, ParamPretextTask: "grace"}, hparams.Params{"tau": -1.0})
	requirePrecondition(t, func() { m.Benchmark(toyElement(t, "bad-tau"), classmetrics.Accuracy, false) })
}

// corruptedSubgCon returns a benchmarker whose subg_con subgraphs lost the central index of the last node,
// so embeddings and subgraph summaries no longer match.
func corruptedSubgCon(t *testing.T, element Element) *ModelBenchmarker {
	m := newToyBenchmarker(t, hparams.Params{ParamEpochs: 2, ParamPretextTask: "subg_con"}, hparams.Params{"k": 3})
	m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], element.Masks[TestMask])
	require.NoError(t, m.setup(element.Graph))
	task, ok := m.Task().(*pretext.SubgCon)
	require.True(t, ok)
	set := task.Subgraphs()
	set.CentralIndices = set.CentralIndices[:len(set.CentralIndices)-1]
	return m
}

func TestGraphInvariantsPanic(t *testing.T) {
	element := toyElement(t, "subg_con")
	m := corruptedSubgCon(t, element)
	_, err := m.TrainStep(element.Graph)
	require.Error(t, err)
	var precondition *PreconditionError
	require.Truef(t, errors.As(err, &precondition), "expected a PreconditionError, got %v", err)
	assert.ErrorContains(t, err, "embeddings shaped")

	// Benchmark keeps the model (same masks) and must not report the violation as a skipped run.
	m = corruptedSubgCon(t, element)
	ctx := m.Context()
	requirePrecondition(t, func() { m.Benchmark(element, classmetrics.Accuracy, false) })
	assert.Same(t, ctx, m.Context())
}

func TestSetMasks(t *testing.T) {
	element := toyElement(t, "masks")
	m := newToyBenchmarker(t, hparams.Params{ParamEpochs: 1}, nil)
	m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], element.Masks[TestMask])
	require.NoError(t, m.setup(element.Graph))
	m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], element.Masks[TestMask])
	assert.Same(t, element.Graph, m.data, "same masks keep the model")

	test := slices.Clone(element.Masks[TestMask])
	for node, inTest := range test {
		if inTest {
			test[node] = false
			break
		}
	}
	m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], test)
	assert.Nil(t, m.data, "changed masks discard the model")
}

func TestTrainSchemes(t *testing.T) {
	for _, scheme := range []TrainingScheme{SchemeJoint, SchemeAlternate} {
		t.Run(string(scheme), func(t *testing.T) {
			m := newToyBenchmarker(t, hparams.Params{
				ParamEpochs:         3,
				ParamPretextTask:    "dgi",
				ParamTrainingScheme: string(scheme),
				ParamPretextWeight:  0.5,
			}, nil)
			element := toyElement(t, "schemes")
			m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], element.Masks[TestMask])
			losses, testMetrics, valMetrics, err := m.Train(element.Graph, classmetrics.LogLoss, true)
			require.NoError(t, err)
			require.Len(t, losses, 3)
			requireFinite(t, losses)
			assert.Len(t, testMetrics, len(classmetrics.Names()))
			assert.Len(t, valMetrics, len(classmetrics.Names()))
		})
	}
}

func TestSupervisedOnly(t *testing.T) {
	m := newToyBenchmarker(t, hparams.Params{ParamEpochs: 30, ParamLearningRate: 0.05}, nil)
	element := toyElement(t, "supervised")
	m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], element.Masks[TestMask])
	first, err := m.TrainStep(element.Graph)
	require.NoError(t, err)
	var last float64
	for range 30 {
		last, err = m.TrainStep(element.Graph)
		require.NoError(t, err)
	}
	assert.Less(t, last, first, "training loss should decrease on 4 training nodes")
	assert.Nil(t, m.Task())

	_, err = m.TrainStep(nil)
	assert.Error(t, err)
	_, _, _, err = m.Train(element.Graph, "precision", false)
	assert.Error(t, err)
}

func TestAdjustParams(t *testing.T) {
	m := newToyBenchmarker(t, nil, nil)
	m.AdjustParams(map[string]any{"num_nodes": 10})
	assert.NotContains(t, m.ModelParams(), encoder.ParamOutChannels)
	m.AdjustParams(map[string]any{"num_clusters": 5})
	assert.Equal(t, 5, m.ModelParams()[encoder.ParamOutChannels])
}

func TestRunAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	collectors, err := NewCollectors(registry)
	require.NoError(t, err)
	_, err = NewCollectors(registry)
	require.Error(t, err, "collectors can only be registered once")

	wrapper := &NodeBenchmark{
		Backend: testBackend(),
		Configuration: hparams.Configuration{
			Benchmark: hparams.Params{ParamEpochs: 2, ParamPretextTask: "grace"},
			Model:     hparams.Params{encoder.ParamHiddenChannels: 8},
		},
		Collectors: collectors,
	}
	assert.Equal(t, "ModelBenchmarker", wrapper.GetBenchmarkerClass())
	skipped := toyElement(t, "b")
	skipped.Skipped = true
	jobs := []Job{
		{Wrapper: wrapper, Element: toyElement(t, "a")},
		{Wrapper: wrapper, Element: skipped},
	}
	var reported []int
	results, err := RunAll(jobs, RunOptions{
		TuningMetric: classmetrics.Accuracy,
		Parallelism:  2,
		OnResult:     func(jobIdx int, _ Result) { reported = append(reported, jobIdx) },
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []int{0, 1}, reported)
	assert.Equal(t, "a", results[0].SampleID)
	assert.False(t, results[0].Skipped)
	assert.Len(t, results[0].Losses, 2)
	assert.True(t, results[1].Skipped)
	assert.NotEqual(t, results[0].RunID, results[1].RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Runs.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Runs.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(collectors.EpochDuration))

	// Invalid configurations are reported as errors.
	invalid := &NodeBenchmark{
		Backend:       testBackend(),
		Configuration: hparams.Configuration{Benchmark: hparams.Params{ParamEpochs: -1}},
	}
	_, err = RunAll([]Job{{Wrapper: invalid, Element: toyElement(t, "c")}}, RunOptions{TuningMetric: classmetrics.Accuracy})
	assert.Error(t, err)
}
