// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphssl/pkg/classmetrics"
	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
	"github.com/gomlx/graphssl/pkg/pretext"
)

// ClassifierScope is the scope of the downstream linear classifier variables.
const ClassifierScope = "/classifier"

// Indices of the masks in Element.Masks.
const (
	TrainMask = iota
	ValMask
	TestMask
)

var maskNames = [3]string{"train", "validation", "test"}

// PreconditionError is raised (as a panic) by Benchmark on programming or configuration errors: invalid
// hyperparameters, masks not matching the graph, an invalid graph, an unknown tuning metric, or an invariant
// violated while building the model graphs (e.g. mismatched shapes in a pretext task).
// Unlike training failures, these are never converted to skipped results.
type PreconditionError struct {
	Err error
}

// Error implements error.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("benchmark precondition failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *PreconditionError) Unwrap() error { return e.Err }

// ModelBenchmarker trains a GCN encoder with a linear classifier on a node classification task,
// optionally regularized by a self-supervised pretext task, and evaluates it.
//
// The model (context, encoder, classifier and pretext task) is created on the first call that receives a
// graph, and kept while the following calls use the same graph.
//
// A ModelBenchmarker is not safe for concurrent use: separate runs should use separate instances.
type ModelBenchmarker struct {
	backend       backends.Backend
	config        Config
	modelParams   hparams.Params
	pretextParams hparams.Params
	collectors    *Collectors

	masks [3][]bool

	// Model state, created by setup.
	data      *graphdata.Graph
	ctx       *context.Context
	encoder   encoder.Encoder
	task      pretext.Task
	optimizer optimizers.Interface
	execs     map[string]*context.Exec
}

// NewModelBenchmarker creates a benchmarker for one resolved configuration: benchmarkParams (see Param*
// constants), modelParams (see encoder.NewGCN) and pretextParams (see pretext.New).
func NewModelBenchmarker(backend backends.Backend, benchmarkParams, modelParams, pretextParams hparams.Params) (
	*ModelBenchmarker, error) {
	if backend == nil {
		return nil, errors.New("ModelBenchmarker requires a backend")
	}
	config, err := ConfigFromParams(benchmarkParams)
	if err != nil {
		return nil, err
	}
	if !modelParams.IsResolved() {
		return nil, errors.Errorf("model parameters %v are not resolved to a single configuration", modelParams)
	}
	return &ModelBenchmarker{
		backend:       backend,
		config:        config,
		modelParams:   modelParams.Clone(),
		pretextParams: pretextParams.Clone(),
	}, nil
}

// Config returns the resolved benchmark configuration.
func (m *ModelBenchmarker) Config() Config { return m.config }

// ModelParams returns the model hyperparameters, after AdjustParams.
func (m *ModelBenchmarker) ModelParams() hparams.Params { return m.modelParams }

// Context returns the context holding the model variables, or nil if no model was created yet.
func (m *ModelBenchmarker) Context() *context.Context { return m.ctx }

// Task returns the pretext task of the current model, or nil.
func (m *ModelBenchmarker) Task() pretext.Task { return m.task }

// SetCollectors sets the prometheus collectors updated by Train and Benchmark. nil disables them.
func (m *ModelBenchmarker) SetCollectors(collectors *Collectors) {
	m.collectors = collectors
}

// AdjustParams adapts the model hyperparameters to the data generator configuration: if it defines
// "num_clusters", the encoder output dimension is set to it.
//
// It discards the current model, if any.
func (m *ModelBenchmarker) AdjustParams(generatorConfig map[string]any) {
	numClusters, found := generatorConfig["num_clusters"]
	if !found {
		return
	}
	if m.modelParams == nil {
		m.modelParams = hparams.Params{}
	}
	m.modelParams[encoder.ParamOutChannels] = numClusters
	m.data = nil
}

// SetMasks installs the disjoint train, validation and test node masks. It must be called before training.
// The masks are checked against the graph when the model is created.
//
// If any of the masks changed, the current model is discarded.
func (m *ModelBenchmarker) SetMasks(train, val, test []bool) {
	masks := [3][]bool{slices.Clone(train), slices.Clone(val), slices.Clone(test)}
	for ii := range masks {
		if m.masks[ii] == nil || !slices.Equal(m.masks[ii], masks[ii]) {
			m.masks = masks
			m.data = nil
			return
		}
	}
}

func (m *ModelBenchmarker) checkMasks(numNodes int) error {
	for ii, mask := range m.masks {
		if mask == nil {
			return errors.Errorf("%s mask not set, SetMasks must be called before training", maskNames[ii])
		}
		if len(mask) != numNodes {
			return errors.Errorf("%s mask has %d entries for a graph with %d nodes", maskNames[ii], len(mask), numNodes)
		}
	}
	for node := range numNodes {
		count := 0
		for _, mask := range m.masks {
			if mask[node] {
				count++
			}
		}
		if count > 1 {
			return errors.Errorf("node %d is in more than one of the train, validation and test masks", node)
		}
	}
	if !slices.Contains(m.masks[TrainMask], true) {
		return errors.New("train mask is empty")
	}
	return nil
}

// setup creates the model for data, if it's not yet created for it.
func (m *ModelBenchmarker) setup(data *graphdata.Graph) error {
	if data == nil {
		return errors.New("no graph given")
	}
	if data == m.data && m.ctx != nil {
		return nil
	}
	if err := data.Validate(); err != nil {
		return errors.WithMessage(err, "invalid graph")
	}
	if len(data.Labels) != data.NumNodes || data.NumClasses < 1 {
		return errors.Errorf("graph needs labels for its %d nodes and NumClasses >= 1, got %d labels and NumClasses=%d",
			data.NumNodes, len(data.Labels), data.NumClasses)
	}
	if err := m.checkMasks(data.NumNodes); err != nil {
		return err
	}

	var gcn *encoder.GCN
	err := exceptions.TryCatch[error](func() { gcn = encoder.NewGCN(m.modelParams) })
	if err != nil {
		return errors.WithMessage(err, "invalid model parameters")
	}
	var task pretext.Task
	if m.config.PretextTask != "" {
		task, err = pretext.New(m.config.PretextTask, m.pretextParams, pretext.Env{
			Graph:     data,
			Encoder:   gcn,
			TrainMask: m.masks[TrainMask],
			Rng:       rand.New(rand.NewPCG(uint64(m.config.Seed), 0)),
			Epochs:    m.config.Epochs,
		})
		if err != nil {
			return err
		}
	}

	ctx := context.New().Checked(false)
	ctx.SetParams(m.config.Params())
	ctx.SetParam(context.ParamInitialSeed, m.config.Seed)
	if err := ctx.SetRNGStateFromSeed(m.config.Seed); err != nil {
		panic(err)
	}

	m.data = data
	m.ctx = ctx
	m.encoder = gcn
	m.task = task
	m.optimizer = optimizers.Adam().
		LearningRate(m.config.LearningRate).
		WeightDecay(m.config.WeightDecay).
		Done()
	m.execs = make(map[string]*context.Exec)
	klog.V(1).Infof("model created: %d nodes, %d features, %d classes, pretext task %q",
		data.NumNodes, data.NumFeatures, data.NumClasses, m.config.PretextTask)
	return nil
}

// embeddings returns the embeddings the classifier is applied to.
func (m *ModelBenchmarker) embeddings(ctx *context.Context, in encoder.Inputs) *Node {
	if m.task != nil {
		return m.task.DownstreamEmbeddings(ctx, in)
	}
	return m.encoder.Encode(encoder.StudentContext(ctx), in)
}

// classify returns the classifier logits [N, NumClasses].
func (m *ModelBenchmarker) classify(ctx *context.Context, embeddings *Node) *Node {
	return layers.Dense(ctx.InAbsPath(ClassifierScope), embeddings, true, m.data.NumClasses)
}

// trainGraph builds one optimization step on the downstream loss, the weighted pretext loss or both, and
// returns the loss.
func (m *ModelBenchmarker) trainGraph(downstream, withPretext bool) func(ctx *context.Context, g *Graph) *Node {
	return func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		in := encoder.ConstInputs(g, m.data)
		embeddings := m.embeddings(ctx, in)
		var loss *Node
		if downstream {
			labels := ConstTensor(g, m.data.LabelsTensor())
			loss = pretext.MaskedCrossEntropy(labels, m.classify(ctx, embeddings), Const(g, m.masks[TrainMask]))
		}
		if withPretext {
			pretextLoss := MulScalar(m.task.MakeLoss(ctx, in, embeddings), m.config.PretextWeight)
			if loss == nil {
				loss = pretextLoss
			} else {
				loss = Add(loss, pretextLoss)
			}
		}
		m.optimizer.UpdateGraph(ctx, g, loss)
		if updater, ok := m.task.(pretext.PostUpdater); ok && withPretext {
			updater.PostUpdateGraph(ctx, g)
		}
		return loss
	}
}

// evalGraph returns the predicted class probabilities of all nodes.
func (m *ModelBenchmarker) evalGraph(ctx *context.Context, g *Graph) *Node {
	in := encoder.ConstInputs(g, m.data)
	return Softmax(m.classify(ctx, m.embeddings(ctx, in)), -1)
}

// raisePreconditions returns graphFn with any panic during the graph building re-raised as a
// PreconditionError.
func raisePreconditions(name string, graphFn func(*context.Context, *Graph) *Node) func(*context.Context, *Graph) *Node {
	return func(ctx *context.Context, g *Graph) (output *Node) {
		err := exceptions.TryCatch[error](func() { output = graphFn(ctx, g) })
		if err == nil {
			return
		}
		var precondition *PreconditionError
		if errors.As(err, &precondition) {
			panic(err)
		}
		panic(&PreconditionError{Err: errors.WithMessagef(err, "building %q graph", name)})
	}
}

// exec returns the executor of the given name, creating it if needed.
func (m *ModelBenchmarker) exec(name string) *context.Exec {
	if e, found := m.execs[name]; found {
		return e
	}
	var graphFn func(*context.Context, *Graph) *Node
	switch name {
	case "joint":
		graphFn = m.trainGraph(true, m.task != nil)
	case "pretext":
		graphFn = m.trainGraph(false, true)
	case "downstream":
		graphFn = m.trainGraph(true, false)
	case "eval":
		graphFn = m.evalGraph
	default:
		exceptions.Panicf("unknown executor %q", name)
	}
	e := context.MustNewExec(m.backend, m.ctx, raisePreconditions(name, graphFn))
	m.execs[name] = e
	return e
}

// TrainStep runs one training step over data and returns the loss: the downstream cross-entropy on the train
// mask plus the weighted pretext loss, if there is a pretext task.
//
// With the "alternate" training scheme it takes one optimizer step on the pretext loss and one on the
// downstream loss, and returns the sum of both.
func (m *ModelBenchmarker) TrainStep(data *graphdata.Graph) (float64, error) {
	if err := m.setup(data); err != nil {
		return 0, err
	}
	steps := []string{"joint"}
	if m.task != nil && m.config.Scheme == SchemeAlternate {
		steps = []string{"pretext", "downstream"}
	}
	var total float64
	for _, step := range steps {
		lossT, err := m.exec(step).Exec1()
		if err != nil {
			return 0, errors.WithMessagef(err, "%s training step", step)
		}
		total += float64(tensors.ToScalar[float32](lossT))
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return total, errors.Errorf("training diverged, loss=%g", total)
	}
	return total, nil
}

// Test evaluates the model on the validation (testOnVal) or the test mask, and returns the classification
// metrics (see classmetrics.Compute).
func (m *ModelBenchmarker) Test(data *graphdata.Graph, testOnVal bool) (classmetrics.Metrics, error) {
	probs, err := m.predict(data)
	if err != nil {
		return nil, err
	}
	maskIdx := TestMask
	if testOnVal {
		maskIdx = ValMask
	}
	return m.score(data, probs, maskIdx)
}

// predict returns the class probabilities of all nodes of data, flat shaped [NumNodes * NumClasses].
func (m *ModelBenchmarker) predict(data *graphdata.Graph) ([]float32, error) {
	if err := m.setup(data); err != nil {
		return nil, err
	}
	probsT, err := m.exec("eval").Exec1()
	if err != nil {
		return nil, errors.WithMessage(err, "evaluating model")
	}
	return tensors.MustCopyFlatData[float32](probsT), nil
}

// score computes the metrics of the probabilities of the nodes in the mask maskIdx.
func (m *ModelBenchmarker) score(data *graphdata.Graph, probs []float32, maskIdx int) (classmetrics.Metrics, error) {
	numClasses := data.NumClasses
	var labels []int32
	var selected []float32
	for node, inMask := range m.masks[maskIdx] {
		if inMask {
			labels = append(labels, data.Labels[node])
			selected = append(selected, probs[node*numClasses:(node+1)*numClasses]...)
		}
	}
	metrics, err := classmetrics.Compute(labels, selected, numClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s metrics", maskNames[maskIdx])
	}
	return metrics, nil
}

func checkTuningMetric(name string) error {
	if !slices.Contains(classmetrics.Names(), name) {
		return errors.Errorf("unknown tuning metric %q, valid metrics are %q", name, classmetrics.Names())
	}
	return nil
}

// Train runs the configured number of epochs. After each epoch, the model is evaluated on the validation and
// test masks, and the test metrics of the epoch with the best validation tuningMetric (minimized if
// tuningMetricIsLoss, maximized otherwise) are kept.
//
// It returns the loss of each epoch, the test metrics of the best epoch and the validation metrics of that
// same epoch. If the tuning metric is never comparable (NaN), the metrics of the last epoch are returned.
func (m *ModelBenchmarker) Train(data *graphdata.Graph, tuningMetric string, tuningMetricIsLoss bool) (
	losses []float64, testMetrics, valMetrics classmetrics.Metrics, err error) {
	if err = checkTuningMetric(tuningMetric); err != nil {
		return
	}
	best := math.Inf(-1)
	if tuningMetricIsLoss {
		best = math.Inf(1)
	}
	losses = make([]float64, 0, m.config.Epochs)
	var lastTest, lastVal classmetrics.Metrics
	for epoch := range m.config.Epochs {
		start := time.Now()
		var loss float64
		loss, err = m.TrainStep(data)
		if err != nil {
			err = errors.WithMessagef(err, "epoch %d", epoch)
			return
		}
		losses = append(losses, loss)
		var probs []float32
		probs, err = m.predict(data)
		if err != nil {
			return
		}
		lastVal, err = m.score(data, probs, ValMask)
		if err != nil {
			return
		}
		lastTest, err = m.score(data, probs, TestMask)
		if err != nil {
			return
		}
		score := lastVal[tuningMetric]
		if (tuningMetricIsLoss && score < best) || (!tuningMetricIsLoss && score > best) {
			best = score
			testMetrics, valMetrics = lastTest, lastVal
		}
		m.collectors.observeEpoch(m.config.PretextTask, time.Since(start), loss)
		if klog.V(2).Enabled() {
			klog.Infof("epoch %d: loss=%.4f, validation %s=%.4f", epoch, loss, tuningMetric, score)
		}
	}
	if testMetrics == nil {
		testMetrics, valMetrics = lastTest, lastVal
	}
	return
}

// Benchmark trains and evaluates the model on element.
//
// Skipped elements return immediately with a skipped result. Failures during training are logged and
// also return a skipped result, so a batch of runs survives individual failures. Precondition violations
// (see PreconditionError) panic.
func (m *ModelBenchmarker) Benchmark(element Element, tuningMetric string, tuningMetricIsLoss bool) Result {
	result := Result{
		SampleID:        element.SampleID,
		GeneratorConfig: element.GeneratorConfig,
		RunID:           uuid.NewString(),
		ValMetrics:      classmetrics.Metrics{},
		TestMetrics:     classmetrics.Metrics{},
	}
	if element.Skipped {
		klog.Infof("Skipping benchmark for sample id %s", element.SampleID)
		result.Skipped = true
		m.collectors.countRun(OutcomeSkipped)
		return result
	}

	m.AdjustParams(element.GeneratorConfig)
	m.SetMasks(element.Masks[TrainMask], element.Masks[ValMask], element.Masks[TestMask])
	if err := checkTuningMetric(tuningMetric); err != nil {
		panic(&PreconditionError{Err: err})
	}
	if err := m.setup(element.Graph); err != nil {
		panic(&PreconditionError{Err: errors.WithMessagef(err, "sample id %s", element.SampleID)})
	}

	var losses []float64
	var testMetrics, valMetrics classmetrics.Metrics
	err := exceptions.TryCatch[error](func() {
		var trainErr error
		losses, testMetrics, valMetrics, trainErr = m.Train(element.Graph, tuningMetric, tuningMetricIsLoss)
		if trainErr != nil {
			panic(trainErr)
		}
	})
	if err != nil {
		var precondition *PreconditionError
		if errors.As(err, &precondition) {
			panic(err)
		}
		klog.Infof("Failed to run for sample id %s: %+v", element.SampleID, err)
		result.Skipped = true
		result.Err = err
		m.collectors.countRun(OutcomeFailed)
		return result
	}
	result.Losses = losses
	result.TestMetrics = testMetrics
	result.ValMetrics = valMetrics
	m.collectors.countRun(OutcomeCompleted)
	return result
}
