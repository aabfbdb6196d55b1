// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"

	"github.com/gomlx/graphssl/pkg/encoder"
	"github.com/gomlx/graphssl/pkg/graphdata"
	"github.com/gomlx/graphssl/pkg/hparams"
)

// Siamese is the student/teacher self-distillation task (BYOL style), used by "bgrl" and the "selfgnn_*"
// variants, which differ only in their ViewGenerator.
//
// In each step both views are encoded by the student (the shared encoder) and by the teacher, a copy of the
// encoder variables kept in encoder.TeacherScope. A predictor head maps each student embedding to the
// teacher embedding of the other view, with a cosine distance loss.
//
// The teacher variables are not trainable and receive no gradients. They are initialized with the student
// values in the first step, and after every optimizer update (see PostUpdateGraph) they move toward the
// student variables with an EMA whose decay follows a cosine schedule.
type Siamese struct {
	base
	config SiameseConfig
	views  ViewGenerator
	ema    EMA

	// concatViews: downstream embeddings are the concatenation of the student embeddings of both views.
	concatViews bool
}

var (
	_ Task        = (*Siamese)(nil)
	_ PostUpdater = (*Siamese)(nil)
)

// emaScope holds the EMA step counter, relative to encoder.TeacherScope.
const emaScope = "ema"

func siameseConstructor(name string, newViews func(*graphdata.Graph, SiameseConfig) (ViewGenerator, error)) Constructor {
	return func(params hparams.Params, env Env) (Task, error) {
		b, err := newBase(name, env)
		if err != nil {
			return nil, err
		}
		config := SiameseConfig{
			Beta:              0.99,
			EdgeMaskRatio1:    0.2,
			EdgeMaskRatio2:    0.2,
			FeatureMaskRatio1: 0.2,
			FeatureMaskRatio2: 0.2,
			PPRAlpha:          0.15,
			PPRTopK:           128,
		}
		if err := decodeConfig(params, &config); err != nil {
			return nil, err
		}
		if config.Epochs == 0 {
			config.Epochs = b.epochs
		}
		if config.PredictorHidden == 0 {
			config.PredictorHidden = 2 * b.encoder.OutChannels()
		}
		if err := checkRatio("beta", config.Beta); err != nil {
			return nil, err
		}
		if config.PredictorHidden < 0 || config.Epochs < 0 {
			return nil, errors.Errorf("invalid siamese configuration %+v", config)
		}
		views, err := newViews(b.data, config)
		if err != nil {
			return nil, err
		}
		return &Siamese{
			base:        b,
			config:      config,
			views:       views,
			ema:         NewEMA(config.Beta, config.Epochs),
			concatViews: name != "bgrl",
		}, nil
	}
}

// Config returns the resolved configuration of the task.
func (s *Siamese) Config() SiameseConfig { return s.config }

// predict applies the student predictor head.
func (s *Siamese) predict(ctx *context.Context, embeddings *Node) *Node {
	ctx = s.headContext(ctx).In("predictor")
	x := layers.Dense(ctx.In("hidden"), embeddings, true, s.config.PredictorHidden)
	x = activations.Relu(x)
	return layers.Dense(ctx.In("output"), x, true, embeddings.Shape().Dim(-1))
}

// stepVariable returns the EMA step counter: the number of teacher updates so far.
func stepVariable(ctx *context.Context) *context.Variable {
	return ctx.InAbsPath(encoder.TeacherScope).In(emaScope).
		VariableWithValue("step", int64(0)).SetTrainable(false)
}

// studentVariables returns the variables of the student encoder.
func studentVariables(ctx *context.Context) []*context.Variable {
	var students []*context.Variable
	for v := range ctx.InAbsPath(encoder.Scope).IterVariablesInScope() {
		students = append(students, v)
	}
	return students
}

// teacherVariable returns the teacher copy of a student variable, creating it if needed.
func teacherVariable(ctx *context.Context, student *context.Variable) *context.Variable {
	return ctx.InAbsPath(encoder.TeacherScope+student.Scope()).
		WithInitializer(initializers.Zero).
		VariableWithShape(student.Name(), student.Shape()).
		SetTrainable(false)
}

// syncTeacher makes sure the teacher variables exist, and on the very first step sets them to the student
// values. It returns the context for the teacher encoder.
//
// It must be called after the student encoder was used in the graph, so the student variables exist.
func (s *Siamese) syncTeacher(ctx *context.Context, g *Graph) *context.Context {
	step := stepVariable(ctx).ValueGraph(g)
	isFirstStep := Equal(step, ZerosLike(step))
	for _, student := range studentVariables(ctx) {
		teacher := teacherVariable(ctx, student)
		copyFlag := ConvertDType(isFirstStep, student.DType())
		value := Add(
			Mul(student.ValueGraph(g), copyFlag),
			Mul(teacher.ValueGraph(g), OneMinus(copyFlag)))
		teacher.SetValueGraph(value)
	}
	return encoder.TeacherContext(ctx)
}

// MakeLoss implements Task.
func (s *Siamese) MakeLoss(ctx *context.Context, original encoder.Inputs, _ *Node) *Node {
	g := original.Graph()
	view1, view2 := s.views.GenerateViews(ctx, g)
	student1 := s.encode(ctx, view1)
	student2 := s.encode(ctx, view2)
	prediction1 := s.predict(ctx, student1)
	prediction2 := s.predict(ctx, student2)

	teacherCtx := s.syncTeacher(ctx, g)
	teacher1 := StopGradient(s.encoder.Encode(teacherCtx, view1))
	teacher2 := StopGradient(s.encoder.Encode(teacherCtx, view2))

	return ReduceAllMean(Add(CosineDistance(prediction1, teacher2), CosineDistance(prediction2, teacher1)))
}

// PostUpdateGraph implements PostUpdater: it moves the teacher variables toward the (just updated) student
// variables, and advances the EMA step.
//
// It's a no-op if the teacher was not used in g.
func (s *Siamese) PostUpdateGraph(ctx *context.Context, g *Graph) {
	stepVar := stepVariable(ctx)
	step := stepVar.ValueGraph(g)
	decay := s.ema.Decay(step, dtypes.Float32)
	updated := false
	for _, student := range studentVariables(ctx) {
		teacher := ctx.GetVariableByScopeAndName(encoder.TeacherScope+student.Scope(), student.Name())
		if teacher == nil || !teacher.InUseByGraph(g) {
			continue
		}
		teacher.SetValueGraph(UpdateAverage(teacher.ValueGraph(g), student.ValueGraph(g), decay))
		updated = true
	}
	if updated {
		stepVar.SetValueGraph(AddScalar(step, 1))
	}
}

// DownstreamEmbeddings implements Task. For the "selfgnn_*" variants these are the concatenated student
// embeddings of both views.
func (s *Siamese) DownstreamEmbeddings(ctx *context.Context, original encoder.Inputs) *Node {
	if !s.concatViews {
		return s.base.DownstreamEmbeddings(ctx, original)
	}
	view1, view2 := s.views.GenerateViews(ctx, original.Graph())
	return Concatenate([]*Node{s.encode(ctx, view1), s.encode(ctx, view2)}, -1)
}

// DownstreamEmbeddingsSize implements Task.
func (s *Siamese) DownstreamEmbeddingsSize() int {
	if s.concatViews {
		return 2 * s.encoder.OutChannels()
	}
	return s.encoder.OutChannels()
}
