// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/graphssl/pkg/hparams"
	"github.com/gomlx/graphssl/pkg/pretext"
)

// Benchmark hyperparameters keys.
const (
	// ParamEpochs is the number of training epochs (steps over the full graph). Default is 100.
	ParamEpochs = "epochs"

	// ParamLearningRate of the Adam optimizer. Default is 0.01.
	ParamLearningRate = "lr"

	// ParamWeightDecay of the Adam optimizer. Default is 5e-4.
	ParamWeightDecay = "weight_decay"

	// ParamPretextWeight multiplies the pretext loss before it's added to the downstream loss. Default is 1.
	ParamPretextWeight = "pretext_weight"

	// ParamTrainingScheme is either "joint" (default) or "alternate". See TrainingScheme.
	ParamTrainingScheme = "training_scheme"

	// ParamSeed seeds the model initialization, the context random number generator and the host-side
	// randomness of the pretext task. Default is 0.
	ParamSeed = "seed"

	// ParamPretextTask is the name of the pretext task (see pretext.Names). Empty means supervised training only.
	ParamPretextTask = "pretext_task"
)

// TrainingScheme defines how the pretext loss is combined with the downstream loss.
type TrainingScheme string

const (
	// SchemeJoint minimizes downstream + pretext_weight * pretext in one optimizer step per epoch.
	SchemeJoint TrainingScheme = "joint"

	// SchemeAlternate takes one optimizer step on pretext_weight * pretext followed by one on the
	// downstream loss, every epoch.
	SchemeAlternate TrainingScheme = "alternate"
)

// Config of a benchmark run, resolved from the benchmark hyperparameters group.
type Config struct {
	Epochs        int
	LearningRate  float64
	WeightDecay   float64
	PretextWeight float64
	Scheme        TrainingScheme
	Seed          int64
	PretextTask   string
}

// DefaultConfig returns the configuration used for the keys missing in the benchmark hyperparameters.
func DefaultConfig() Config {
	return Config{
		Epochs:        100,
		LearningRate:  0.01,
		WeightDecay:   5e-4,
		PretextWeight: 1.0,
		Scheme:        SchemeJoint,
	}
}

var knownParams = []string{ParamEpochs, ParamLearningRate, ParamWeightDecay, ParamPretextWeight,
	ParamTrainingScheme, ParamSeed, ParamPretextTask}

// ConfigFromParams resolves the benchmark hyperparameters into a Config.
//
// It returns an error for unknown keys, values of the wrong type or out of range.
func ConfigFromParams(params hparams.Params) (config Config, err error) {
	if !params.IsResolved() {
		return config, errors.Errorf("benchmark parameters %v are not resolved to a single configuration", params)
	}
	for _, key := range params.SortedNames() {
		if !slices.Contains(knownParams, key) {
			return config, errors.Errorf("unknown benchmark parameter %q, valid parameters are %q", key, knownParams)
		}
	}
	defaults := DefaultConfig()
	err = exceptions.TryCatch[error](func() {
		config = Config{
			Epochs:        hparams.GetOr(params, ParamEpochs, defaults.Epochs),
			LearningRate:  hparams.GetOr(params, ParamLearningRate, defaults.LearningRate),
			WeightDecay:   hparams.GetOr(params, ParamWeightDecay, defaults.WeightDecay),
			PretextWeight: hparams.GetOr(params, ParamPretextWeight, defaults.PretextWeight),
			Scheme:        TrainingScheme(hparams.GetOr(params, ParamTrainingScheme, string(defaults.Scheme))),
			Seed:          hparams.GetOr(params, ParamSeed, defaults.Seed),
			PretextTask:   hparams.GetOr(params, ParamPretextTask, defaults.PretextTask),
		}
	})
	if err != nil {
		return config, err
	}
	return config, config.Validate()
}

// Validate returns an error if any of the values is out of range.
func (c Config) Validate() error {
	if c.Epochs < 1 {
		return errors.Errorf("%s=%d must be >= 1", ParamEpochs, c.Epochs)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("%s=%g must be > 0", ParamLearningRate, c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("%s=%g must be >= 0", ParamWeightDecay, c.WeightDecay)
	}
	if c.PretextWeight < 0 {
		return errors.Errorf("%s=%g must be >= 0", ParamPretextWeight, c.PretextWeight)
	}
	if c.Scheme != SchemeJoint && c.Scheme != SchemeAlternate {
		return errors.Errorf("%s=%q must be %q or %q", ParamTrainingScheme, c.Scheme, SchemeJoint, SchemeAlternate)
	}
	if c.PretextTask != "" && !slices.Contains(pretext.Names(), c.PretextTask) {
		return errors.Errorf("%s=%q is not a known pretext task, valid tasks are %q",
			ParamPretextTask, c.PretextTask, pretext.Names())
	}
	return nil
}

// Params returns the configuration as hyperparameters, with all the keys set. They are recorded in the
// model's context.
func (c Config) Params() hparams.Params {
	return hparams.Params{
		ParamEpochs:         c.Epochs,
		ParamLearningRate:   c.LearningRate,
		ParamWeightDecay:    c.WeightDecay,
		ParamPretextWeight:  c.PretextWeight,
		ParamTrainingScheme: string(c.Scheme),
		ParamSeed:           c.Seed,
		ParamPretextTask:    c.PretextTask,
	}
}
