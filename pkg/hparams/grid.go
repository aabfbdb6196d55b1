// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hparams

import (
	"math/rand/v2"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Grid holds the three hyperparameter groups of a benchmark search, as read from a YAML file:
//
//	benchmark:
//	  epochs: 100
//	  lr: [0.01, 0.001]
//	  pretext_task: grace
//	model:
//	  hidden_channels: [16, 32]
//	pretext:
//	  tau: [0.5, 1.0]
type Grid struct {
	Benchmark Params `yaml:"benchmark"`
	Model     Params `yaml:"model"`
	Pretext   Params `yaml:"pretext"`
}

// ParseGrid parses a YAML document into a Grid. Unknown top-level keys are an error.
func ParseGrid(data []byte) (*Grid, error) {
	grid := &Grid{}
	if err := yaml.Unmarshal(data, grid); err != nil {
		return nil, errors.Wrap(err, "failed to parse hyperparameter grid")
	}
	var topLevel map[string]any
	if err := yaml.Unmarshal(data, &topLevel); err != nil {
		return nil, errors.Wrap(err, "failed to parse hyperparameter grid")
	}
	for key := range topLevel {
		switch key {
		case "benchmark", "model", "pretext":
		default:
			return nil, errors.Errorf("unknown hyperparameter group %q, valid groups are benchmark, model and pretext", key)
		}
	}
	return grid, nil
}

// LoadGrid reads and parses the YAML grid file at path.
func LoadGrid(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read hyperparameter grid from %q", path)
	}
	grid, err := ParseGrid(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "grid file %q", path)
	}
	return grid, nil
}

// Count returns the number of possible configurations of the grid.
func (g *Grid) Count() int {
	return CountConfigurations(g.Benchmark, g.Model, g.Pretext)
}

// Sample draws one configuration of the grid.
func (g *Grid) Sample(rng *rand.Rand) (Configuration, error) {
	return SampleConfiguration(rng, g.Benchmark, g.Model, g.Pretext)
}

// GetOr returns the value of key in params converted to T, or defaultValue if the key is not set.
//
// Numeric values are converted between int and float64, since YAML and Go literals don't always
// agree on the number type. It panics if the value cannot be converted: a malformed configuration
// is a fatal error.
func GetOr[T int | int64 | float64 | string | bool](params Params, key string, defaultValue T) T {
	value, found := params[key]
	if !found || value == nil {
		return defaultValue
	}
	var t T
	switch ptr := any(&t).(type) {
	case *float64:
		switch v := value.(type) {
		case float64:
			*ptr = v
		case float32:
			*ptr = float64(v)
		case int:
			*ptr = float64(v)
		case int64:
			*ptr = float64(v)
		default:
			exceptions.Panicf("hyperparameter %q=%v (%T) is not a number", key, value, value)
		}
	case *int:
		switch v := value.(type) {
		case int:
			*ptr = v
		case int64:
			*ptr = int(v)
		case float64:
			if v != float64(int(v)) {
				exceptions.Panicf("hyperparameter %q=%v is not an integer", key, value)
			}
			*ptr = int(v)
		default:
			exceptions.Panicf("hyperparameter %q=%v (%T) is not an integer", key, value, value)
		}
	case *int64:
		*ptr = int64(GetOr(params, key, int(any(defaultValue).(int64))))
	default:
		v, ok := value.(T)
		if !ok {
			exceptions.Panicf("hyperparameter %q=%v (%T) is not a %T", key, value, value, t)
		}
		t = v
	}
	return t
}
