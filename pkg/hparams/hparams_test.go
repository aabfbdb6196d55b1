// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hparams

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountConfigurations(t *testing.T) {
	count := CountConfigurations(
		Params{"lr": []any{0.1, 0.01}},
		Params{"hidden": []any{8, 16, 32}},
		nil)
	assert.Equal(t, 6, count)

	// Scalars, strings and nil groups contribute a factor of 1.
	assert.Equal(t, 1, CountConfigurations(Params{"epochs": 10, "name": "grace"}, nil, nil))
	assert.Equal(t, 1, CountConfigurations(nil, nil, nil))

	// Typed Go slices are lists as well.
	assert.Equal(t, 12, CountConfigurations(
		Params{"lr": []float64{0.1, 0.01}},
		Params{"hidden": []int{8, 16, 32}, "activation": "relu"},
		Params{"tau": []any{0.5, 1.0}}))

	// An empty list makes the space empty.
	assert.Equal(t, 0, CountConfigurations(Params{"lr": []any{}}, nil, nil))
}

func TestSampleConfiguration(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))

	t.Run("ScalarsUnchanged", func(t *testing.T) {
		benchmark := Params{"epochs": 10, "lr": 0.01}
		model := Params{"activation": "relu"}
		config, err := SampleConfiguration(rng, benchmark, model, nil)
		require.NoError(t, err)
		assert.Equal(t, benchmark, config.Benchmark)
		assert.Equal(t, model, config.Model)
		assert.Nil(t, config.Pretext)
	})

	t.Run("ValuesFromCandidates", func(t *testing.T) {
		lrs := []any{0.1, 0.01, 0.001}
		hidden := []int{8, 16, 32}
		seen := map[any]bool{}
		for range 200 {
			config, err := SampleConfiguration(rng,
				Params{"lr": lrs, "tag": "abc"},
				Params{"hidden": hidden},
				Params{})
			require.NoError(t, err)
			assert.Contains(t, lrs, config.Benchmark["lr"])
			assert.Contains(t, hidden, config.Model["hidden"])
			// Strings are atomic, never a character.
			assert.Equal(t, "abc", config.Benchmark["tag"])
			assert.NotNil(t, config.Pretext)
			assert.True(t, config.Benchmark.IsResolved())
			seen[config.Benchmark["lr"]] = true
		}
		assert.Len(t, seen, 3, "all candidates should be eventually sampled")
	})

	t.Run("EmptyList", func(t *testing.T) {
		_, err := SampleConfiguration(rng, nil, Params{"hidden": []any{}}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hidden")
	})

	t.Run("Reproducible", func(t *testing.T) {
		grid := Params{"a": []any{1, 2, 3, 4}, "b": []any{"x", "y", "z"}}
		config1, err := SampleConfiguration(rand.New(rand.NewPCG(7, 7)), grid, nil, nil)
		require.NoError(t, err)
		config2, err := SampleConfiguration(rand.New(rand.NewPCG(7, 7)), grid, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, config1, config2)
	})
}

func TestCartesianProduct(t *testing.T) {
	params := Params{
		"b":    []any{1, 2, 3},
		"a":    []any{"x", "y"},
		"name": "gca",
		"c":    0.5,
	}
	product := CartesianProduct(params)
	configs := slices.Collect(product)
	require.Len(t, configs, 6)

	unique := map[string]bool{}
	for _, config := range configs {
		assert.Equal(t, "gca", config["name"])
		assert.Equal(t, 0.5, config["c"])
		unique[fmt.Sprintf("%v/%v", config["a"], config["b"])] = true
	}
	assert.Len(t, unique, 6)

	// Sorted by name: "a" varies slowest, "b" fastest.
	assert.Equal(t, "x", configs[0]["a"])
	assert.Equal(t, 1, configs[0]["b"])
	assert.Equal(t, "x", configs[1]["a"])
	assert.Equal(t, 2, configs[1]["b"])
	assert.Equal(t, "y", configs[5]["a"])
	assert.Equal(t, 3, configs[5]["b"])

	// Re-iterable to the same sequence.
	assert.Equal(t, configs, slices.Collect(product))

	// Early stop.
	count := 0
	for range product {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)

	// Edge cases.
	assert.Len(t, slices.Collect(CartesianProduct(Params{})), 1)
	assert.Empty(t, slices.Collect(CartesianProduct(Params{"a": []any{}, "b": []any{1}})))
	strConfigs := slices.Collect(CartesianProduct(Params{"task": "grace"}))
	require.Len(t, strConfigs, 1)
	assert.Equal(t, "grace", strConfigs[0]["task"])
}

func TestGrid(t *testing.T) {
	yamlGrid := `
benchmark:
  epochs: 5
  lr: [0.01, 0.001]
  pretext_task: attribute_mask
model:
  hidden_channels: [8, 16, 32]
pretext:
  node_mask_ratio: 0.2
`
	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlGrid), 0o644))
	grid, err := LoadGrid(path)
	require.NoError(t, err)
	assert.Equal(t, 6, grid.Count())

	config, err := grid.Sample(rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, 5, GetOr(config.Benchmark, "epochs", 100))
	assert.Equal(t, "attribute_mask", GetOr(config.Benchmark, "pretext_task", ""))
	assert.Contains(t, []float64{0.01, 0.001}, GetOr(config.Benchmark, "lr", 0.0))
	assert.Equal(t, 0.2, GetOr(config.Pretext, "node_mask_ratio", 0.1))
	assert.Equal(t, 7, GetOr(config.Pretext, "missing", 7))

	_, err = ParseGrid([]byte("models:\n  hidden: 3\n"))
	require.Error(t, err)
	_, err = LoadGrid(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestGetOr(t *testing.T) {
	params := Params{"i": 3, "f": 2.0, "s": "x", "b": true, "frac": 0.5}
	assert.Equal(t, 3.0, GetOr(params, "i", 0.0))
	assert.Equal(t, 2, GetOr(params, "f", 0))
	assert.Equal(t, int64(3), GetOr(params, "i", int64(0)))
	assert.Equal(t, "x", GetOr(params, "s", ""))
	assert.True(t, GetOr(params, "b", false))
	assert.Panics(t, func() { GetOr(params, "frac", 0) })
	assert.Panics(t, func() { GetOr(params, "s", 0.0) })
}
