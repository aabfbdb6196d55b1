// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hparams counts, samples and enumerates hyperparameter configurations.
//
// A configuration is split in three independent groups: benchmark parameters (epochs, learning rate, ...),
// model parameters (the encoder hyperparameters) and pretext parameters (the self-supervised task
// hyperparameters). Each group is a Params mapping from a name to either a scalar or a list of
// candidate values.
//
// Strings are always atomic values, they are never split into characters, and any other non-list
// value is treated as a singleton list.
package hparams

import (
	"iter"
	"maps"
	"math/rand/v2"
	"reflect"
	"slices"

	"github.com/pkg/errors"
)

// Params maps a hyperparameter name to a scalar value or a list of candidate values.
//
// A nil Params is a valid "absent" group: it counts as a factor of 1 and samples to nil.
type Params map[string]any

// Clone returns a shallow copy of the params: list values are shared with the original.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// SortedNames returns the names of the parameters in sorted order.
func (p Params) SortedNames() []string {
	return slices.Sorted(maps.Keys(p))
}

// IsResolved returns whether none of the values is a list of candidates.
func (p Params) IsResolved() bool {
	for _, value := range p {
		if _, isList := Candidates(value); isList {
			return false
		}
	}
	return true
}

// Candidates returns the list of candidate values for value, and whether value was list-like.
//
// Strings are atomic: Candidates("abc") returns ([]any{"abc"}, false). Any other scalar
// is returned as a singleton list.
func Candidates(value any) (values []any, isList bool) {
	if value == nil {
		return []any{nil}, false
	}
	if list, ok := value.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			// []byte is the binary form of a string, so it's also atomic.
			return []any{value}, false
		}
		values = make([]any, rv.Len())
		for ii := range values {
			values[ii] = rv.Index(ii).Interface()
		}
		return values, true
	default:
		return []any{value}, false
	}
}

// numCandidates returns the number of choices for the value: the length of a list or 1 for scalars.
func numCandidates(value any) int {
	values, isList := Candidates(value)
	if !isList {
		return 1
	}
	return len(values)
}

// CountConfigurations returns the number of distinct configurations that can be sampled from the
// three groups: the product of the lengths of all candidate lists, where scalars and nil groups
// contribute a factor of 1.
func CountConfigurations(benchmarkParams, modelParams, pretextParams Params) int {
	count := 1
	for _, group := range []Params{benchmarkParams, modelParams, pretextParams} {
		for _, value := range group {
			count *= numCandidates(value)
		}
	}
	return count
}

// Configuration is one fully resolved assignment of the three hyperparameter groups.
// A group that was nil when sampled stays nil.
type Configuration struct {
	Benchmark, Model, Pretext Params
}

// SampleConfiguration picks, independently and uniformly at random, one candidate for every
// list-valued entry of each group. Scalars (and strings) are kept as they are.
//
// It returns an error if a candidate list is empty, since there is nothing to sample from.
func SampleConfiguration(rng *rand.Rand, benchmarkParams, modelParams, pretextParams Params) (
	config Configuration, err error) {
	if config.Benchmark, err = sampleGroup(rng, benchmarkParams); err != nil {
		return config, errors.WithMessage(err, "benchmark params")
	}
	if config.Model, err = sampleGroup(rng, modelParams); err != nil {
		return config, errors.WithMessage(err, "model params")
	}
	if config.Pretext, err = sampleGroup(rng, pretextParams); err != nil {
		return config, errors.WithMessage(err, "pretext params")
	}
	return
}

func sampleGroup(rng *rand.Rand, params Params) (Params, error) {
	if params == nil {
		return nil, nil
	}
	sampled := make(Params, len(params))
	// Iterate in sorted order, so a seeded rng gives reproducible samples.
	for _, name := range params.SortedNames() {
		value := params[name]
		values, isList := Candidates(value)
		if !isList {
			sampled[name] = value
			continue
		}
		if len(values) == 0 {
			return nil, errors.Errorf("hyperparameter %q has an empty list of candidates", name)
		}
		sampled[name] = values[rng.IntN(len(values))]
	}
	return sampled, nil
}

// CartesianProduct enumerates the full product space of the candidate lists in params.
//
// Names are visited in sorted order, with the last name varying fastest, so the enumeration order
// is reproducible. The returned sequence can be iterated any number of times, always yielding
// the same configurations. Each yielded Params is a fresh map owned by the caller.
//
// An empty params yields exactly one empty configuration; any empty candidate list yields none.
func CartesianProduct(params Params) iter.Seq[Params] {
	names := params.SortedNames()
	valueLists := make([][]any, len(names))
	for ii, name := range names {
		valueLists[ii], _ = Candidates(params[name])
	}
	return func(yield func(Params) bool) {
		for _, values := range valueLists {
			if len(values) == 0 {
				return
			}
		}
		indices := make([]int, len(names))
		for {
			combination := make(Params, len(names))
			for ii, name := range names {
				combination[name] = valueLists[ii][indices[ii]]
			}
			if !yield(combination) {
				return
			}
			// Odometer increment, last position first.
			pos := len(indices) - 1
			for ; pos >= 0; pos-- {
				indices[pos]++
				if indices[pos] < len(valueLists[pos]) {
					break
				}
				indices[pos] = 0
			}
			if pos < 0 {
				return
			}
		}
	}
}
