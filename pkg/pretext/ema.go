// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// EMA is the exponential moving average used to drift the teacher variables toward the student ones.
//
// Its decay follows a cosine schedule, from Beta at step 0 up to 1 at step TotalSteps:
//
//	decay(step) = 1 - (1 - Beta) * (cos(π * step / TotalSteps) + 1) / 2
//
// So the teacher becomes more stable as training progresses.
type EMA struct {
	Beta       float64
	TotalSteps int
}

// NewEMA creates an EMA schedule. It panics if beta is not in [0, 1].
func NewEMA(beta float64, totalSteps int) EMA {
	if math.IsNaN(beta) || beta < 0 || beta > 1 {
		Panicf("EMA beta=%g must be in the range [0, 1]", beta)
	}
	return EMA{Beta: beta, TotalSteps: max(totalSteps, 1)}
}

// DecayAt returns the decay for the given step.
func (e EMA) DecayAt(step int) float64 {
	return 1 - (1-e.Beta)*(math.Cos(math.Pi*float64(step)/float64(e.TotalSteps))+1)/2
}

// Decay returns the decay for step, a scalar node (any number dtype), as a scalar of the given float dtype.
func (e EMA) Decay(step *Node, dtype dtypes.DType) *Node {
	progress := DivScalar(ConvertDType(step, dtype), float64(e.TotalSteps))
	cosine := Cos(MulScalar(progress, math.Pi))
	return OneMinus(MulScalar(AddScalar(cosine, 1), (1-e.Beta)/2))
}

// UpdateAverage returns old * decay + (1 - decay) * current.
//
// If old is nil, current is returned, so the first update simply copies the value.
func UpdateAverage(old, current, decay *Node) *Node {
	if old == nil {
		return current
	}
	decay = ConvertDType(decay, old.DType())
	return Add(Mul(old, decay), Mul(current, OneMinus(decay)))
}
