// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classmetrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePerfect(t *testing.T) {
	labels := []int32{0, 1, 2, 1}
	probs := []float32{
		0.8, 0.1, 0.1,
		0.1, 0.8, 0.1,
		0.0, 0.0, 1.0,
		0.2, 0.7, 0.1,
	}
	metrics, err := Compute(labels, probs, 3)
	require.NoError(t, err)
	assert.Len(t, metrics, len(Names()))
	assert.Equal(t, 1.0, metrics[Accuracy])
	assert.Equal(t, 1.0, metrics[F1Micro])
	assert.Equal(t, 1.0, metrics[F1Macro])
	assert.InDelta(t, 1.0, metrics[ROCAUCOVR], 1e-12)
	assert.InDelta(t, 1.0, metrics[ROCAUCOVO], 1e-12)
	want := -(math.Log(0.8) + math.Log(0.8) + math.Log(1-LogLossEpsilon) + math.Log(0.7)) / 4
	assert.InDelta(t, want, metrics[LogLoss], 1e-6)
}

func TestComputeMistakes(t *testing.T) {
	// Predictions: 0, 1, 0, 0.
	labels := []int32{0, 1, 1, 0}
	probs := []float32{
		0.9, 0.1,
		0.2, 0.8,
		0.6, 0.4,
		0.5, 0.5,
	}
	metrics, err := Compute(labels, probs, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, metrics[Accuracy], 1e-12)
	assert.InDelta(t, 0.75, metrics[F1Micro], 1e-12)
	// Class 0: tp=2, fp=1, fn=0 -> 0.8; class 1: tp=1, fp=0, fn=1 -> 2/3.
	assert.InDelta(t, (0.8+2.0/3.0)/2, metrics[F1Macro], 1e-12)
	assert.InDelta(t, 0.75, metrics[ROCAUCOVR], 1e-12)
	assert.InDelta(t, 0.75, metrics[ROCAUCOVO], 1e-12)
}

func TestComputeMissingClasses(t *testing.T) {
	// Only class 0 in the labels: no ROC-AUC can be computed.
	metrics, err := Compute([]int32{0, 0}, []float32{0.7, 0.3, 0.4, 0.6}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, metrics[Accuracy], 1e-12)
	assert.True(t, math.IsNaN(metrics[ROCAUCOVO]))
	assert.True(t, math.IsNaN(metrics[ROCAUCOVR]))
	// Class 1 is present in the predictions, so it counts for the macro F1 with score 0.
	assert.InDelta(t, (2.0/3.0)/2, metrics[F1Macro], 1e-12)
}

func TestComputeErrors(t *testing.T) {
	_, err := Compute(nil, nil, 2)
	assert.ErrorIs(t, err, ErrNoExamples)
	_, err = Compute([]int32{0}, []float32{1}, 2)
	assert.Error(t, err)
	_, err = Compute([]int32{3}, []float32{0.5, 0.5}, 2)
	assert.Error(t, err)
}

func TestIsLoss(t *testing.T) {
	assert.True(t, IsLoss(LogLoss))
	assert.False(t, IsLoss(Accuracy))
}
