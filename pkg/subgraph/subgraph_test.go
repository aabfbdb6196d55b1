// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package subgraph

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/graphssl/pkg/graphdata"
)

// starGraph has center 0 connected to 1, 2 and 3 (both directions), and one feature equal to the node index.
func starGraph() *graphdata.Graph {
	return &graphdata.Graph{
		NumNodes:    4,
		NumFeatures: 1,
		Features:    []float32{0, 1, 2, 3},
		Sources:     []int32{0, 1, 0, 2, 0, 3},
		Targets:     []int32{1, 0, 2, 0, 3, 0},
		Labels:      []int32{0, 1, 1, 1},
		NumClasses:  2,
	}
}

func TestTopK(t *testing.T) {
	s := mat.NewDense(3, 3, []float64{
		9, 1, 1,
		5, 9, 7,
		0, 2, 9,
	})
	topK := TopK(s, 1)
	// Ties broken by lowest index, self appended last.
	assert.Equal(t, [][]int32{{1, 0}, {2, 1}, {1, 2}}, topK)

	topK = TopK(s, 5)
	for i, row := range topK {
		require.Len(t, row, 3)
		assert.Equal(t, int32(i), row[2])
	}
}

func TestNew(t *testing.T) {
	g := starGraph()
	sub, err := New(g, []int32{2, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.NumNodes)
	assert.Equal(t, 2, sub.Mapping.Len())
	assert.Equal(t, []float32{2, 0}, sub.Features)
	assert.Equal(t, []int32{1, 0}, sub.Labels)
	// Only the edges between 0 and 2 survive: 0->2 and 2->0, in local indices.
	assert.Equal(t, []int32{1, 0}, sub.Sources)
	assert.Equal(t, []int32{0, 1}, sub.Targets)
	require.NoError(t, sub.Validate())

	local, found := sub.Mapping.Local(0)
	assert.True(t, found)
	assert.Equal(t, int32(1), local)
	assert.Equal(t, int32(2), sub.Mapping.Global(0))
	_, found = sub.Mapping.Local(3)
	assert.False(t, found)

	_, err = New(g, []int32{4})
	assert.Error(t, err)
}

func TestNewSet(t *testing.T) {
	g := starGraph()
	neighborhoods := [][]int32{
		{1, 2, 0},
		{0, 1},
		{0, 3, 2},
		{3},
	}
	set, err := NewSet(g, neighborhoods)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, []int{0, 3, 5, 8}, set.Offsets)
	assert.Equal(t, 9, set.Batch.NumNodes)
	assert.Equal(t, []int32{0, 0, 0, 1, 1, 2, 2, 2, 3}, set.BatchIndex)
	assert.Equal(t, []float32{3, 2, 3, 1}, set.Sizes())
	require.NoError(t, set.Batch.Validate())

	// Central nodes are picked back at their own feature value.
	for i, central := range set.CentralIndices {
		assert.Equal(t, float32(i), set.Batch.Features[central], "node %d", i)
		assert.Equal(t, int32(i), set.BatchIndex[central])
	}

	// Edges never cross subgraphs.
	for e := range set.Batch.NumEdges() {
		assert.Equal(t, set.BatchIndex[set.Batch.Sources[e]], set.BatchIndex[set.Batch.Targets[e]])
	}
	// Subgraph 0 holds edges 0<->1 and 0<->2: 4 edges; subgraph 1: 2; subgraph 2: 4; subgraph 3: 0.
	assert.Equal(t, 10, set.Batch.NumEdges())

	assert.Equal(t, set.CentralIndices, tensors.MustCopyFlatData[int32](set.CentralIndicesTensor()))
	assert.Equal(t, set.BatchIndex, tensors.MustCopyFlatData[int32](set.BatchIndexTensor()))

	_, err = NewSet(g, [][]int32{{1}, {1}, {2}, {3}})
	assert.Error(t, err, "node 0 missing from its own subgraph")
	_, err = NewSet(g, neighborhoods[:2])
	assert.Error(t, err)
}
