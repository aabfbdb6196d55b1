// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphdata

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// pathGraph returns an undirected path 0-1-2-3 with 2 features per node.
func pathGraph() *Graph {
	return &Graph{
		NumNodes:    4,
		NumFeatures: 2,
		Features:    []float32{1, 2, 3, 4, 5, 6, 7, 8},
		Sources:     []int32{0, 1, 1, 2, 2, 3},
		Targets:     []int32{1, 0, 2, 1, 3, 2},
		Labels:      []int32{0, 0, 1, 1},
		NumClasses:  2,
	}
}

func TestCloneAndValidate(t *testing.T) {
	g := pathGraph()
	require.NoError(t, g.Validate())
	clone := g.Clone()
	clone.MaskNodes([]int{0})
	clone.Sources[0] = 3
	assert.Equal(t, float32(1), g.Features[0], "clone must not alias the original features")
	assert.Equal(t, int32(0), g.Sources[0], "clone must not alias the original edges")
	assert.Equal(t, []float32{0, 0}, clone.Row(0))

	bad := g.Clone()
	bad.Targets[0] = 10
	assert.Error(t, bad.Validate())
	bad = g.Clone()
	bad.Labels[2] = 2
	assert.Error(t, bad.Validate())
	bad = g.Clone()
	bad.Features[3] = float32(math.NaN())
	assert.Error(t, bad.Validate())
	bad = g.Clone()
	bad.Weights = []float32{1}
	assert.Error(t, bad.Validate())
}

func TestDegreesAndProfile(t *testing.T) {
	g := pathGraph()
	assert.Equal(t, []float32{1, 2, 2, 1}, g.InDegrees())
	profile := g.LocalDegreeProfile()
	require.Len(t, profile, 4*LocalDegreeProfileSize)
	// Node 1: degree 2, neighbors 0 (deg 1) and 2 (deg 2).
	assert.InDeltaSlice(t, []float32{2, 1, 2, 1.5, 0.5}, profile[5:10], 1e-6)
	// Node 0: degree 1, single neighbor 1 (deg 2).
	assert.InDeltaSlice(t, []float32{1, 2, 2, 2, 0}, profile[0:5], 1e-6)

	adjacency := g.DenseAdjacency(true)
	assert.Equal(t, 1.0, adjacency.At(0, 1))
	assert.Equal(t, 1.0, adjacency.At(2, 2))
	assert.Equal(t, 0.0, adjacency.At(0, 3))
}

func TestViews(t *testing.T) {
	g := pathGraph()
	g.MaskFeatureColumns([]int{1})
	assert.Equal(t, []float32{1, 0, 3, 0, 5, 0, 7, 0}, g.Features)
	assert.Equal(t, []float32{1, 3, 5, 7}, g.SelectFeatureColumns([]int{0}))

	g = pathGraph()
	g.NormalizeRows()
	for n := range g.NumNodes {
		row := g.Row(n)
		assert.InDelta(t, 1.0, math.Hypot(float64(row[0]), float64(row[1])), 1e-5)
	}

	g = pathGraph()
	g.Standardize()
	var sum, sumSq float64
	for n := range g.NumNodes {
		v := float64(g.Row(n)[0])
		sum += v
		sumSq += v * v
	}
	assert.InDelta(t, 0.0, sum/4, 1e-5)
	assert.InDelta(t, 1.0, sumSq/4, 1e-5)

	view := pathGraph().WithFeatures([]float32{1, 2, 3, 4}, 1, 3)
	assert.Equal(t, 3, view.NumFeatures)
	assert.Equal(t, []float32{1, 0, 0, 2, 0, 0, 3, 0, 0, 4, 0, 0}, view.Features)
	require.NoError(t, view.Validate())
}

func TestPCA(t *testing.T) {
	// Points on a line y = 2x: a single component explains everything.
	data := []float32{0, 0, 1, 2, 2, 4, 3, 6}
	projected, err := PCA(data, 4, 2, 1)
	require.NoError(t, err)
	require.Len(t, projected, 4)
	// Distances between consecutive projections are sqrt(5).
	for ii := 1; ii < 4; ii++ {
		assert.InDelta(t, math.Sqrt(5), math.Abs(float64(projected[ii]-projected[ii-1])), 1e-4)
	}
	_, err = PCA(data, 4, 2, 3)
	assert.Error(t, err)
}

func TestDiffusion(t *testing.T) {
	g := pathGraph()
	for _, strategy := range []DiffusionStrategy{DiffusionPinv, DiffusionPPR} {
		s, err := Diffusion(g, strategy, 0.15)
		require.NoError(t, err, "strategy %s", strategy)
		rows, cols := s.Dims()
		require.Equal(t, 4, rows)
		require.Equal(t, 4, cols)
		topK := TopKNeighbors(s, 1)
		if strategy == DiffusionPPR {
			// For PPR the closest node is always a direct neighbor on a path.
			assert.Equal(t, int32(1), topK[0][0])
			assert.Equal(t, int32(2), topK[3][0])
		}
		for i, neighbors := range topK {
			assert.Len(t, neighbors, 1)
			assert.NotEqual(t, int32(i), neighbors[0])
		}

		// Cached: same pointer.
		s2, err := Diffusion(g.Clone(), strategy, 0.15)
		require.NoError(t, err)
		assert.Same(t, s, s2)
	}
	_, err := Diffusion(g, "unknown", 0.5)
	assert.Error(t, err)
	_, err = Diffusion(g, DiffusionPPR, 1.5)
	assert.Error(t, err)

	// k is clamped to N-1.
	topK := TopKNeighbors(mat.NewDense(3, 3, []float64{0, 1, 2, 3, 0, 5, 6, 7, 0}), 10)
	assert.Equal(t, [][]int32{{2, 1}, {2, 0}, {1, 0}}, topK)
}

func TestPseudoInverse(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{2, 0, 0, 0})
	pinv, err := pseudoInverse(m)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pinv.At(0, 0), 1e-9)
	assert.InDelta(t, 0.0, pinv.At(1, 1), 1e-9)
}

func TestSparsifiedDiffusionGraph(t *testing.T) {
	g := pathGraph()
	s, err := Diffusion(g, DiffusionPPR, 0.15)
	require.NoError(t, err)
	view := SparsifiedDiffusionGraph(g, s, 2)
	require.NoError(t, view.Validate())
	assert.Equal(t, 8, view.NumEdges())
	for _, w := range view.Weights {
		assert.Greater(t, w, float32(0))
	}
	assert.Equal(t, g.Features, view.Features)
}

func TestGenerateSBMAndMasks(t *testing.T) {
	rng := rand.New(rand.NewPCG(0, 1))
	g, err := GenerateSBM(DefaultSBMConfig(30, 3, 4), rng)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.Equal(t, 30, g.NumNodes)
	assert.Equal(t, 0, g.NumEdges()%2, "undirected edges come in pairs")

	train, val, test, err := SplitMasks(10, 4, 3, 3, rng)
	require.NoError(t, err)
	counts := [3]int{}
	for n := range 10 {
		total := 0
		for ii, mask := range [][]bool{train, val, test} {
			if mask[n] {
				counts[ii]++
				total++
			}
		}
		assert.LessOrEqual(t, total, 1, "masks must be disjoint")
	}
	assert.Equal(t, [3]int{4, 3, 3}, counts)
	_, _, _, err = SplitMasks(10, 8, 3, 3, rng)
	assert.Error(t, err)
}

func TestTensors(t *testing.T) {
	g := pathGraph()
	features := g.FeaturesTensor()
	assert.Equal(t, []int{4, 2}, features.Shape().Dimensions)
	sources, targets, weights := g.EdgeTensors()
	assert.Equal(t, g.Sources, tensors.MustCopyFlatData[int32](sources))
	assert.Equal(t, g.Targets, tensors.MustCopyFlatData[int32](targets))
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, tensors.MustCopyFlatData[float32](weights))
	assert.Equal(t, []float32{1, 0, 1}, tensors.MustCopyFlatData[float32](MaskTensor([]bool{true, false, true})))
	assert.Equal(t, g.Labels, tensors.MustCopyFlatData[int32](g.LabelsTensor()))

	fingerprint := g.Fingerprint()
	assert.Equal(t, fingerprint, g.Clone().Fingerprint())
	g.Weights = []float32{1, 1, 1, 1, 1, 2}
	assert.NotEqual(t, fingerprint, g.Fingerprint())

	colWeights := pathGraph().FeatureColumnWeights([]float32{1, 1, 1, 1})
	assert.Equal(t, []float32{16, 20}, colWeights)
}
