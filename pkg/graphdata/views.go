// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphdata

import (
	"math"

	"github.com/pkg/errors"
	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// normalizeEpsilon is the lower bound to the norm used when normalizing rows.
const normalizeEpsilon = 1e-12

// MaskNodes sets the features of the given nodes to zero, in place.
func (g *Graph) MaskNodes(nodes []int) {
	for _, node := range nodes {
		clear(g.Row(node))
	}
}

// MaskFeatureColumns sets the given feature columns to zero for all nodes, in place.
func (g *Graph) MaskFeatureColumns(columns []int) {
	for n := range g.NumNodes {
		row := g.Row(n)
		for _, col := range columns {
			row[col] = 0
		}
	}
}

// SelectFeatureColumns returns a new row-major [NumNodes, len(columns)] matrix with the given feature columns.
func (g *Graph) SelectFeatureColumns(columns []int) []float32 {
	selected := make([]float32, 0, g.NumNodes*len(columns))
	for n := range g.NumNodes {
		row := g.Row(n)
		for _, col := range columns {
			selected = append(selected, row[col])
		}
	}
	return selected
}

// NormalizeRows divides the features of each node by their L2 norm, in place.
func (g *Graph) NormalizeRows() {
	for n := range g.NumNodes {
		row := g.Row(n)
		norm := float32(math.Sqrt(float64(vek32.Dot(row, row))))
		vek32.MulNumber_Inplace(row, 1/max(norm, normalizeEpsilon))
	}
}

// Standardize transforms each feature column to zero mean and unit variance (z-score), in place.
// Constant columns are only centered.
func (g *Graph) Standardize() {
	column := make([]float64, g.NumNodes)
	for d := range g.NumFeatures {
		for n := range g.NumNodes {
			column[n] = float64(g.Features[n*g.NumFeatures+d])
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for n := range g.NumNodes {
			g.Features[n*g.NumFeatures+d] = float32((column[n] - mean) / std)
		}
	}
}

// LocalDegreeProfileSize is the number of features generated by LocalDegreeProfile.
const LocalDegreeProfileSize = 5

// LocalDegreeProfile returns the local degree profile features of each node, shaped
// [NumNodes, LocalDegreeProfileSize] in row-major order: the node degree followed by the minimum, maximum,
// mean and standard deviation of the degrees of its neighbors. Isolated nodes get zeros for the neighbor statistics.
func (g *Graph) LocalDegreeProfile() []float32 {
	degrees := g.InDegrees()
	neighbors := g.Neighbors()
	profile := make([]float32, g.NumNodes*LocalDegreeProfileSize)
	var neighborDegrees []float64
	for n := range g.NumNodes {
		row := profile[n*LocalDegreeProfileSize : (n+1)*LocalDegreeProfileSize]
		row[0] = degrees[n]
		if len(neighbors[n]) == 0 {
			continue
		}
		neighborDegrees = neighborDegrees[:0]
		minDeg, maxDeg := math.Inf(1), math.Inf(-1)
		for _, neighbor := range neighbors[n] {
			deg := float64(degrees[neighbor])
			neighborDegrees = append(neighborDegrees, deg)
			minDeg = min(minDeg, deg)
			maxDeg = max(maxDeg, deg)
		}
		mean, std := stat.PopMeanStdDev(neighborDegrees, nil)
		row[1], row[2], row[3], row[4] = float32(minDeg), float32(maxDeg), float32(mean), float32(std)
	}
	return profile
}

// WithFeatures returns a copy of the graph structure with the given features, which are shaped
// [NumNodes, numFeatures] in row-major order. The features are zero-padded or truncated to width columns,
// so the result can be fed to an encoder that expects width input features.
func (g *Graph) WithFeatures(features []float32, numFeatures, width int) *Graph {
	view := g.Clone()
	view.NumFeatures = width
	view.Features = make([]float32, g.NumNodes*width)
	copied := min(numFeatures, width)
	for n := range g.NumNodes {
		copy(view.Features[n*width:n*width+copied], features[n*numFeatures:n*numFeatures+copied])
	}
	return view
}

// PCA projects the row-major [numRows, numCols] data onto its first numComponents principal components,
// returning a row-major [numRows, numComponents] matrix.
//
// Like most PCA implementations the data is centered before the projection.
func PCA(data []float32, numRows, numCols, numComponents int) ([]float32, error) {
	if numComponents > numCols || numComponents > numRows {
		return nil, errors.Errorf("PCA with %d components not possible for data shaped [%d, %d]",
			numComponents, numRows, numCols)
	}
	values := make([]float64, len(data))
	for ii, v := range data {
		values[ii] = float64(v)
	}
	x := mat.NewDense(numRows, numCols, values)
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, errors.New("PCA failed to factorize the data")
	}
	var vectors mat.Dense
	pc.VectorsTo(&vectors)

	// Center the data.
	for col := range numCols {
		mean := mat.Sum(x.ColView(col)) / float64(numRows)
		for row := range numRows {
			x.Set(row, col, x.At(row, col)-mean)
		}
	}
	var projected mat.Dense
	projected.Mul(x, vectors.Slice(0, numCols, 0, numComponents))
	result := make([]float32, numRows*numComponents)
	for row := range numRows {
		for col := range numComponents {
			result[row*numComponents+col] = float32(projected.At(row, col))
		}
	}
	return result, nil
}
