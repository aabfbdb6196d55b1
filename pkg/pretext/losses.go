// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
)

// InfoNCE returns the per-node contrastive loss of z1 against z2, both shaped [N, H], with temperature tau.
//
// For node i the positive pair is (z1ᵢ, z2ᵢ), and the negatives are all other nodes of both views:
//
//	lossᵢ = -log( e^{θ(z1ᵢ,z2ᵢ)/τ} / (Σⱼ e^{θ(z1ᵢ,z1ⱼ)/τ} + Σⱼ e^{θ(z1ᵢ,z2ⱼ)/τ} - e^{θ(z1ᵢ,z1ᵢ)/τ}) )
//
// where θ is the cosine similarity. It returns a vector shaped [N].
func InfoNCE(z1, z2 *Node, tau float64) *Node {
	if !z1.Shape().Equal(z2.Shape()) || z1.Rank() != 2 {
		Panicf("InfoNCE requires two views with the same [num_nodes, dim] shape, got %s and %s", z1.Shape(), z2.Shape())
	}
	if tau <= 0 {
		Panicf("InfoNCE temperature must be > 0, got %g", tau)
	}
	g := z1.Graph()
	numNodes := z1.Shape().Dim(0)
	identity := ConvertDType(Diagonal(g, numNodes), z1.DType())
	z1 = L2Normalize(z1, -1)
	z2 = L2Normalize(z2, -1)
	reflexive := Exp(DivScalar(MatMul(z1, Transpose(z1, 0, 1)), tau))
	between := Exp(DivScalar(MatMul(z1, Transpose(z2, 0, 1)), tau))
	positives := ReduceSum(Mul(between, identity), -1)
	denominator := Sub(
		Add(ReduceSum(reflexive, -1), ReduceSum(between, -1)),
		ReduceSum(Mul(reflexive, identity), -1))
	return Neg(Log(Div(positives, denominator)))
}

// SymmetricInfoNCE is the mean over nodes of the InfoNCE loss taken in both directions.
func SymmetricInfoNCE(z1, z2 *Node, tau float64) *Node {
	return ReduceAllMean(MulScalar(Add(InfoNCE(z1, z2, tau), InfoNCE(z2, z1, tau)), 0.5))
}

// binaryLogitsLoss is the mean binary cross-entropy of the logits, all with the same label (0 or 1).
func binaryLogitsLoss(logits *Node, label float64) *Node {
	labels := AddScalar(ZerosLike(logits), label)
	return ReduceAllMean(losses.BinaryCrossentropyLogits([]*Node{labels}, []*Node{logits}))
}

// DiscriminatorLoss is the binary cross-entropy of a discriminator that should output high logits for
// positive pairs and low logits for negative ones.
func DiscriminatorLoss(positive, negative *Node) *Node {
	return Add(binaryLogitsLoss(positive, 1), binaryLogitsLoss(negative, 0))
}

// JensenShannon returns the Jensen-Shannon mutual information estimator loss for the positive and negative
// scores:
//
//	E_pos = log 2 - softplus(-positive),  E_neg = softplus(-negative) + negative - log 2
//	loss  = mean(E_neg) - mean(E_pos)
//
// Since softplus(-x) + x = softplus(x), it's the DiscriminatorLoss shifted by 2·log 2.
func JensenShannon(positive, negative *Node) *Node {
	return AddScalar(DiscriminatorLoss(positive, negative), -2*math.Ln2)
}

// MarginRanking returns the mean of max(0, margin - (x1 - x2)): it pushes x1 to be larger than x2 by at
// least margin.
func MarginRanking(x1, x2 *Node, margin float64) *Node {
	return ReduceAllMean(activations.Relu(AddScalar(Sub(x2, x1), margin)))
}

// CosineDistance returns 2 - 2·cos(p, z) for each row of p and z, shaped [N].
func CosineDistance(p, z *Node) *Node {
	p = L2Normalize(p, -1)
	z = L2Normalize(z, -1)
	return AddScalar(MulScalar(ReduceSum(Mul(p, z), -1), -2), 2)
}

// MeanSquaredError between labels and predictions of the same shape.
func MeanSquaredError(labels, predictions *Node) *Node {
	return losses.MeanSquaredError([]*Node{labels}, []*Node{predictions})
}

// MaskedCrossEntropy returns the mean softmax cross-entropy of logits [N, C] against labels [N] (integers in
// [0, C)), restricted to the nodes where mask [N] (Bool) is true.
//
// It returns 0 if the mask is empty.
func MaskedCrossEntropy(labels, logits, mask *Node) *Node {
	perNode := losses.SparseCategoricalCrossEntropyLogits(
		[]*Node{InsertAxes(labels, -1), mask}, []*Node{logits})
	count := ReduceAllSum(ConvertDType(mask, logits.DType()))
	return Div(ReduceAllSum(perNode), MaxScalar(count, 1))
}

// elu activation, with alpha = 1.
func elu(x *Node) *Node {
	negative := MinusOne(Exp(MinScalar(x, 0)))
	return Where(GreaterThan(x, ZerosLike(x)), x, negative)
}
