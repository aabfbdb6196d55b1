// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classmetrics computes multi-class node classification metrics on the host: accuracy, micro and
// macro F1, one-vs-rest and one-vs-one ROC-AUC and log-loss.
//
// ROC-AUC values are computed over the one-hot encoded predicted classes (not the scores), so they
// measure the quality of the hard decisions.
package classmetrics

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metric names.
const (
	Accuracy  = "accuracy"
	F1Micro   = "f1_micro"
	F1Macro   = "f1_macro"
	ROCAUCOVR = "rocauc_ovr"
	ROCAUCOVO = "rocauc_ovo"
	LogLoss   = "logloss"
)

// LogLossEpsilon clips probabilities to [ε, 1-ε] before taking the log.
const LogLossEpsilon = 1e-15

// ErrNoExamples is returned by Compute when there are no labels.
var ErrNoExamples = errors.New("no examples to compute metrics on")

// Metrics maps metric names to their values.
type Metrics map[string]float64

// Names returns the names of the metrics returned by Compute.
func Names() []string {
	return []string{Accuracy, F1Micro, F1Macro, ROCAUCOVR, ROCAUCOVO, LogLoss}
}

// IsLoss returns whether lower values of the metric are better.
func IsLoss(name string) bool {
	return name == LogLoss
}

// Compute the classification metrics for labels (in [0, numClasses)) and the predicted probabilities, a
// row-major [len(labels), numClasses] matrix. Rows of probabilities are normalized to sum 1.
//
// The predicted class is the one with the highest probability, ties resolved to the lowest class.
// ROC-AUC classes (or class pairs, for one-vs-one) without both positive and negative examples are
// skipped, and if none is left the value is NaN.
func Compute(labels []int32, probabilities []float32, numClasses int) (Metrics, error) {
	numExamples := len(labels)
	if numExamples == 0 {
		return nil, errors.WithStack(ErrNoExamples)
	}
	if numClasses <= 0 || len(probabilities) != numExamples*numClasses {
		return nil, errors.Errorf("probabilities has %d values, expected %d examples x %d classes",
			len(probabilities), numExamples, numClasses)
	}
	predictions := make([]int32, numExamples)
	rows := make([][]float64, numExamples)
	for ii, label := range labels {
		if label < 0 || int(label) >= numClasses {
			return nil, errors.Errorf("label %d of example %d out of range [0, %d)", label, ii, numClasses)
		}
		row := make([]float64, numClasses)
		for c := range numClasses {
			row[c] = float64(probabilities[ii*numClasses+c])
		}
		if sum := floats.Sum(row); sum > 0 {
			floats.Scale(1/sum, row)
		}
		rows[ii] = row
		predictions[ii] = int32(floats.MaxIdx(row))
	}

	metrics := Metrics{}
	counts := newConfusionCounts(labels, predictions, numClasses)
	metrics[Accuracy] = counts.accuracy()
	metrics[F1Micro] = counts.f1Micro()
	metrics[F1Macro] = counts.f1Macro()
	metrics[ROCAUCOVR] = rocAUCOneVsRest(labels, predictions, numClasses)
	metrics[ROCAUCOVO] = rocAUCOneVsOne(labels, predictions, numClasses)
	metrics[LogLoss] = logLoss(labels, rows)
	return metrics, nil
}

type confusionCounts struct {
	truePositives, falsePositives, falseNegatives []int
	present                                       []bool
	numExamples                                   int
}

func newConfusionCounts(labels, predictions []int32, numClasses int) *confusionCounts {
	c := &confusionCounts{
		truePositives:  make([]int, numClasses),
		falsePositives: make([]int, numClasses),
		falseNegatives: make([]int, numClasses),
		present:        make([]bool, numClasses),
		numExamples:    len(labels),
	}
	for ii, label := range labels {
		prediction := predictions[ii]
		c.present[label] = true
		c.present[prediction] = true
		if label == prediction {
			c.truePositives[label]++
		} else {
			c.falsePositives[prediction]++
			c.falseNegatives[label]++
		}
	}
	return c
}

func (c *confusionCounts) accuracy() float64 {
	correct := 0
	for _, tp := range c.truePositives {
		correct += tp
	}
	return float64(correct) / float64(c.numExamples)
}

func f1(tp, fp, fn int) float64 {
	if tp == 0 {
		return 0
	}
	return 2 * float64(tp) / float64(2*tp+fp+fn)
}

func (c *confusionCounts) f1Micro() float64 {
	var tp, fp, fn int
	for class := range c.truePositives {
		tp += c.truePositives[class]
		fp += c.falsePositives[class]
		fn += c.falseNegatives[class]
	}
	return f1(tp, fp, fn)
}

// f1Macro averages the F1 of the classes present either in the labels or in the predictions.
func (c *confusionCounts) f1Macro() float64 {
	var scores []float64
	for class, present := range c.present {
		if present {
			scores = append(scores, f1(c.truePositives[class], c.falsePositives[class], c.falseNegatives[class]))
		}
	}
	return stat.Mean(scores, nil)
}

// binaryAUC returns the area under the ROC curve of scores for the binary classes, or NaN if classes
// doesn't have both positive and negative examples.
func binaryAUC(scores []float64, classes []bool) float64 {
	if !slices.Contains(classes, true) || !slices.Contains(classes, false) {
		return math.NaN()
	}
	scores, classes = slices.Clone(scores), slices.Clone(classes)
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// oneHotScores returns the one-hot score of class for each prediction.
func oneHotScores(predictions []int32, class int32) []float64 {
	scores := make([]float64, len(predictions))
	for ii, prediction := range predictions {
		if prediction == class {
			scores[ii] = 1
		}
	}
	return scores
}

// nanMean is the mean of the values that are not NaN, or NaN if there are none.
func nanMean(values []float64) float64 {
	values = slices.DeleteFunc(values, math.IsNaN)
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

func rocAUCOneVsRest(labels, predictions []int32, numClasses int) float64 {
	aucs := make([]float64, 0, numClasses)
	classes := make([]bool, len(labels))
	for class := range int32(numClasses) {
		for ii, label := range labels {
			classes[ii] = label == class
		}
		aucs = append(aucs, binaryAUC(oneHotScores(predictions, class), classes))
	}
	return nanMean(aucs)
}

// rocAUCOneVsOne averages over every pair of classes (a, b) the AUCs of a-vs-b and b-vs-a, restricted to the
// examples labeled a or b (Hand & Till).
func rocAUCOneVsOne(labels, predictions []int32, numClasses int) float64 {
	var aucs []float64
	for a := range int32(numClasses) {
		for b := a + 1; b < int32(numClasses); b++ {
			var pairPredictions []int32
			var isA []bool
			for ii, label := range labels {
				if label == a || label == b {
					pairPredictions = append(pairPredictions, predictions[ii])
					isA = append(isA, label == a)
				}
			}
			aucA := binaryAUC(oneHotScores(pairPredictions, a), isA)
			if math.IsNaN(aucA) {
				continue
			}
			isB := make([]bool, len(isA))
			for ii := range isA {
				isB[ii] = !isA[ii]
			}
			aucB := binaryAUC(oneHotScores(pairPredictions, b), isB)
			aucs = append(aucs, (aucA+aucB)/2)
		}
	}
	return nanMean(aucs)
}

// logLoss is the mean negative log probability of the true labels.
func logLoss(labels []int32, rows [][]float64) float64 {
	var total float64
	for ii, label := range labels {
		p := min(max(rows[ii][label], LogLossEpsilon), 1-LogLossEpsilon)
		total -= math.Log(p)
	}
	return total / float64(len(labels))
}
