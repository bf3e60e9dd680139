// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// PaddingItem is the item id used to pad sessions and targets.
const PaddingItem = 0

// MaskedCrossEntropy returns the negative log-probability of each target under the logits, or exactly 0 where
// the target is the padding item.
// logits is shaped [B, S, NumItems] and targets [B, S]. It returns [B, S].
func MaskedCrossEntropy(logits, targets *Node) *Node {
	numItems := logits.Shape().Dimensions[2]
	logProbs := LogSoftmax(logits, -1)
	labels := OneHot(targets, numItems, logits.DType())
	nll := Neg(ReduceSum(Mul(labels, logProbs), 2))
	mask := NotEqual(targets, Scalar(logits.Graph(), targets.DType(), PaddingItem))
	return Where(mask, nll, ZerosLike(nll))
}

// BatchLoss is the masked cross-entropy summed over the timesteps of the mean over the batch.
// Padded positions contribute exactly 0, so a session padded to any length has the same loss.
func BatchLoss(logits, targets *Node) *Node {
	batchSize := targets.Shape().Dimensions[0]
	return DivScalar(ReduceAllSum(MaskedCrossEntropy(logits, targets)), float64(batchSize))
}

// TopKItems returns the ids of the k highest scoring items at each timestep, in descending order of score.
// logits is shaped [B, S, NumItems], and the result is Int32 shaped [B, S, k].
func TopKItems(logits *Node, k int) *Node {
	_, indices := TopK(logits, k, -1)
	return indices
}
