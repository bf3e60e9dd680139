// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
)

func TestBatchLoss(t *testing.T) {
	// Uniform logits: every real target costs log(numItems). The second session is all padding.
	const numItems = 7
	graphtest.RunTestGraphFn(t, "BatchLoss uniform", func(g *Graph) (inputs, outputs []*Node) {
		targets := Const(g, [][]int32{{1, 2, 3}, {0, 0, 0}})
		logits := Zeros(g, shapes.Make(dtypes.Float32, 2, 3, numItems))
		inputs = []*Node{targets}
		outputs = []*Node{BatchLoss(logits, targets), MaskedCrossEntropy(logits, targets)}
		return
	}, []any{
		float32(3 * math.Log(numItems) / 2),
		[][]float32{
			{float32(math.Log(numItems)), float32(math.Log(numItems)), float32(math.Log(numItems))},
			{0, 0, 0},
		},
	}, 1e-4)
}

func TestBatchLossPadding(t *testing.T) {
	// A session of 3 items must have the same loss whether it is padded to 3 or to 10 positions,
	// whatever the logits of the padded positions.
	const numItems = 11
	rng := rand.New(rand.NewPCG(42, 0))
	padded := make([]float32, 10*numItems)
	for ii := range padded {
		padded[ii] = rng.Float32()*10 - 5
	}
	short := padded[:3*numItems]
	shortTargets := []int32{3, 5, 1}
	paddedTargets := []int32{3, 5, 1, 0, 0, 0, 0, 0, 0, 0}

	backend := graphtest.BuildTestBackend()
	outputs := context.MustExecOnceN(backend, context.New(), func(ctx *context.Context, inputs []*Node) []*Node {
		return []*Node{BatchLoss(inputs[0], inputs[1]), BatchLoss(inputs[2], inputs[3])}
	},
		tensors.FromFlatDataAndDimensions(short, 1, 3, numItems),
		tensors.FromFlatDataAndDimensions(shortTargets, 1, 3),
		tensors.FromFlatDataAndDimensions(padded, 1, 10, numItems),
		tensors.FromFlatDataAndDimensions(paddedTargets, 1, 10))
	shortLoss := tensors.ToScalar[float32](outputs[0])
	paddedLoss := tensors.ToScalar[float32](outputs[1])
	require.Greater(t, shortLoss, float32(0))
	require.InDelta(t, shortLoss, paddedLoss, 1e-5)
}

func TestTopKItems(t *testing.T) {
	const numItems, k = 1000, 20
	rng := rand.New(rand.NewPCG(7, 0))
	scores := make([]float32, numItems)
	for ii, p := range rng.Perm(numItems) {
		scores[ii] = float32(p) / numItems
	}
	want := make([]int32, numItems)
	for ii := range want {
		want[ii] = int32(ii)
	}
	sort.Slice(want, func(i, j int) bool { return scores[want[i]] > scores[want[j]] })
	want = want[:k]

	backend := graphtest.BuildTestBackend()
	outputs := context.MustExecOnceN(backend, context.New(), func(ctx *context.Context, inputs []*Node) []*Node {
		return []*Node{TopKItems(inputs[0], k)}
	}, tensors.FromFlatDataAndDimensions(scores, 1, 1, numItems))
	require.Equal(t, []int{1, 1, k}, outputs[0].Shape().Dimensions)
	got := tensors.MustCopyFlatData[int32](outputs[0])
	require.Equal(t, want, got)
	for ii := 1; ii < k; ii++ {
		require.Greater(t, scores[got[ii-1]], scores[got[ii]])
	}
}
