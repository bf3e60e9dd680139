// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/require"
)

// testConfig is a small configuration with every attention strategy enabled.
func testConfig() Config {
	return Config{
		DType:                     dtypes.Float32,
		NumItems:                  50,
		NumUsers:                  2,
		EmbeddingSize:             8,
		InterSize:                 8,
		IntraSize:                 8,
		NumLayers:                 2,
		DropoutRate:               0.1,
		MaxSessionRepresentations: 4,
		MaxSessionLength:          5,
		TopK:                      5,
		SessionRepresentation:     LastHiddenMode,
		InterAttention:            InterAttentionConfig{HiddenState: true, DeltaTime: true, WeekTime: true},
		IntraAttention:            IntraAttentionConfig{Enabled: true, DeltaTime: true, PerUser: true},
	}
}

// testBatch returns the model inputs for 2 users: user 0 has no history, user 1 has 2 cached sessions.
// User 0 has leftover values in its first history slot that must be ignored, since its count is 0.
func testBatch(cfg Config) []any {
	const batchSize = 2
	s, m, h := cfg.MaxSessionLength, cfg.MaxSessionRepresentations, cfg.SessionVectorSize()

	// Slots: user 0 slot 0 (leftover), user 1 slot 0, user 1 slot 1.
	historyItems := make([]int32, batchSize*m*s)
	copy(historyItems, []int32{12, 13})
	copy(historyItems[m*s:], []int32{7, 8, 9})
	copy(historyItems[m*s+s:], []int32{10, 11})
	historyLengths := []int32{2, 0, 0, 0, 3, 2, 0, 0}
	historyVectors := make([]float32, batchSize*m*h)
	for ii := range h {
		historyVectors[ii] = 5
		historyVectors[m*h+ii] = 0.1 * float32(ii+1)
		historyVectors[m*h+h+ii] = -0.1 * float32(ii+1)
	}
	items := []int32{1, 2, 3, 0, 0, 4, 5, 0, 0, 0}
	targets := []int32{2, 3, 4, 0, 0, 5, 6, 0, 0, 0}
	return []any{
		tensors.FromFlatDataAndDimensions(items, batchSize, s),
		tensors.FromFlatDataAndDimensions(targets, batchSize, s),
		[]int32{3, 2},
		[]float32{1000, 1010},
		[]int32{10, 20},
		[]int32{0, 1},
		tensors.FromFlatDataAndDimensions(historyItems, batchSize, m, s),
		tensors.FromFlatDataAndDimensions(historyLengths, batchSize, m),
		[]int32{0, 2},
		tensors.FromFlatDataAndDimensions(historyVectors, batchSize, m, h),
		tensors.FromFlatDataAndDimensions([]float32{990, 0, 0, 0, 900, 950, 0, 0}, batchSize, m),
		tensors.FromFlatDataAndDimensions([]int32{1, 0, 0, 0, 3, 4, 0, 0}, batchSize, m),
	}
}

func TestForward(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg)
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	ctx := context.New()

	outputs := context.MustExecOnceN(backend, ctx, model.EvalGraph(), testBatch(cfg)...)
	require.Len(t, outputs, NumOutputs)
	loss := tensors.ToScalar[float32](outputs[0])
	require.Greater(t, loss, float32(0))
	require.Equal(t, []int{2, cfg.MaxSessionLength, cfg.TopK}, outputs[1].Shape().Dimensions)
	require.Equal(t, []int{2, cfg.InterSize}, outputs[2].Shape().Dimensions)
	require.Equal(t, []int{2, 4, 4}, outputs[3].Shape().Dimensions)
	require.True(t, tensors.ToScalar[bool](outputs[5]))

	// Intra-session attention: user 0 has nothing to attend to, user 1 attends its 2 sessions.
	intraAttention := outputs[4].Value().([][][]float32)
	require.Len(t, intraAttention[0], cfg.MaxSessionLength)
	for _, row := range intraAttention[0] {
		require.Equal(t, []float32{0, 0, 0, 0}, row)
	}
	for _, row := range intraAttention[1] {
		require.InDelta(t, 1.0, row[0]+row[1], 1e-5)
		require.Equal(t, float32(0), row[2])
		require.Equal(t, float32(0), row[3])
	}

	// Evaluation is deterministic: no dropout.
	again := context.MustExecOnceN(backend, ctx, model.EvalGraph(), testBatch(cfg)...)
	require.Equal(t, loss, tensors.ToScalar[float32](again[0]))

	// All the model components created their variables.
	for _, scope := range []string{"/embedding", "/inter_session/gru", "/inter_session_user/gru",
		"/intra_session/gru_0", "/intra_session/gru_1", "/intra_session/output"} {
		found := false
		for v := range ctx.IterVariablesInScope() {
			if v.Scope() == scope {
				found = true
				break
			}
		}
		require.Truef(t, found, "no variables in scope %q", scope)
	}
}

func TestTrainGraph(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg)
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParam(optimizers.ParamOptimizer, "adam")
	ctx.SetParam(optimizers.ParamLearningRate, 0.01)
	trainExec, err := context.NewExec(backend, ctx, model.TrainGraph(optimizers.FromContext(ctx)))
	require.NoError(t, err)

	var first, last float32
	for step := range 20 {
		outputs, err := trainExec.Exec(testBatch(cfg)...)
		require.NoError(t, err)
		loss := tensors.ToScalar[float32](outputs[0])
		if step == 0 {
			first = loss
		}
		last = loss
		require.True(t, tensors.ToScalar[bool](outputs[5]))
	}
	require.Less(t, last, first, "training on the same batch should decrease the loss")
}

// meanEmbedding returns the mean of the embeddings of items.
func meanEmbedding(table [][]float32, items ...int32) []float32 {
	mean := make([]float32, len(table[0]))
	for _, item := range items {
		for ii, value := range table[item] {
			mean[ii] += value / float32(len(items))
		}
	}
	return mean
}

func TestForwardMeanPool(t *testing.T) {
	cfg := testConfig()
	cfg.SessionRepresentation = MeanPoolMode
	model, err := New(cfg)
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	ctx := context.New()

	outputs := context.MustExecOnceN(backend, ctx, model.EvalGraph(), testBatch(cfg)...)
	require.True(t, tensors.ToScalar[bool](outputs[5]))
	sessionVectors := outputs[2].Value().([][]float32)
	table := ctx.GetVariableByScopeAndName("/embedding", "embeddings").MustValue().Value().([][]float32)

	// Sessions {1, 2, 3} and {4, 5}: the padding item 0 is not part of the mean.
	require.InDeltaSlice(t, meanEmbedding(table, 1, 2, 3), sessionVectors[0], 1e-5)
	require.InDeltaSlice(t, meanEmbedding(table, 4, 5), sessionVectors[1], 1e-5)
	require.NotEqual(t, table[0], make([]float32, cfg.EmbeddingSize))

	// The training graph builds and differentiates in this mode too.
	ctx.SetParam(optimizers.ParamLearningRate, 0.01)
	trainExec, err := context.NewExec(backend, ctx, model.TrainGraph(optimizers.FromContext(ctx)))
	require.NoError(t, err)
	outputs, err = trainExec.Exec(testBatch(cfg)...)
	require.NoError(t, err)
	require.True(t, tensors.ToScalar[bool](outputs[5]))
	require.Greater(t, tensors.ToScalar[float32](outputs[0]), float32(0))
}
