// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
)

func TestEncodeInterSession(t *testing.T) {
	cfg := testConfig()
	backend := graphtest.BuildTestBackend()
	outputs := context.MustExecOnceN(backend, context.New(), func(ctx *context.Context, inputs []*Node) []*Node {
		ctx = ctx.Checked(false)
		in := InputsFromNodes(inputs)
		out := EncodeInterSession(ctx, cfg, NewInterAttention(cfg), in)
		return []*Node{out.UserRepresentation, out.SessionVectors, out.Attention}
	}, testBatch(cfg)...)

	userRepresentation := outputs[0].Value().([][]float32)
	sessionVectors := outputs[1].Value().([][][]float32)
	attention := outputs[2].Value().([][][]float32)
	zeros := make([]float32, cfg.InterSize)

	// User 0 has count 0: zero user representation and session vectors, its leftover slot is ignored.
	require.Equal(t, zeros, userRepresentation[0])
	for _, vector := range sessionVectors[0] {
		require.Equal(t, zeros, vector)
	}
	require.NotEqual(t, zeros, userRepresentation[1])

	// User 1: only its first 2 slots are encoded.
	require.NotEqual(t, zeros, sessionVectors[1][0])
	require.NotEqual(t, zeros, sessionVectors[1][1])
	require.Equal(t, zeros, sessionVectors[1][2])
	require.Equal(t, zeros, sessionVectors[1][3])

	// Slot 0 has nothing before it, slot 1 can only attend slot 0.
	require.Equal(t, []float32{0, 0, 0, 0}, attention[1][0])
	require.InDeltaSlice(t, []float32{1, 0, 0, 0}, attention[1][1], 1e-6)
}

func TestIntraInitialStates(t *testing.T) {
	cfg := testConfig()
	graphtest.RunTestGraphFn(t, "IntraInitialStates", func(g *Graph) (inputs, outputs []*Node) {
		userRepresentation := Const(g, [][]float32{{1, 2}, {3, 4}})
		inputs = []*Node{userRepresentation}
		outputs = []*Node{IntraInitialStates(cfg, userRepresentation)}
		return
	}, []any{
		[][][]float32{{{1, 2}, {3, 4}}, {{1, 2}, {3, 4}}},
	}, 0)
}
