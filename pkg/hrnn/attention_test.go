// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/require"
)

func TestSafeMaskedSoftmax(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SafeMaskedSoftmax", func(g *Graph) (inputs, outputs []*Node) {
		logits := Const(g, [][]float32{{1, 2, 3}, {5, 5, 5}, {0, 0, 0}})
		mask := Const(g, [][]bool{{true, true, false}, {false, false, false}, {true, true, true}})
		inputs = []*Node{logits, mask}
		outputs = []*Node{SafeMaskedSoftmax(logits, mask)}
		return
	}, []any{
		[][]float32{{0.26894142, 0.7310586, 0}, {0, 0, 0}, {1.0 / 3, 1.0 / 3, 1.0 / 3}},
	}, 1e-5)
}

func TestAttentionStrategies(t *testing.T) {
	cfg := testConfig()
	cfg.InterAttention = InterAttentionConfig{}
	require.Nil(t, NewInterAttention(cfg))
	cfg.InterAttention = InterAttentionConfig{DeltaTime: true, WeekTime: true}
	require.Equal(t, []ScorerKind{DeltaTimeScorer, WeekTimeScorer}, NewInterAttention(cfg).Kinds())

	cfg.IntraAttention = IntraAttentionConfig{}
	require.Nil(t, NewIntraAttention(cfg))
	cfg.IntraAttention = IntraAttentionConfig{Enabled: true, DeltaTime: true}
	require.Equal(t, []ScorerKind{HiddenStateScorer, DeltaTimeScorer}, NewIntraAttention(cfg).Kinds())
	cfg.IntraAttention = IntraAttentionConfig{Enabled: true, PerUser: true}
	require.Equal(t, []ScorerKind{PerUserHiddenStateScorer}, NewIntraAttention(cfg).Kinds())
	require.Equal(t, "per_user_hidden_state", PerUserHiddenStateScorer.String())
}
