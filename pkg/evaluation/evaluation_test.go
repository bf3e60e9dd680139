// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTester(t *testing.T) {
	tester := NewTester([]int{1, 3}, 2)
	// 2 sessions, maxLength 3, top-3.
	topK := []int32{
		5, 6, 7, // target 5: rank 0.
		1, 2, 3, // target 3: rank 2.
		9, 9, 9, // padding, ignored.
		4, 8, 2, // target 1: not found.
		8, 4, 2, // target 4: rank 1.
		7, 7, 7, // target 7: rank 0.
	}
	targets := []int32{5, 3, 0, 1, 4, 7}
	lengths := []int32{2, 3}
	require.NoError(t, tester.EvaluateBatch(topK, 3, targets, lengths))

	stats := tester.Stats()
	require.Equal(t, 5, stats.Overall.Count)
	// Recall@1: ranks 0 and 0. Recall@3: ranks 0, 2, 1, 0.
	require.InDelta(t, 2.0/5, stats.Recall(1), 1e-9)
	require.InDelta(t, 4.0/5, stats.Recall(3), 1e-9)
	require.InDelta(t, 2.0/5, stats.MRR(1), 1e-9)
	require.InDelta(t, (1+1.0/3+1.0/2+1)/5, stats.MRR(3), 1e-9)
	require.Equal(t, 0.0, stats.Recall(20))

	// Positions: first position has targets 5 (rank 0) and 1 (miss), second has 3 (rank 2) and 4 (rank 1).
	// The third position is not tracked.
	require.Equal(t, 2, stats.PerPosition[0].Count)
	require.Equal(t, []float64{0.5, 0.5}, stats.PerPosition[0].Recall)
	require.Equal(t, []float64{0, 1}, stats.PerPosition[1].Recall)

	require.Contains(t, stats.String(), "Recall@3 = 0.8000")
	require.Contains(t, stats.Table(), "Recall@3")

	tester.Reset()
	stats = tester.Stats()
	require.Equal(t, 0, stats.Overall.Count)
	require.Equal(t, 0.0, stats.Recall(3))
}

func TestTesterErrors(t *testing.T) {
	tester := NewTester(DefaultCutoffs, DefaultNumPositions)
	require.Error(t, tester.EvaluateBatch(make([]int32, 10), 10, make([]int32, 2), []int32{1}))
	require.Error(t, tester.EvaluateBatch(make([]int32, 10), 20, make([]int32, 2), []int32{1}))
	require.NoError(t, tester.EvaluateBatch(nil, 20, nil, nil))
}
