// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"os"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/iirnn/pkg/evaluation"
	"github.com/gomlx/iirnn/pkg/hrnn"
)

func TestRunLog(t *testing.T) {
	dir := t.TempDir()
	l, err := NewRunLog(dir, "run")
	require.NoError(t, err)

	tester := evaluation.NewTester([]int{1, 2}, 3)
	require.NoError(t, tester.EvaluateBatch([]int32{5, 6, 7, 8}, 2, []int32{5, 8}, []int32{2}))
	require.NoError(t, l.LogConfig(hrnn.Config{NumItems: 10, TopK: 2}, 123))
	require.NoError(t, l.LogTestStats(1, 2.5, tester.Stats()))
	require.NoError(t, l.LogInterAttention(3, 2, []float32{0, 0, 1, 0}))
	require.NoError(t, l.LogIntraAttention(4, []int32{9, 8}, 2, []float32{0.25, 0.75, 0.5, 0.5}))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	content := string(must.M1(os.ReadFile(l.Path())))
	for _, want := range []string{
		"=== run run, id ",
		"num_items: 10",
		"training sessions: 123",
		"epoch #1, training loss 2.5000",
		"inter attention, user 3:\n\t0.000 0.000\n\t1.000 0.000\n",
		"intra attention, user 4, session [9 8]:\n\t9: 0.250 0.750\n\t8: 0.500 0.500\n",
	} {
		require.Contains(t, content, want)
	}

	// Reopening appends.
	l2, err := NewRunLog(dir, "run")
	require.NoError(t, err)
	require.NoError(t, l2.Close())
	content = string(must.M1(os.ReadFile(l.Path())))
	require.Equal(t, 2, strings.Count(content, "=== run run"))
}

func TestNilRunLog(t *testing.T) {
	var l *RunLog
	require.NoError(t, l.LogConfig(hrnn.Config{}, 0))
	require.NoError(t, l.LogTestStats(1, 0, evaluation.Stats{}))
	require.NoError(t, l.LogInterAttention(0, 0, nil))
	require.NoError(t, l.LogIntraAttention(0, nil, 0, nil))
	require.NoError(t, l.Close())
	require.Empty(t, l.Path())

	_, err := NewRunLog(t.TempDir(), "")
	require.Error(t, err)
}
