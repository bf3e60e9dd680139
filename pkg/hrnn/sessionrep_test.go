// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
)

func TestMeanPooling(t *testing.T) {
	graphtest.RunTestGraphFn(t, "MeanPooling", func(g *Graph) (inputs, outputs []*Node) {
		embedded := Const(g, [][][]float32{
			{{1, 2}, {3, 4}, {5, 6}, {100, 100}},
			{{7, 8}, {-100, 100}, {100, -100}, {100, 100}},
		})
		lengths := Const(g, []int32{3, 1})
		inputs = []*Node{embedded, lengths}
		outputs = []*Node{MeanPooling(embedded, lengths)}
		return
	}, []any{
		[][]float32{{3, 4}, {7, 8}},
	}, 1e-5)
}

func TestLastHiddenState(t *testing.T) {
	graphtest.RunTestGraphFn(t, "LastHiddenState", func(g *Graph) (inputs, outputs []*Node) {
		recurrent := Const(g, [][][]float32{
			{{0}, {1}, {2}, {3}},
			{{10}, {11}, {12}, {13}},
			{{20}, {21}, {22}, {23}},
		})
		lengths := Const(g, []int32{2, 4, 1})
		inputs = []*Node{recurrent, lengths}
		outputs = []*Node{LastHiddenState(recurrent, lengths)}
		return
	}, []any{
		[][]float32{{1}, {13}, {20}},
	}, 0)
}
