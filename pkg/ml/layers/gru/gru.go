// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gru provides a minimal "Gated Recurrent Unit" (GRU) [1] implementation.
//
// A GRU cell keeps a single hidden state and two gates: the update gate (z) decides how much of the previous
// state is kept, and the reset gate (r) decides how much of the previous state feeds the candidate state (n).
//
// The graph is unrolled: each step of the sequence is instantiated as its own graph nodes, so the graph size is
// O(N) on the size of the sequence.
//
// Two ways of using it:
//
//   - New(ctx, x, hiddenSize).Ragged(lengths).InitialState(h0).Done() runs a whole sequence at once.
//   - NewCell creates the weights once, and Cell.Step advances one position. This is used when the input of one
//     step depends on the output of the previous one, or when the same weights are applied to several sequences
//     in the same graph (see GRU.WithCell).
//
// [1] https://arxiv.org/abs/1406.1078, Cho et al., 2014
package gru

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// NumGates in a GRU cell: update (z), reset (r) and candidate (n), in this order.
const NumGates = 3

// Cell holds the weights of one GRU layer.
type Cell struct {
	featuresSize, hiddenSize int

	// Model weights: see NewCellWithWeights for specification.
	inputsW, recurrentW, biasesW *Node
}

// NewCell creates the variables of a GRU cell in ctx, and returns a Cell using them in graph g.
//
// It creates the variables "inputsW", "recurrentW" and "biasesW", so ctx should be scoped to the layer.
func NewCell(ctx *context.Context, g *Graph, dtype dtypes.DType, featuresSize, hiddenSize int) *Cell {
	inputsW := ctx.VariableWithShape("inputsW", shapes.Make(dtype, NumGates, hiddenSize, featuresSize)).ValueGraph(g)
	recurrentW := ctx.VariableWithShape("recurrentW", shapes.Make(dtype, NumGates, hiddenSize, hiddenSize)).ValueGraph(g)
	biasesW := ctx.VariableWithShape("biasesW", shapes.Make(dtype, 2*NumGates, hiddenSize)).ValueGraph(g)
	return NewCellWithWeights(inputsW, recurrentW, biasesW)
}

// NewCellWithWeights creates a Cell with the given weights, as opposed to creating them as variables.
//
// Args:
//   - inputsW: shaped [3, hiddenSize, featuresSize]
//   - recurrentW: shaped [3, hiddenSize, hiddenSize]
//   - biases: shaped [6, hiddenSize]. The first 3 are added to the input projections, the last 3 to the
//     recurrent projections. The recurrent bias of the candidate is multiplied by the reset gate.
func NewCellWithWeights(inputsW, recurrentW, biases *Node) *Cell {
	c := &Cell{
		hiddenSize:   inputsW.Shape().Dim(1),
		featuresSize: inputsW.Shape().Dim(2),
		inputsW:      inputsW,
		recurrentW:   recurrentW,
		biasesW:      biases,
	}
	inputsW.AssertDims(NumGates, c.hiddenSize, c.featuresSize)
	recurrentW.AssertDims(NumGates, c.hiddenSize, c.hiddenSize)
	biases.AssertDims(2*NumGates, c.hiddenSize)
	return c
}

// HiddenSize of the cell state.
func (c *Cell) HiddenSize() int { return c.hiddenSize }

// FeaturesSize expected for the inputs.
func (c *Cell) FeaturesSize() int { return c.featuresSize }

// Step advances the cell one position.
// x is shaped [batchSize, featuresSize] and prevHidden [batchSize, hiddenSize].
// It returns the new hidden state, shaped [batchSize, hiddenSize].
func (c *Cell) Step(x, prevHidden *Node) *Node {
	projX := Einsum("bf,nhf->nbh", x, c.inputsW)
	biasX := Slice(c.biasesW, AxisRangeFromStart(NumGates)) // 3 first biases.
	projX = Add(projX, ExpandAxes(biasX, 1))
	return c.stepProjected(projX, prevHidden)
}

// stepProjected takes projX already multiplied by inputsW (and added the input biases), shaped
// [3, batchSize, hiddenSize].
func (c *Cell) stepProjected(projX, prevHidden *Node) *Node {
	// n=3 (gates), b->batchSize, h->hiddenSize (input), j->hiddenSize (output).
	projState := Einsum("bh,njh->nbj", prevHidden, c.recurrentW)
	biasState := Slice(c.biasesW, AxisRangeToEnd(NumGates)) // 3 last biases.
	projState = Add(projState, ExpandAxes(biasState, 1))

	gate := func(proj *Node, idx int) *Node {
		return Squeeze(Slice(proj, AxisElem(idx)), 0)
	}
	zT := Sigmoid(Add(gate(projX, 0), gate(projState, 0)))
	rT := Sigmoid(Add(gate(projX, 1), gate(projState, 1)))
	nT := Tanh(Add(gate(projX, 2), Mul(rT, gate(projState, 2))))

	// h_t = (1-z) * n + z * h_{t-1}
	return Add(nT, Mul(zT, Sub(prevHidden, nT)))
}

// GRU holds a GRU layer configuration. It can be created with New, and once finished to be configured,
// can be applied to x with Done.
type GRU struct {
	ctx          *context.Context
	x            *Node
	xLengths     *Node
	initialState *Node
	cell         *Cell
	batchSize    int
	featuresSize int
	hiddenSize   int
}

// New creates a new GRU layer to be configured and then applied to x.
// x should be shaped [batchSize, sequenceSize, featuresSize].
//
// See GRU.Ragged if x is not densely used.
//
// Once finished configuring, call GRU.Done and it will return the states of the GRU.
func New(ctx *context.Context, x *Node, hiddenSize int) *GRU {
	return &GRU{
		ctx:          ctx,
		x:            x,
		batchSize:    x.Shape().Dim(0),
		featuresSize: x.Shape().Dim(2),
		hiddenSize:   hiddenSize,
	}
}

// Ragged indicates that x is "ragged" (the sequences are not used to the end), and its lengths are
// given by sequencesLengths, which must be shaped [batchSize].
//
// Positions at or beyond the length of a sequence keep the previous state unchanged, so the last state
// returned by Done is the state after the last valid position. A length of 0 returns the initial state.
func (l *GRU) Ragged(sequencesLengths *Node) *GRU {
	l.xLengths = sequencesLengths
	return l
}

// InitialState configures the initial hidden state (h_0), shaped [batchSize, hiddenSize].
// If not set it defaults to 0.
func (l *GRU) InitialState(initialState *Node) *GRU {
	l.initialState = initialState
	return l
}

// WithCell uses the given cell (and its weights) instead of creating new variables in the context.
//
// This is needed when applying the same layer to more than one sequence in the same graph.
func (l *GRU) WithCell(cell *Cell) *GRU {
	l.cell = cell
	return l
}

// Done should be called once the GRU is configured.
// It will apply the GRU layer to the sequence in x.
//   - allHiddenStates: [sequenceSize, batchSize, hiddenSize]
//   - lastHiddenState: [batchSize, hiddenSize]
func (l *GRU) Done() (allHiddenStates, lastHiddenState *Node) {
	x := l.x
	g := x.Graph()
	dtype := x.DType()
	batchSize := l.batchSize
	sequenceSize := x.Shape().Dim(1)
	hiddenSize := l.hiddenSize

	cell := l.cell
	if cell == nil {
		cell = NewCell(l.ctx, g, dtype, l.featuresSize, hiddenSize)
	} else {
		x.AssertDims(batchSize, sequenceSize, cell.FeaturesSize())
		hiddenSize = cell.HiddenSize()
	}

	// Linear projections of x for all positions at once: [3, batchSize, sequenceSize, hiddenSize].
	projX := Einsum("bsf,nhf->nbsh", x, cell.inputsW)
	{
		biasX := Slice(cell.biasesW, AxisRangeFromStart(NumGates))
		projX = Add(projX, ExpandAxes(biasX, 1, 2))
	}

	prevHidden := l.initialState
	if prevHidden == nil {
		prevHidden = Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
	} else {
		prevHidden.AssertDims(batchSize, hiddenSize)
	}

	seqHiddenStates := make([]*Node, sequenceSize)
	for seqPos := range sequenceSize {
		stepProjX := Squeeze(Slice(projX, AxisRange(), AxisRange(), AxisElem(seqPos)), 2)
		hiddenState := cell.stepProjected(stepProjX, prevHidden)

		// Mask results after the sequence end: keep prevHidden unchanged.
		if l.xLengths != nil {
			masked := GreaterOrEqual(Scalar(g, l.xLengths.DType(), seqPos), l.xLengths)
			hiddenState = Where(masked, prevHidden, hiddenState)
		}
		seqHiddenStates[seqPos] = hiddenState
		prevHidden = hiddenState
	}
	lastHiddenState = prevHidden
	allHiddenStates = Stack(seqHiddenStates, 0)
	return
}
