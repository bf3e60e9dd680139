// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/nn"

	"github.com/gomlx/iirnn/pkg/ml/layers/gru"
)

// IntraStep holds the outputs of one timestep of the intra-session encoder.
type IntraStep struct {
	// Logits over all items, shaped [B, NumItems].
	Logits *Node

	// States of each recurrent layer after this step, shaped [NumLayers, B, IntraSize].
	States *Node

	// Embedded input item, shaped [B, EmbeddingSize].
	Embedded *Node

	// Recurrent output of the last layer, shaped [B, IntraSize].
	Recurrent *Node

	// Attention weights over the history slots, shaped [B, M]. Nil if attention is disabled.
	Attention *Node
}

// IntraSessionOutputs are the per-step outputs of the intra-session encoder stacked on the time axis.
type IntraSessionOutputs struct {
	Steps []IntraStep

	// Logits shaped [B, S, NumItems].
	Logits *Node

	// Embedded shaped [B, S, EmbeddingSize].
	Embedded *Node

	// RecurrentOutputs shaped [B, S, IntraSize].
	RecurrentOutputs *Node

	// Attention shaped [B, S, M], zeros if attention is disabled.
	Attention *Node

	// FinalStates shaped [NumLayers, B, IntraSize].
	FinalStates *Node
}

// intraEncoder holds the weights of the intra-session encoder for one graph.
type intraEncoder struct {
	ctx       *context.Context
	cfg       Config
	attention *Attention

	cells              []*gru.Cell
	outputW, outputB   *Node
	combineW, combineB *Node
	dropoutRate        *Node
	mask               *Node
	query              *Query
}

// EncodeIntraSession runs the intra-session encoder, in scope "intra_session", one timestep at a time over
// the current sessions in `in`.
//
//   - initialStates: shaped [NumLayers, B, IntraSize], see IntraInitialStates.
//   - sessionVectors: level 1 inter-session outputs, shaped [B, M, InterSize], the memory of the attention.
//     They are fixed for the whole session.
//   - attention: can be nil.
func EncodeIntraSession(ctx *context.Context, cfg Config, attention *Attention, in *Inputs,
	initialStates, sessionVectors *Node) *IntraSessionOutputs {
	g := in.Items.Graph()
	dtype := cfg.DType
	batchSize, maxLength := in.BatchSize(), in.MaxLength()
	hiddenSize := cfg.IntraSize
	initialStates.AssertDims(cfg.NumLayers, batchSize, hiddenSize)

	embedded := EmbedItems(ctx, cfg, in.Items) // [B, S, E]
	ctx = ctx.In("intra_session")
	enc := &intraEncoder{ctx: ctx, cfg: cfg, attention: attention}
	enc.cells = make([]*gru.Cell, cfg.NumLayers)
	for layer := range cfg.NumLayers {
		featuresSize := hiddenSize
		if layer == 0 {
			featuresSize = cfg.EmbeddingSize
		}
		enc.cells[layer] = gru.NewCell(ctx.In(fmt.Sprintf("gru_%d", layer)), g, dtype, featuresSize, hiddenSize)
	}
	outputCtx := ctx.In("output")
	enc.outputW = outputCtx.VariableWithShape("weights", shapes.Make(dtype, hiddenSize, cfg.NumItems)).ValueGraph(g)
	enc.outputB = outputCtx.VariableWithShape("biases", shapes.Make(dtype, cfg.NumItems)).ValueGraph(g)
	if cfg.DropoutRate > 0 {
		enc.dropoutRate = Scalar(g, dtype, cfg.DropoutRate)
	}

	if attention != nil {
		numSlots := in.Capacity()
		enc.combineW = ctx.VariableWithShape("combine_weights", shapes.Make(dtype, 2*hiddenSize, hiddenSize)).ValueGraph(g)
		enc.combineB = ctx.VariableWithShape("combine_biases", shapes.Make(dtype, hiddenSize)).ValueGraph(g)
		slotIndices := Iota(g, shapes.Make(dtypes.Int32, batchSize, numSlots), 1)
		enc.mask = LessThan(slotIndices, BroadcastToDims(ExpandAxes(in.HistoryCounts, -1), batchSize, numSlots))
		now := BroadcastToDims(ExpandAxes(in.Timestamps, -1), batchSize, numSlots)
		enc.query = &Query{
			Memory:        sessionVectors,
			DeltaHours:    Sub(now, in.HistoryTimestamps),
			Bucket:        in.Buckets,
			MemoryBuckets: in.HistoryBuckets,
			UserIDs:       in.UserIDs,
		}
	}

	states := make([]*Node, cfg.NumLayers)
	for layer := range cfg.NumLayers {
		states[layer] = Squeeze(Slice(initialStates, AxisElem(layer)), 0)
	}
	out := &IntraSessionOutputs{Steps: make([]IntraStep, maxLength)}
	for t := range maxLength {
		x := Squeeze(Slice(embedded, AxisRange(), AxisElem(t)), 1) // [B, E]
		out.Steps[t] = enc.step(x, states)
		for layer := range cfg.NumLayers {
			states[layer] = Squeeze(Slice(out.Steps[t].States, AxisElem(layer)), 0)
		}
	}
	out.stack(g, dtype, in.Capacity())
	return out
}

// step runs one timestep: x shaped [B, E], states holds the previous state of each layer.
func (enc *intraEncoder) step(x *Node, states []*Node) IntraStep {
	step := IntraStep{Embedded: x}
	newStates := make([]*Node, len(states))
	input := enc.dropout("dropout_input", x)
	for layer, cell := range enc.cells {
		newStates[layer] = cell.Step(input, states[layer])
		input = newStates[layer]
		if layer < len(enc.cells)-1 {
			input = enc.dropout("dropout_layers", input)
		}
	}
	step.States = Stack(newStates, 0)
	step.Recurrent = newStates[len(newStates)-1]

	output := step.Recurrent
	if enc.attention != nil {
		q := *enc.query
		q.State = step.Recurrent
		var attended *Node
		attended, step.Attention = enc.attention.Context(enc.ctx, &q, enc.mask)
		output = Tanh(nn.Dense(Concatenate([]*Node{output, attended}, 1), enc.combineW, enc.combineB))
	}
	output = enc.dropout("dropout_output", output)
	step.Logits = nn.Dense(output, enc.outputW, enc.outputB)
	return step
}

// dropout is only applied during training, and if a dropout rate is configured.
func (enc *intraEncoder) dropout(scope string, x *Node) *Node {
	if enc.dropoutRate == nil {
		return x
	}
	return layers.DropoutNormalize(enc.ctx.In(scope), x, enc.dropoutRate, true)
}

// stack concatenates the per-step outputs along the time axis (axis 1).
func (out *IntraSessionOutputs) stack(g *Graph, dtype dtypes.DType, numSlots int) {
	numSteps := len(out.Steps)
	logits := make([]*Node, numSteps)
	embedded := make([]*Node, numSteps)
	recurrent := make([]*Node, numSteps)
	var attention []*Node
	for t, step := range out.Steps {
		logits[t] = step.Logits
		embedded[t] = step.Embedded
		recurrent[t] = step.Recurrent
		if step.Attention != nil {
			attention = append(attention, step.Attention)
		}
	}
	out.Logits = Stack(logits, 1)
	out.Embedded = Stack(embedded, 1)
	out.RecurrentOutputs = Stack(recurrent, 1)
	out.FinalStates = out.Steps[numSteps-1].States
	if len(attention) > 0 {
		out.Attention = Stack(attention, 1)
	} else {
		batchSize := out.Logits.Shape().Dimensions[0]
		out.Attention = Zeros(g, shapes.Make(dtype, batchSize, numSteps, numSlots))
	}
}
