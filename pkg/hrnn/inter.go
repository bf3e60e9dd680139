// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/nn"

	"github.com/gomlx/iirnn/pkg/ml/layers/gru"
)

// InterSessionOutputs holds the results of both levels of the inter-session encoder.
type InterSessionOutputs struct {
	// SessionVectors (level 1) holds one vector per history slot, shaped [B, M, InterSize].
	// Slots beyond the user's count are zero.
	SessionVectors *Node

	// Attention weights of level 1, shaped [B, M (slot), M (attended entry)]. Zero if attention is disabled.
	Attention *Node

	// UserRepresentation (level 2) shaped [B, InterSize].
	UserRepresentation *Node
}

// EncodeInterSession runs level 1 and then level 2 of the inter-session encoder.
// attention can be nil.
func EncodeInterSession(ctx *context.Context, cfg Config, attention *Attention, in *Inputs) *InterSessionOutputs {
	out := &InterSessionOutputs{}
	out.SessionVectors, out.Attention = EncodeSessions(ctx, cfg, attention, in)
	out.UserRepresentation = EncodeUser(ctx, cfg, out.SessionVectors, in.HistoryCounts)
	return out
}

// EncodeSessions is the level 1 of the inter-session encoder, in scope "inter_session".
//
// It encodes the history slots sequentially: each slot's items go through a recurrent pass started from the
// running state, and the last state becomes the slot's session vector and the new running state.
// Slots with length 0 or beyond the user's count leave the running state unchanged and output zeros,
// so a user with count 0 gets only zeros.
//
// If attention is given, before each slot the running state attends over the cached session vectors of the
// previous slots, and the combination tanh(W·[state; context] + b) starts the recurrent pass.
//
// It returns the session vectors shaped [B, M, InterSize] and the attention weights shaped [B, M, M].
func EncodeSessions(ctx *context.Context, cfg Config, attention *Attention, in *Inputs) (sessionVectors, weights *Node) {
	g := in.HistoryItems.Graph()
	dtype := cfg.DType
	batchSize, numSlots := in.BatchSize(), in.Capacity()
	hiddenSize := cfg.InterSize

	embedded := EmbedItems(ctx, cfg, in.HistoryItems) // [B, M, S, E]
	ctx = ctx.In("inter_session")
	cell := gru.NewCell(ctx.In("gru"), g, dtype, cfg.EmbeddingSize, hiddenSize)

	var combineW, combineB *Node
	if attention != nil {
		combineW = ctx.VariableWithShape("combine_weights", shapes.Make(dtype, 2*hiddenSize, hiddenSize)).ValueGraph(g)
		combineB = ctx.VariableWithShape("combine_biases", shapes.Make(dtype, hiddenSize)).ValueGraph(g)
	}

	counts := in.HistoryCounts
	slotIndices := Iota(g, shapes.Make(dtypes.Int32, batchSize, numSlots), 1)
	noWeights := Zeros(g, shapes.Make(dtype, batchSize, numSlots))

	state := Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
	vectors := make([]*Node, numSlots)
	weightRows := make([]*Node, numSlots)
	for slot := range numSlots {
		slotItems := Squeeze(Slice(embedded, AxisRange(), AxisElem(slot)), 1)            // [B, S, E]
		slotLengths := Squeeze(Slice(in.HistoryLengths, AxisRange(), AxisElem(slot)), 1) // [B]
		valid := LogicalAnd(
			GreaterThan(slotLengths, ZerosLike(slotLengths)),
			GreaterThan(counts, Scalar(g, counts.DType(), slot)))

		initialState := state
		weightRows[slot] = noWeights
		if attention != nil {
			// Attend entries j < min(slot, count).
			mask := LogicalAnd(
				LessThan(slotIndices, Scalar(g, dtypes.Int32, slot)),
				LessThan(slotIndices, BroadcastToDims(ExpandAxes(counts, -1), batchSize, numSlots)))
			slotTime := Slice(in.HistoryTimestamps, AxisRange(), AxisElem(slot)) // [B, 1]
			slotTime = BroadcastToDims(slotTime, batchSize, numSlots)
			q := &Query{
				State:         state,
				Memory:        in.HistoryVectors,
				DeltaHours:    Sub(slotTime, in.HistoryTimestamps),
				Bucket:        Squeeze(Slice(in.HistoryBuckets, AxisRange(), AxisElem(slot)), 1),
				MemoryBuckets: in.HistoryBuckets,
				UserIDs:       in.UserIDs,
			}
			var attended *Node
			attended, weightRows[slot] = attention.Context(ctx, q, mask)
			initialState = Tanh(nn.Dense(Concatenate([]*Node{state, attended}, 1), combineW, combineB))
		}

		_, last := gru.New(nil, slotItems, hiddenSize).
			WithCell(cell).
			Ragged(slotLengths).
			InitialState(initialState).
			Done()
		vectors[slot] = Where(valid, last, ZerosLike(last))
		state = Where(valid, last, state)
	}
	sessionVectors = Stack(vectors, 1)
	weights = Stack(weightRows, 1)
	return
}

// EncodeUser is the level 2 of the inter-session encoder, in scope "inter_session_user".
//
// It folds the session vectors, shaped [B, M, InterSize], with a recurrent pass whose effective length is
// counts (shaped [B]), so slots beyond the count never influence the result.
// It returns the user representation shaped [B, InterSize].
func EncodeUser(ctx *context.Context, cfg Config, sessionVectors, counts *Node) *Node {
	_, userRepresentation := gru.New(ctx.In("inter_session_user").In("gru"), sessionVectors, cfg.InterSize).
		Ragged(counts).
		Done()
	return userRepresentation
}

// IntraInitialStates aligns the user representation, shaped [B, H], with the layers of the intra-session
// encoder: it returns [NumLayers, B, H], the same state for every layer.
func IntraInitialStates(cfg Config, userRepresentation *Node) *Node {
	dims := userRepresentation.Shape().Dimensions
	return BroadcastToDims(InsertAxes(userRepresentation, 0), cfg.NumLayers, dims[0], dims[1])
}
