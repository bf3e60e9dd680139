// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// NumInputs is the number of input nodes of the model graph. See Inputs for their order.
const NumInputs = 12

// Inputs of the model graph, for a batch of B users, padded session length S, cache capacity M and
// session vectors of size H.
//
// Item ids, lengths, buckets, counts and user ids are Int32. Times are Float32 hours since the Unix epoch.
type Inputs struct {
	// Items and Targets of the current sessions, shaped [B, S]. Targets are the items shifted by one, 0 is padding.
	Items, Targets *Node

	// Lengths of the current sessions, shaped [B].
	Lengths *Node

	// Timestamps and Buckets of the current sessions, shaped [B].
	Timestamps, Buckets *Node

	// UserIDs shaped [B].
	UserIDs *Node

	// HistoryItems holds the items of the previous sessions of each user, shaped [B, M, S], and HistoryLengths
	// their lengths, shaped [B, M].
	HistoryItems, HistoryLengths *Node

	// HistoryCounts is the number of valid cache entries per user, shaped [B].
	HistoryCounts *Node

	// HistoryVectors holds the cached session representations, shaped [B, M, H], with their
	// HistoryTimestamps and HistoryBuckets, shaped [B, M].
	HistoryVectors, HistoryTimestamps, HistoryBuckets *Node
}

// InputsFromNodes maps the graph inputs, in the order of the Inputs fields, to an Inputs struct.
func InputsFromNodes(nodes []*Node) *Inputs {
	if len(nodes) != NumInputs {
		exceptions.Panicf("model graph takes %d inputs, got %d", NumInputs, len(nodes))
	}
	return &Inputs{
		Items:             nodes[0],
		Targets:           nodes[1],
		Lengths:           nodes[2],
		Timestamps:        nodes[3],
		Buckets:           nodes[4],
		UserIDs:           nodes[5],
		HistoryItems:      nodes[6],
		HistoryLengths:    nodes[7],
		HistoryCounts:     nodes[8],
		HistoryVectors:    nodes[9],
		HistoryTimestamps: nodes[10],
		HistoryBuckets:    nodes[11],
	}
}

// BatchSize is the number of users in the batch.
func (in *Inputs) BatchSize() int { return in.Items.Shape().Dimensions[0] }

// MaxLength is the padded session length S.
func (in *Inputs) MaxLength() int { return in.Items.Shape().Dimensions[1] }

// Capacity is the number of history slots M.
func (in *Inputs) Capacity() int { return in.HistoryItems.Shape().Dimensions[1] }

// AssertShapes panics with a descriptive error if the inputs are not consistent with cfg.
func (in *Inputs) AssertShapes(cfg Config) {
	b, s, m := in.BatchSize(), in.MaxLength(), cfg.MaxSessionRepresentations
	in.Items.AssertDims(b, s)
	in.Targets.AssertDims(b, s)
	in.Lengths.AssertDims(b)
	in.Timestamps.AssertDims(b)
	in.Buckets.AssertDims(b)
	in.UserIDs.AssertDims(b)
	in.HistoryItems.AssertDims(b, m, s)
	in.HistoryLengths.AssertDims(b, m)
	in.HistoryCounts.AssertDims(b)
	in.HistoryVectors.AssertDims(b, m, cfg.SessionVectorSize())
	in.HistoryTimestamps.AssertDims(b, m)
	in.HistoryBuckets.AssertDims(b, m)
}

// EmbedItems looks up the embeddings of items, shaped [..., S], returning [..., S, EmbeddingSize].
// The table is shared by all encoders, in scope "embedding".
func EmbedItems(ctx *context.Context, cfg Config, items *Node) *Node {
	// Always add the index axis: layers.Embedding would otherwise take a trailing axis of size 1 as the index.
	return layers.Embedding(ctx.In("embedding"), InsertAxes(items, -1), cfg.DType, cfg.NumItems, cfg.EmbeddingSize)
}
