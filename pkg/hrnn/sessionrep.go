// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// LastHiddenState returns the recurrent output at position length-1 of each sequence.
// outputs is shaped [B, S, H] and lengths [B]. It returns [B, H].
//
// Lengths must be >= 1: a length of 0 yields a zero vector.
func LastHiddenState(outputs, lengths *Node) *Node {
	maxLength := outputs.Shape().Dimensions[1]
	lastPosition := Sub(lengths, OnesLike(lengths))
	selector := OneHot(lastPosition, maxLength, outputs.DType()) // [B, S]
	return Einsum("bs,bsh->bh", selector, outputs)
}

// MeanPooling returns the mean of the embedded inputs over the first length positions of each sequence.
// embedded is shaped [B, S, E] and lengths [B]. It returns [B, E].
//
// Padded positions are never included, and the division is by the real-valued length.
// Lengths must be >= 1.
func MeanPooling(embedded, lengths *Node) *Node {
	g := embedded.Graph()
	dims := embedded.Shape().Dimensions
	batchSize, maxLength := dims[0], dims[1]
	positions := Iota(g, shapes.Make(lengths.DType(), batchSize, maxLength), 1)
	mask := LessThan(positions, BroadcastToDims(ExpandAxes(lengths, -1), batchSize, maxLength))
	mask = BroadcastToDims(ExpandAxes(mask, -1), dims...)
	sum := ReduceSum(Where(mask, embedded, ZerosLike(embedded)), 1)
	return Div(sum, ExpandAxes(ConvertDType(lengths, embedded.DType()), -1))
}

// SessionRepresentation extracts the vector stored in the session cache, according to
// cfg.SessionRepresentation. It returns [B, InterSize].
func SessionRepresentation(cfg Config, intra *IntraSessionOutputs, lengths *Node) *Node {
	switch cfg.SessionRepresentation {
	case LastHiddenMode:
		return LastHiddenState(intra.RecurrentOutputs, lengths)
	case MeanPoolMode:
		return MeanPooling(intra.Embedded, lengths)
	}
	exceptions.Panicf("unknown session representation mode %s", cfg.SessionRepresentation)
	return nil
}
