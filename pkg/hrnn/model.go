// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hrnn implements a hierarchical recurrent model for session-based recommendation, with optional
// attention over a user's past sessions.
//
// The model has three recurrent encoders sharing one item embedding table:
//
//   - Inter-session level 1 (EncodeSessions): encodes each of the user's past sessions, kept in a session
//     cache, into a session vector.
//   - Inter-session level 2 (EncodeUser): folds the session vectors into a user representation.
//   - Intra-session (EncodeIntraSession): starting from the user representation, predicts the next item at
//     each position of the current session.
//
// Model.Forward builds the whole graph for one batch: the loss, the top-K predicted items, and the session
// representations to be stored in the cache. The configuration is fixed at construction (see Config).
//
// All graph building functions panic on error, as usual in GoMLX.
package hrnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Model holds the configuration and the attention strategies selected for it.
// The variables live in the context.Context passed to the graph functions.
type Model struct {
	cfg                            Config
	interAttention, intraAttention *Attention
}

// New validates the configuration and creates a Model.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		cfg:            cfg,
		interAttention: NewInterAttention(cfg),
		intraAttention: NewIntraAttention(cfg),
	}, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config { return m.cfg }

// NumOutputs of the graphs built by TrainGraph and EvalGraph. See Outputs for the order.
const NumOutputs = 6

// Outputs of the model for one batch.
type Outputs struct {
	// Loss is a scalar, see BatchLoss.
	Loss *Node

	// TopK item ids shaped [B, S, K].
	TopK *Node

	// SessionVectors are the representations of the current sessions, shaped [B, InterSize], to be stored in
	// the session cache.
	SessionVectors *Node

	// InterAttention weights shaped [B, M, M] and IntraAttention weights shaped [B, S, M].
	// Zeros when the corresponding attention is disabled.
	InterAttention, IntraAttention *Node

	// LogitsFinite is a boolean scalar, false if any logit is NaN or infinite.
	LogitsFinite *Node

	// Logits shaped [B, S, NumItems]. Not returned by the graph executions.
	Logits *Node
}

// Nodes returns the outputs returned by the graph executions, in order.
func (o *Outputs) Nodes() []*Node {
	return []*Node{o.Loss, o.TopK, o.SessionVectors, o.InterAttention, o.IntraAttention, o.LogitsFinite}
}

// Forward builds the model graph for one batch.
//
// Data dependencies define the order: inter-session level 1 over all history slots, then level 2, then the
// intra-session encoder over all timesteps, and only then the loss, top-K and session representations.
func (m *Model) Forward(ctx *context.Context, in *Inputs) *Outputs {
	// Recurrent weights are reused at every step of the unrolled loops.
	ctx = ctx.Checked(false)
	cfg := m.cfg
	in.AssertShapes(cfg)

	inter := EncodeInterSession(ctx, cfg, m.interAttention, in)
	initialStates := IntraInitialStates(cfg, inter.UserRepresentation)
	intra := EncodeIntraSession(ctx, cfg, m.intraAttention, in, initialStates, inter.SessionVectors)

	return &Outputs{
		Loss:           BatchLoss(intra.Logits, in.Targets),
		TopK:           TopKItems(intra.Logits, cfg.TopK),
		SessionVectors: SessionRepresentation(cfg, intra, in.Lengths),
		InterAttention: inter.Attention,
		IntraAttention: intra.Attention,
		LogitsFinite:   LogicalAll(IsFinite(intra.Logits)),
		Logits:         intra.Logits,
	}
}

// TrainGraph returns the graph function of one training step, to be used with context.NewExec.
//
// It runs Forward and then one update of all the variables (embedding, both inter-session levels and
// intra-session) by the optimizer.
func (m *Model) TrainGraph(optimizer optimizers.Interface) func(ctx *context.Context, inputs []*Node) []*Node {
	return func(ctx *context.Context, inputs []*Node) []*Node {
		g := inputs[0].Graph()
		ctx.SetTraining(g, true)
		out := m.Forward(ctx, InputsFromNodes(inputs))
		optimizer.UpdateGraph(ctx.Checked(false), g, out.Loss)
		return out.Nodes()
	}
}

// EvalGraph returns the graph function of one evaluation step, to be used with context.NewExec.
func (m *Model) EvalGraph() func(ctx *context.Context, inputs []*Node) []*Node {
	return func(ctx *context.Context, inputs []*Node) []*Node {
		g := inputs[0].Graph()
		ctx.SetTraining(g, false)
		return m.Forward(ctx, InputsFromNodes(inputs)).Nodes()
	}
}
