// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// ScorerKind enumerates the attention scoring strategies.
type ScorerKind int

const (
	// HiddenStateScorer scores each memory entry with an additive (Bahdanau) attention over the current state.
	HiddenStateScorer ScorerKind = iota

	// PerUserHiddenStateScorer is like HiddenStateScorer, but the final scoring vector is learned per user.
	PerUserHiddenStateScorer

	// DeltaTimeScorer scores each memory entry by a learned function of the time elapsed since it happened.
	DeltaTimeScorer

	// WeekTimeScorer scores each memory entry by the similarity of its hour-of-week with the current one.
	WeekTimeScorer
)

// String implements fmt.Stringer. It is also used as the variables scope of the scorer.
func (k ScorerKind) String() string {
	switch k {
	case HiddenStateScorer:
		return "hidden_state"
	case PerUserHiddenStateScorer:
		return "per_user_hidden_state"
	case DeltaTimeScorer:
		return "delta_time"
	case WeekTimeScorer:
		return "week_time"
	}
	return fmt.Sprintf("ScorerKind(%d)", int(k))
}

// Query holds everything a Scorer may use. Each scorer only reads the fields it needs.
type Query struct {
	// State is the current state, shaped [batchSize, stateSize].
	State *Node

	// Memory holds the entries attended to, shaped [batchSize, memorySize, memoryFeatures].
	Memory *Node

	// DeltaHours is the elapsed time in hours from each memory entry to now, shaped [batchSize, memorySize].
	DeltaHours *Node

	// Bucket is the current hour-of-week bucket, shaped [batchSize], and MemoryBuckets the one of each
	// memory entry, shaped [batchSize, memorySize].
	Bucket, MemoryBuckets *Node

	// UserIDs shaped [batchSize].
	UserIDs *Node
}

// Scorer is one attention strategy. Score returns unnormalized scores shaped [batchSize, memorySize].
//
// Scores of different scorers are summed before the softmax.
type Scorer interface {
	Kind() ScorerKind
	Score(ctx *context.Context, q *Query) *Node
}

// Attention combines one or more scorers into attention weights and a context vector.
type Attention struct {
	scope   string
	scorers []Scorer
}

// NewInterAttention returns the attention of the inter-session L1 encoder, or nil if no strategy is configured.
func NewInterAttention(cfg Config) *Attention {
	a := &Attention{scope: "inter_attention"}
	if cfg.InterAttention.HiddenState {
		a.scorers = append(a.scorers, &hiddenStateScorer{units: cfg.InterSize})
	}
	if cfg.InterAttention.DeltaTime {
		a.scorers = append(a.scorers, deltaTimeScorer{})
	}
	if cfg.InterAttention.WeekTime {
		a.scorers = append(a.scorers, &weekTimeScorer{units: cfg.InterSize})
	}
	if len(a.scorers) == 0 {
		return nil
	}
	return a
}

// NewIntraAttention returns the attention of the intra-session encoder, or nil if it is disabled.
func NewIntraAttention(cfg Config) *Attention {
	if !cfg.IntraAttention.Enabled {
		return nil
	}
	a := &Attention{scope: "intra_attention"}
	if cfg.IntraAttention.PerUser {
		a.scorers = append(a.scorers, &hiddenStateScorer{units: cfg.IntraSize, numUsers: cfg.NumUsers})
	} else {
		a.scorers = append(a.scorers, &hiddenStateScorer{units: cfg.IntraSize})
	}
	if cfg.IntraAttention.DeltaTime {
		a.scorers = append(a.scorers, deltaTimeScorer{})
	}
	return a
}

// Kinds returns the kinds of the configured scorers, in order.
func (a *Attention) Kinds() []ScorerKind {
	kinds := make([]ScorerKind, len(a.scorers))
	for ii, s := range a.scorers {
		kinds[ii] = s.Kind()
	}
	return kinds
}

// Context computes the attention weights over q.Memory and the weighted sum of the memory entries.
//
// mask is a boolean shaped [batchSize, memorySize], true for valid entries. Rows without any valid entry
// get zero weights and a zero context.
//
// It returns the context shaped [batchSize, memoryFeatures] and the weights shaped [batchSize, memorySize].
func (a *Attention) Context(ctx *context.Context, q *Query, mask *Node) (attended, weights *Node) {
	ctx = ctx.In(a.scope)
	var scores *Node
	for _, scorer := range a.scorers {
		s := scorer.Score(ctx.In(scorer.Kind().String()), q)
		if scores == nil {
			scores = s
		} else {
			scores = Add(scores, s)
		}
	}
	weights = SafeMaskedSoftmax(scores, mask)
	attended = Einsum("bm,bmh->bh", weights, q.Memory)
	return
}

// SafeMaskedSoftmax computes a softmax over the last axis. Masked out values get a weight of 0.
// Unlike MaskedSoftmax it returns zeros (and not NaN) for rows where everything is masked,
// also in the gradients.
func SafeMaskedSoftmax(logits, mask *Node) *Node {
	zeros := ZerosLike(logits)
	normalizingMax := StopGradient(MaskedReduceAndKeep(logits, mask, MaskedReduceMax, -1))
	normalizingMax = Where(IsFinite(normalizingMax), normalizingMax, ZerosLike(normalizingMax))
	normalizedLogits := Where(mask, Sub(logits, normalizingMax), zeros)
	numerator := Where(mask, Exp(normalizedLogits), zeros)
	denominator := ReduceAndKeep(numerator, ReduceSum, -1)
	denominator = Where(GreaterThan(denominator, ZerosLike(denominator)), denominator, OnesLike(denominator))
	return Div(numerator, denominator)
}

// hiddenStateScorer implements HiddenStateScorer and, if numUsers > 0, PerUserHiddenStateScorer:
//
//	score_j = v · tanh(Wq·state + Wk·memory_j)
type hiddenStateScorer struct {
	units    int
	numUsers int
}

func (s *hiddenStateScorer) Kind() ScorerKind {
	if s.numUsers > 0 {
		return PerUserHiddenStateScorer
	}
	return HiddenStateScorer
}

func (s *hiddenStateScorer) Score(ctx *context.Context, q *Query) *Node {
	g := q.State.Graph()
	dtype := q.State.DType()
	stateSize := q.State.Shape().Dimensions[1]
	memoryFeatures := q.Memory.Shape().Dimensions[2]

	wq := ctx.VariableWithShape("query", shapes.Make(dtype, stateSize, s.units)).ValueGraph(g)
	wk := ctx.VariableWithShape("key", shapes.Make(dtype, memoryFeatures, s.units)).ValueGraph(g)
	projQ := ExpandAxes(Einsum("bh,hu->bu", q.State, wq), 1)
	projK := Einsum("bmh,hu->bmu", q.Memory, wk)
	hidden := Tanh(Add(projK, projQ)) // [batchSize, memorySize, units]

	var v *Node
	if s.numUsers > 0 {
		table := ctx.VariableWithShape("users", shapes.Make(dtype, s.numUsers, s.units)).ValueGraph(g)
		v = Gather(table, ExpandAxes(q.UserIDs, -1)) // [batchSize, units]
	} else {
		v = ctx.VariableWithShape("score", shapes.Make(dtype, 1, s.units)).ValueGraph(g)
	}
	return ReduceSum(Mul(hidden, ExpandAxes(v, 1)), 2)
}

// deltaTimeScorer implements DeltaTimeScorer: score_j = w · log(1 + Δhours_j).
type deltaTimeScorer struct{}

func (deltaTimeScorer) Kind() ScorerKind { return DeltaTimeScorer }

func (deltaTimeScorer) Score(ctx *context.Context, q *Query) *Node {
	g := q.DeltaHours.Graph()
	dtype := q.DeltaHours.DType()
	w := ctx.VariableWithShape("decay", shapes.Make(dtype)).ValueGraph(g)
	delta := Max(q.DeltaHours, ZerosLike(q.DeltaHours))
	return Mul(Log1p(delta), w)
}

// weekTimeScorer implements WeekTimeScorer: score_j = e(bucket) · e(bucket_j), with learned bucket embeddings.
type weekTimeScorer struct {
	units int
}

func (*weekTimeScorer) Kind() ScorerKind { return WeekTimeScorer }

func (s *weekTimeScorer) Score(ctx *context.Context, q *Query) *Node {
	g := q.Bucket.Graph()
	dtype := q.Memory.DType()
	table := ctx.VariableWithShape("buckets", shapes.Make(dtype, NumWeekBuckets, s.units)).ValueGraph(g)
	current := Gather(table, ExpandAxes(q.Bucket, -1))        // [batchSize, units]
	memory := Gather(table, ExpandAxes(q.MemoryBuckets, -1)) // [batchSize, memorySize, units]
	return ReduceSum(Mul(memory, ExpandAxes(current, 1)), 2)
}
