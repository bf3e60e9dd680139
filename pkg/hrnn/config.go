// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Hyperparameter keys, stored in the context.Context params.
const (
	// ParamSessionRepresentation selects how a finished session is turned into a vector stored in the
	// session cache: "last_hidden" or "mean_pool".
	ParamSessionRepresentation = "session_representation"

	// ParamInterAttentionHiddenState enables the additive hidden-state attention of the inter-session L1 encoder.
	ParamInterAttentionHiddenState = "inter_attention_hidden_state"

	// ParamInterAttentionDeltaTime enables the elapsed time scores of the inter-session L1 attention.
	ParamInterAttentionDeltaTime = "inter_attention_delta_time"

	// ParamInterAttentionWeekTime enables the hour-of-week scores of the inter-session L1 attention.
	ParamInterAttentionWeekTime = "inter_attention_week_time"

	// ParamIntraAttention enables the attention of the intra-session encoder over the user's past sessions.
	ParamIntraAttention = "intra_attention"

	// ParamIntraAttentionDeltaTime adds elapsed time scores to the intra-session attention.
	ParamIntraAttentionDeltaTime = "intra_attention_delta_time"

	// ParamIntraAttentionPerUser makes the intra-session attention use a per-user scoring vector.
	ParamIntraAttentionPerUser = "intra_attention_per_user"

	ParamEmbeddingSize             = "embedding_size"
	ParamInterSize                 = "inter_size"
	ParamIntraSize                 = "intra_size"
	ParamNumLayers                 = "num_layers"
	ParamDropoutRate               = "dropout_rate"
	ParamMaxSessionRepresentations = "max_session_representations"
	ParamMaxSessionLength          = "max_session_length"
	ParamTopK                      = "top_k"
)

// NumWeekBuckets is the number of hour-of-week time buckets.
const NumWeekBuckets = 7 * 24

// ErrConfig is returned (wrapped) for any invalid configuration.
var ErrConfig = errors.New("invalid configuration")

// SessionRepresentationMode defines how a session representation is extracted from the intra-session encoder.
type SessionRepresentationMode int

const (
	// LastHiddenMode uses the recurrent output at the last real position of the session.
	LastHiddenMode SessionRepresentationMode = iota

	// MeanPoolMode uses the mean of the embedded items of the session.
	MeanPoolMode
)

var sessionRepresentationNames = map[string]SessionRepresentationMode{
	"last_hidden": LastHiddenMode,
	"mean_pool":   MeanPoolMode,
}

// String implements fmt.Stringer.
func (m SessionRepresentationMode) String() string {
	for name, mode := range sessionRepresentationNames {
		if mode == m {
			return name
		}
	}
	return fmt.Sprintf("SessionRepresentationMode(%d)", int(m))
}

// ParseSessionRepresentationMode converts the name used in the hyperparameters to a SessionRepresentationMode.
func ParseSessionRepresentationMode(name string) (SessionRepresentationMode, error) {
	mode, found := sessionRepresentationNames[name]
	if !found {
		names := maps.Keys(sessionRepresentationNames)
		slices.Sort(names)
		return 0, errors.Wrapf(ErrConfig, "unknown %s %q, valid values are %q", ParamSessionRepresentation, name, names)
	}
	return mode, nil
}

// InterAttentionConfig selects the attention strategies of the inter-session L1 encoder.
type InterAttentionConfig struct {
	HiddenState, DeltaTime, WeekTime bool
}

// Enabled returns whether any strategy is selected.
func (c InterAttentionConfig) Enabled() bool {
	return c.HiddenState || c.DeltaTime || c.WeekTime
}

// IntraAttentionConfig selects the attention of the intra-session encoder.
type IntraAttentionConfig struct {
	Enabled, DeltaTime, PerUser bool
}

// Config is the immutable configuration of the model, built once before training.
// All components receive it by value.
type Config struct {
	DType dtypes.DType

	// NumItems includes the padding item 0.
	NumItems int
	NumUsers int

	EmbeddingSize, InterSize, IntraSize, NumLayers int
	DropoutRate                                    float64

	// MaxSessionRepresentations (M) is the capacity of the per-user session cache.
	MaxSessionRepresentations int

	// MaxSessionLength (S) is the padded length of the session inputs.
	MaxSessionLength int

	TopK int

	SessionRepresentation SessionRepresentationMode
	InterAttention        InterAttentionConfig
	IntraAttention        IntraAttentionConfig
}

// DefaultParams returns the default hyperparameters, used by the training program to populate the context.
func DefaultParams() map[string]any {
	return map[string]any{
		ParamSessionRepresentation:     "last_hidden",
		ParamInterAttentionHiddenState: false,
		ParamInterAttentionDeltaTime:   false,
		ParamInterAttentionWeekTime:    false,
		ParamIntraAttention:            false,
		ParamIntraAttentionDeltaTime:   false,
		ParamIntraAttentionPerUser:     false,
		ParamEmbeddingSize:             100,
		ParamInterSize:                 100,
		ParamIntraSize:                 100,
		ParamNumLayers:                 1,
		ParamDropoutRate:               0.2,
		ParamMaxSessionRepresentations: 15,
		ParamMaxSessionLength:          19,
		ParamTopK:                      20,
	}
}

// ConfigFromContext snapshots the hyperparameters in ctx into a Config and validates it.
// numItems and numUsers come from the dataset.
func ConfigFromContext(ctx *context.Context, numItems, numUsers int) (Config, error) {
	mode, err := ParseSessionRepresentationMode(context.GetParamOr(ctx, ParamSessionRepresentation, "last_hidden"))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		DType:                     dtypes.Float32,
		NumItems:                  numItems,
		NumUsers:                  numUsers,
		EmbeddingSize:             context.GetParamOr(ctx, ParamEmbeddingSize, 100),
		InterSize:                 context.GetParamOr(ctx, ParamInterSize, 100),
		IntraSize:                 context.GetParamOr(ctx, ParamIntraSize, 100),
		NumLayers:                 context.GetParamOr(ctx, ParamNumLayers, 1),
		DropoutRate:               context.GetParamOr(ctx, ParamDropoutRate, 0.0),
		MaxSessionRepresentations: context.GetParamOr(ctx, ParamMaxSessionRepresentations, 15),
		MaxSessionLength:          context.GetParamOr(ctx, ParamMaxSessionLength, 19),
		TopK:                      context.GetParamOr(ctx, ParamTopK, 20),
		SessionRepresentation:     mode,
		InterAttention: InterAttentionConfig{
			HiddenState: context.GetParamOr(ctx, ParamInterAttentionHiddenState, false),
			DeltaTime:   context.GetParamOr(ctx, ParamInterAttentionDeltaTime, false),
			WeekTime:    context.GetParamOr(ctx, ParamInterAttentionWeekTime, false),
		},
		IntraAttention: IntraAttentionConfig{
			Enabled:   context.GetParamOr(ctx, ParamIntraAttention, false),
			DeltaTime: context.GetParamOr(ctx, ParamIntraAttentionDeltaTime, false),
			PerUser:   context.GetParamOr(ctx, ParamIntraAttentionPerUser, false),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the sizes of the components are compatible.
func (c Config) Validate() error {
	if c.NumItems < 2 {
		return errors.Wrapf(ErrConfig, "NumItems=%d must be at least 2 (padding plus one item)", c.NumItems)
	}
	for _, pair := range []struct {
		name  string
		value int
	}{
		{ParamEmbeddingSize, c.EmbeddingSize},
		{ParamInterSize, c.InterSize},
		{ParamIntraSize, c.IntraSize},
		{ParamNumLayers, c.NumLayers},
		{ParamMaxSessionRepresentations, c.MaxSessionRepresentations},
		{ParamMaxSessionLength, c.MaxSessionLength},
		{ParamTopK, c.TopK},
	} {
		if pair.value <= 0 {
			return errors.Wrapf(ErrConfig, "%s=%d must be > 0", pair.name, pair.value)
		}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Wrapf(ErrConfig, "%s=%g must be in [0, 1)", ParamDropoutRate, c.DropoutRate)
	}
	if c.TopK > c.NumItems {
		return errors.Wrapf(ErrConfig, "%s=%d is larger than the number of items (%d)", ParamTopK, c.TopK, c.NumItems)
	}

	// The user representation (inter-session output) seeds every layer of the intra-session encoder.
	if c.InterSize != c.IntraSize {
		return errors.Wrapf(ErrConfig, "%s=%d must equal %s=%d", ParamInterSize, c.InterSize, ParamIntraSize, c.IntraSize)
	}
	switch c.SessionRepresentation {
	case LastHiddenMode:
		// Recurrent outputs are IntraSize, already checked to match InterSize.
	case MeanPoolMode:
		if c.EmbeddingSize != c.InterSize {
			return errors.Wrapf(ErrConfig, "%s=mean_pool requires %s=%d to equal %s=%d", ParamSessionRepresentation,
				ParamEmbeddingSize, c.EmbeddingSize, ParamInterSize, c.InterSize)
		}
	default:
		return errors.Wrapf(ErrConfig, "invalid session representation mode %d", int(c.SessionRepresentation))
	}

	if (c.IntraAttention.DeltaTime || c.IntraAttention.PerUser) && !c.IntraAttention.Enabled {
		return errors.Wrapf(ErrConfig, "%s and %s require %s", ParamIntraAttentionDeltaTime,
			ParamIntraAttentionPerUser, ParamIntraAttention)
	}
	if c.IntraAttention.PerUser && c.NumUsers <= 0 {
		return errors.Wrapf(ErrConfig, "%s requires the number of users, got %d", ParamIntraAttentionPerUser, c.NumUsers)
	}
	return nil
}

// SessionVectorSize is the size of the session representations stored in the cache.
func (c Config) SessionVectorSize() int {
	return c.InterSize
}

// RunName returns the name used for the run log file and the checkpoints of a training run:
// the date and time, the dataset and the intra-session attention flags.
func (c Config) RunName(dataset string, now time.Time) string {
	parts := []string{
		now.Format("2006-01-02"),
		now.Format("15-04-05"),
		"testing-attn-rnn",
		dataset,
		fmt.Sprint(c.IntraAttention.Enabled),
		fmt.Sprint(c.IntraAttention.DeltaTime),
		fmt.Sprint(c.IntraAttention.PerUser),
	}
	return strings.Join(parts, "-")
}

// String returns a multi-line description of the configuration, used in the run log.
func (c Config) String() string {
	var sb strings.Builder
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&sb, format+"\n", args...) }
	w("num_items: %d", c.NumItems)
	w("num_users: %d", c.NumUsers)
	w("%s: %d", ParamEmbeddingSize, c.EmbeddingSize)
	w("%s: %d", ParamInterSize, c.InterSize)
	w("%s: %d", ParamIntraSize, c.IntraSize)
	w("%s: %d", ParamNumLayers, c.NumLayers)
	w("%s: %g", ParamDropoutRate, c.DropoutRate)
	w("%s: %d", ParamMaxSessionRepresentations, c.MaxSessionRepresentations)
	w("%s: %d", ParamMaxSessionLength, c.MaxSessionLength)
	w("%s: %d", ParamTopK, c.TopK)
	w("%s: %s", ParamSessionRepresentation, c.SessionRepresentation)
	w("inter_attention: hidden_state=%v delta_time=%v week_time=%v",
		c.InterAttention.HiddenState, c.InterAttention.DeltaTime, c.InterAttention.WeekTime)
	w("intra_attention: enabled=%v delta_time=%v per_user=%v",
		c.IntraAttention.Enabled, c.IntraAttention.DeltaTime, c.IntraAttention.PerUser)
	return sb.String()
}
