// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hrnn

import (
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestConfigFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(DefaultParams())
	cfg, err := ConfigFromContext(ctx, 1000, 10)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.EmbeddingSize)
	require.Equal(t, 15, cfg.MaxSessionRepresentations)
	require.Equal(t, 19, cfg.MaxSessionLength)
	require.Equal(t, 20, cfg.TopK)
	require.Equal(t, 0.2, cfg.DropoutRate)
	require.Equal(t, LastHiddenMode, cfg.SessionRepresentation)
	require.False(t, cfg.InterAttention.Enabled())

	ctx.SetParam(ParamSessionRepresentation, "mean_pool")
	ctx.SetParam(ParamInterAttentionWeekTime, true)
	cfg, err = ConfigFromContext(ctx, 1000, 10)
	require.NoError(t, err)
	require.Equal(t, MeanPoolMode, cfg.SessionRepresentation)
	require.True(t, cfg.InterAttention.Enabled())

	ctx.SetParam(ParamSessionRepresentation, "first_hidden")
	_, err = ConfigFromContext(ctx, 1000, 10)
	require.ErrorIs(t, err, ErrConfig)
	require.ErrorContains(t, err, `["last_hidden" "mean_pool"]`)
}

func TestValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	for name, mutate := range map[string]func(cfg *Config){
		"inter and intra sizes differ": func(cfg *Config) { cfg.IntraSize = 16 },
		"mean_pool with embedding size different from inter size": func(cfg *Config) {
			cfg.SessionRepresentation = MeanPoolMode
			cfg.EmbeddingSize = 4
		},
		"per-user attention without users": func(cfg *Config) { cfg.NumUsers = 0 },
		"intra options without intra attention": func(cfg *Config) {
			cfg.IntraAttention = IntraAttentionConfig{DeltaTime: true}
		},
		"top-k larger than the number of items": func(cfg *Config) { cfg.TopK = 51 },
		"dropout rate of 1":                     func(cfg *Config) { cfg.DropoutRate = 1 },
		"no layers":                             func(cfg *Config) { cfg.NumLayers = 0 },
		"only the padding item":                 func(cfg *Config) { cfg.NumItems = 1 },
	} {
		cfg := testConfig()
		mutate(&cfg)
		err := cfg.Validate()
		require.Errorf(t, err, "expected an error for %s", name)
		require.Truef(t, errors.Is(err, ErrConfig), "%s: error should wrap ErrConfig, got %v", name, err)
	}

	cfg := testConfig()
	cfg.SessionRepresentation = MeanPoolMode
	require.NoError(t, cfg.Validate())
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrConfig)
}

func TestRunName(t *testing.T) {
	cfg := testConfig()
	cfg.IntraAttention = IntraAttentionConfig{Enabled: true, DeltaTime: false, PerUser: true}
	now := time.Date(2026, 3, 4, 15, 6, 7, 0, time.UTC)
	require.Equal(t, "2026-03-04-15-06-07-testing-attn-rnn-lastfm-true-false-true", cfg.RunName("lastfm", now))
}
