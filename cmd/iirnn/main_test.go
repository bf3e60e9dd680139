// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/iirnn/pkg/hrnn"
	"github.com/gomlx/iirnn/pkg/trainer"
)

func init() {
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		// For testing, we use the CPU backend (and avoid GPU if not explicitly requested).
		must.M(os.Setenv(backends.ConfigEnvVar, "xla:cpu"))
	}
}

func TestTrainModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	ctx := trainer.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		trainer.ParamMaxEpochs:           1,
		trainer.ParamBatchSize:           20,
		hrnn.ParamEmbeddingSize:          16,
		hrnn.ParamInterSize:              16,
		hrnn.ParamIntraSize:              16,
		hrnn.ParamMaxSessionLength:       8,
		hrnn.ParamIntraAttention:         true,
		hrnn.ParamInterAttentionWeekTime: true,
	})
	dataDir := t.TempDir()
	flags := runFlags{
		dataDir:   dataDir,
		synthetic: true,
		dataset:   "synthetic",
		export:    true,
	}
	require.NoError(t, trainModel(context.Background(), ctx, nil, flags))

	logs := must.M1(filepath.Glob(filepath.Join(dataDir, "logs", "*-testing-attn-rnn-synthetic-true-false-false.txt")))
	require.Len(t, logs, 1)
	models := must.M1(filepath.Glob(filepath.Join(dataDir, "models", "*-embed_model.bin")))
	require.Len(t, models, 1)

	// Resuming the finished run doesn't train any further.
	runName := filepath.Base(logs[0])
	runName = runName[:len(runName)-len(".txt")]
	ctx = trainer.CreateDefaultContext()
	ctx.SetParam(trainer.ParamMaxEpochs, 1)
	flags.resume = runName
	require.NoError(t, trainModel(context.Background(), ctx, []string{trainer.ParamMaxEpochs}, flags))

	flags.resume = "missing-run"
	require.Error(t, trainModel(context.Background(), trainer.CreateDefaultContext(), nil, flags))
}

func TestLoadDatasetRequiresData(t *testing.T) {
	_, err := loadDataset(runFlags{dataDir: t.TempDir()})
	require.Error(t, err)
}
