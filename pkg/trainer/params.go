// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"maps"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"

	"github.com/gomlx/iirnn/pkg/hrnn"
)

// Training hyperparameters, stored in the context.Context params along with those of hrnn.
const (
	ParamBatchSize = "batch_size"
	ParamMaxEpochs = "max_epochs"

	// ParamNumCheckpoints is the number of checkpoints to keep.
	ParamNumCheckpoints = "num_checkpoints"

	// ParamSaveBest only saves a checkpoint when the test Recall@5 improves.
	ParamSaveBest = "save_best"

	// ParamWarmTestCache starts the test phase with the session representations cached during the
	// training phase, instead of an empty cache.
	ParamWarmTestCache = "warm_test_cache"

	// ParamLogInterAttention and ParamLogIntraAttention enable writing attention weights to the run log,
	// every ParamAttentionLogPeriod batches.
	ParamLogInterAttention  = "log_inter_attention"
	ParamLogIntraAttention  = "log_intra_attention"
	ParamAttentionLogPeriod = "attention_log_period"

	// ParamEpoch is the last finished epoch. It is saved with the checkpoints, to resume training.
	ParamEpoch = "epoch"

	// ParamBestRecall is the best test Recall@5 so far, saved with the checkpoints.
	ParamBestRecall = "best_recall"
)

// ParamsExcludedFromLoading are parameters that are not taken from a checkpoint being resumed, so they can be
// changed in the command line.
var ParamsExcludedFromLoading = []string{
	ParamMaxEpochs, ParamNumCheckpoints, ParamSaveBest,
	ParamLogInterAttention, ParamLogIntraAttention, ParamAttentionLogPeriod,
}

// CreateDefaultContext returns a context with the default hyperparameters of the model and of the training.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	params := hrnn.DefaultParams()
	maps.Copy(params, map[string]any{
		ParamBatchSize:          60,
		ParamMaxEpochs:          200,
		ParamNumCheckpoints:     3,
		ParamSaveBest:           false,
		ParamWarmTestCache:      false,
		ParamLogInterAttention:  false,
		ParamLogIntraAttention:  false,
		ParamAttentionLogPeriod: 100,
		ParamEpoch:              0,
		ParamBestRecall:         0.0,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
	})
	ctx.SetParams(params)
	return ctx
}
