// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer runs the training and evaluation of the hierarchical recurrent recommender (package hrnn).
//
// Each step reads the session cache of the batch users, executes the model graph and stores the new session
// representations back into the cache. Training and test phases keep independent caches.
package trainer

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/iirnn/pkg/evaluation"
	"github.com/gomlx/iirnn/pkg/hrnn"
	"github.com/gomlx/iirnn/pkg/sessioncache"
	"github.com/gomlx/iirnn/pkg/sessions"
)

var (
	// ErrEmptySession is returned when a batch has a session without any input.
	ErrEmptySession = errors.New("empty session in batch")

	// ErrHistoryOverflow is returned when a user has more cached sessions than the model accepts.
	ErrHistoryOverflow = errors.New("session history larger than the model capacity")

	// ErrNumericalInstability is returned when the loss or the logits are not finite.
	// The session cache is left unchanged, but in a training step the optimizer update has already been
	// applied to the variables: training can only be recovered by resuming from the last checkpoint.
	ErrNumericalInstability = errors.New("numerical instability: loss or logits are NaN or infinite")
)

// DataHandler provides the dataset to the Trainer.
// It is implemented by sessions.Handler.
type DataHandler interface {
	// NumItems including the padding item 0.
	NumItems() int
	NumUsers() int
	NumTrainingSessions() int

	TrainStream() *sessions.Stream
	TestStream() *sessions.Stream
}

// Options of a Trainer that are not model hyperparameters.
type Options struct {
	// RunName identifies the run log and the exported components.
	RunName string

	// Checkpoint handler, used by Run after each epoch. Optional.
	Checkpoint *checkpoints.Handler

	// LogDir where the run log is written. If empty, no run log is written.
	LogDir string

	// ExportDir where the trained components are exported at the end of Run. If empty they are not exported.
	ExportDir string

	// ShowProgress displays a progress bar for each phase.
	ShowProgress bool
}

// StepResult holds the host-side outputs of one step.
type StepResult struct {
	Loss float32

	// TopK flat [B, S, K], SessionVectors flat [B, H], InterAttention flat [B, M, M] and
	// IntraAttention flat [B, S, M].
	TopK                           []int32
	SessionVectors                 []float32
	InterAttention, IntraAttention []float32

	// History read from the cache before the step.
	History *sessioncache.History
}

// Trainer holds the model, its compiled steps, the session caches and the evaluation state.
type Trainer struct {
	backend backends.Backend
	ctx     *context.Context
	cfg     hrnn.Config
	model   *hrnn.Model
	data    DataHandler
	opts    Options

	batchSize           int
	maxEpochs           int
	saveBest, warmCache bool

	trainExec, evalExec   *context.Exec
	trainCache, testCache *sessioncache.Cache
	tester                *evaluation.Tester
	runLog                *RunLog
	attentionLog          attentionLogOptions
}

type attentionLogOptions struct {
	inter, intra bool
	period       int
}

// New creates a Trainer from the hyperparameters in ctx (see CreateDefaultContext) and the dataset.
//
// It returns an error wrapping hrnn.ErrConfig if the configuration is invalid.
func New(backend backends.Backend, ctx *context.Context, data DataHandler, opts Options) (*Trainer, error) {
	cfg, err := hrnn.ConfigFromContext(ctx, data.NumItems(), data.NumUsers())
	if err != nil {
		return nil, err
	}
	model, err := hrnn.New(cfg)
	if err != nil {
		return nil, err
	}
	t := &Trainer{
		backend:   backend,
		ctx:       ctx,
		cfg:       cfg,
		model:     model,
		data:      data,
		opts:      opts,
		batchSize: context.GetParamOr(ctx, ParamBatchSize, 60),
		maxEpochs: context.GetParamOr(ctx, ParamMaxEpochs, 200),
		saveBest:  context.GetParamOr(ctx, ParamSaveBest, false),
		warmCache: context.GetParamOr(ctx, ParamWarmTestCache, false),
		attentionLog: attentionLogOptions{
			inter:  context.GetParamOr(ctx, ParamLogInterAttention, false),
			intra:  context.GetParamOr(ctx, ParamLogIntraAttention, false),
			period: context.GetParamOr(ctx, ParamAttentionLogPeriod, 100),
		},
	}
	if t.batchSize <= 0 {
		return nil, errors.Wrapf(hrnn.ErrConfig, "%s=%d must be > 0", ParamBatchSize, t.batchSize)
	}
	if t.attentionLog.period <= 0 {
		t.attentionLog.period = 1
	}

	optimizer := optimizers.FromContext(ctx)
	t.trainExec, err = context.NewExec(backend, ctx, model.TrainGraph(optimizer))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create training step")
	}
	t.evalExec, err = context.NewExec(backend, ctx, model.EvalGraph())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create evaluation step")
	}
	// One graph is compiled per batch size.
	t.trainExec.SetMaxCache(maxCachedGraphs(t.batchSize))
	t.evalExec.SetMaxCache(maxCachedGraphs(t.batchSize))

	t.trainCache = sessioncache.New(cfg.MaxSessionRepresentations, cfg.SessionVectorSize(), cfg.MaxSessionLength)
	t.testCache = sessioncache.New(cfg.MaxSessionRepresentations, cfg.SessionVectorSize(), cfg.MaxSessionLength)
	t.tester = evaluation.NewTester(cutoffsUpTo(cfg.TopK), evaluation.DefaultNumPositions)

	if opts.LogDir != "" {
		t.runLog, err = NewRunLog(opts.LogDir, opts.RunName)
		if err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("trainer created: batch_size=%d, max_epochs=%d, run %q", t.batchSize, t.maxEpochs, opts.RunName)
	return t, nil
}

// maxCachedGraphs returns the Exec cache size needed to hold the graphs of every batch size run by a phase,
// that is, sizes in (batchSize/2, batchSize].
func maxCachedGraphs(batchSize int) int {
	return max(batchSize-batchSize/2, graph.DefaultExecMaxCacheSize)
}

// cutoffsUpTo returns the default metric cutoffs that can be measured with top-k predictions.
func cutoffsUpTo(k int) []int {
	var cutoffs []int
	for _, c := range evaluation.DefaultCutoffs {
		if c <= k {
			cutoffs = append(cutoffs, c)
		}
	}
	if len(cutoffs) == 0 {
		cutoffs = []int{k}
	}
	return cutoffs
}

// Config returns the model configuration.
func (t *Trainer) Config() hrnn.Config { return t.cfg }

// Context returns the context holding the model variables and hyperparameters.
func (t *Trainer) Context() *context.Context { return t.ctx }

// BatchSize used by the streams.
func (t *Trainer) BatchSize() int { return t.batchSize }

// TrainCache returns the session cache of the training phase.
func (t *Trainer) TrainCache() *sessioncache.Cache { return t.trainCache }

// TestCache returns the session cache of the test phase.
func (t *Trainer) TestCache() *sessioncache.Cache { return t.testCache }

// Tester returns the evaluation counters of the test phase.
func (t *Trainer) Tester() *evaluation.Tester { return t.tester }

// Close releases the run log.
func (t *Trainer) Close() error {
	return t.runLog.Close()
}

// TrainStep runs one training step over the batch, using and updating the training cache.
//
// The loss and logits are only checked after the step executes, so on ErrNumericalInstability the variables
// were already updated with non-finite gradients.
func (t *Trainer) TrainStep(batch *sessions.Batch) (*StepResult, error) {
	return t.step(t.trainExec, t.trainCache, batch)
}

// EvalStep runs the model over the batch without updating the variables, using and updating the test cache.
func (t *Trainer) EvalStep(batch *sessions.Batch) (*StepResult, error) {
	return t.step(t.evalExec, t.testCache, batch)
}

func (t *Trainer) step(exec *context.Exec, cache *sessioncache.Cache, batch *sessions.Batch) (*StepResult, error) {
	history := cache.Get(batch.UserIDs)
	if err := t.checkBatch(batch, history); err != nil {
		return nil, err
	}

	var outputs []*tensors.Tensor
	var execErr error
	err := exceptions.TryCatch[error](func() { outputs, execErr = exec.Exec(t.inputTensors(batch, history)...) })
	if err == nil {
		err = execErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to execute model step for batch of %d sessions", batch.Size)
	}
	if len(outputs) != hrnn.NumOutputs {
		return nil, errors.Errorf("model step returned %d outputs, expected %d", len(outputs), hrnn.NumOutputs)
	}

	result := &StepResult{
		Loss:           tensors.ToScalar[float32](outputs[0]),
		TopK:           tensors.MustCopyFlatData[int32](outputs[1]),
		SessionVectors: tensors.MustCopyFlatData[float32](outputs[2]),
		InterAttention: tensors.MustCopyFlatData[float32](outputs[3]),
		IntraAttention: tensors.MustCopyFlatData[float32](outputs[4]),
		History:        history,
	}
	finite := tensors.ToScalar[bool](outputs[5])
	if loss := float64(result.Loss); !finite || math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, errors.Wrapf(ErrNumericalInstability, "loss=%g", result.Loss)
	}

	if err := cache.Store(batch.UserIDs, result.SessionVectors, batch.Timestamps, batch.BucketIDs,
		batch.Inputs, batch.Lengths); err != nil {
		return nil, err
	}
	return result, nil
}

// checkBatch validates the host-side preconditions of the model graph.
func (t *Trainer) checkBatch(batch *sessions.Batch, history *sessioncache.History) error {
	if batch.Size == 0 {
		return errors.Wrap(ErrEmptySession, "batch has no sessions")
	}
	if batch.MaxLength != t.cfg.MaxSessionLength {
		return errors.Errorf("batch padded to %d items, but model is configured with %s=%d",
			batch.MaxLength, hrnn.ParamMaxSessionLength, t.cfg.MaxSessionLength)
	}
	for row, length := range batch.Lengths {
		if length <= 0 {
			return errors.Wrapf(ErrEmptySession, "user %d in batch row %d", batch.UserIDs[row], row)
		}
	}
	for row, count := range history.Counts {
		if int(count) > t.cfg.MaxSessionRepresentations {
			return errors.Wrapf(ErrHistoryOverflow, "user %d has %d sessions cached, capacity is %d",
				batch.UserIDs[row], count, t.cfg.MaxSessionRepresentations)
		}
	}
	return nil
}

// inputTensors converts the batch and history to the model inputs, in the order of hrnn.Inputs.
func (t *Trainer) inputTensors(batch *sessions.Batch, history *sessioncache.History) []any {
	b, s, m, h := batch.Size, batch.MaxLength, history.Capacity, history.VectorSize
	hours := make([]float32, b)
	for ii, ts := range batch.Timestamps {
		hours[ii] = sessioncache.SecondsToHours(ts)
	}
	return []any{
		tensors.FromFlatDataAndDimensions(batch.Inputs, b, s),
		tensors.FromFlatDataAndDimensions(batch.Targets, b, s),
		tensors.FromFlatDataAndDimensions(batch.Lengths, b),
		tensors.FromFlatDataAndDimensions(hours, b),
		tensors.FromFlatDataAndDimensions(batch.BucketIDs, b),
		tensors.FromFlatDataAndDimensions(batch.UserIDs, b),
		tensors.FromFlatDataAndDimensions(history.Items, b, m, history.MaxLength),
		tensors.FromFlatDataAndDimensions(history.Lengths, b, m),
		tensors.FromFlatDataAndDimensions(history.Counts, b),
		tensors.FromFlatDataAndDimensions(history.Vectors, b, m, h),
		tensors.FromFlatDataAndDimensions(history.HoursSinceEpoch(), b, m),
		tensors.FromFlatDataAndDimensions(history.BucketIDs, b, m),
	}
}
