// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	stdcontext "context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/iirnn/pkg/evaluation"
	"github.com/gomlx/iirnn/pkg/sessions"
)

// minIntraAttentionLogLength is the minimum session length for its intra-session attention to be logged.
const minIntraAttentionLogLength = 5

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch int

	// Loss is the sum of the losses of the training batches.
	Loss float64

	NumTrainBatches, NumTestBatches int
	Stats                           evaluation.Stats
	Duration                        time.Duration
}

// RunEpoch runs the training phase followed by the test phase.
//
// Each phase rewinds its stream and empties its session cache (unless ParamWarmTestCache is set, in which
// case the test phase starts from the training cache). Batches with at most half of BatchSize sessions end
// the phase. goCtx is checked between batches.
func (t *Trainer) RunEpoch(goCtx stdcontext.Context, epoch int) (*EpochResult, error) {
	start := time.Now()
	result := &EpochResult{Epoch: epoch}
	klog.Infof("starting epoch #%d", epoch)

	// Training.
	stream := t.data.TrainStream()
	stream.Reset()
	t.trainCache.Reset()
	err := t.runPhase(goCtx, "train", stream, func(batchNum int, batch *sessions.Batch) error {
		res, err := t.TrainStep(batch)
		if err != nil {
			return errors.WithMessagef(err, "epoch #%d, training batch #%d", epoch, batchNum)
		}
		result.Loss += float64(res.Loss)
		result.NumTrainBatches++
		if t.attentionLog.inter && t.cfg.InterAttention.Enabled() && batchNum%t.attentionLog.period == 0 {
			if err := t.logInterAttention(batch, res); err != nil {
				return err
			}
		}
		return nil
	}, &result.Loss)
	if err != nil {
		return nil, err
	}
	klog.Infof("epoch #%d: training loss %.4f over %s batches", epoch, result.Loss,
		humanize.Comma(int64(result.NumTrainBatches)))

	// Testing.
	stream = t.data.TestStream()
	stream.Reset()
	if t.warmCache {
		if err := t.testCache.CopyFrom(t.trainCache); err != nil {
			return nil, err
		}
	} else {
		t.testCache.Reset()
	}
	t.tester.Reset()
	err = t.runPhase(goCtx, "test", stream, func(batchNum int, batch *sessions.Batch) error {
		res, err := t.EvalStep(batch)
		if err != nil {
			return errors.WithMessagef(err, "epoch #%d, test batch #%d", epoch, batchNum)
		}
		result.NumTestBatches++
		if t.attentionLog.intra && t.cfg.IntraAttention.Enabled && batchNum%t.attentionLog.period == 0 {
			if err := t.logIntraAttention(batch, res); err != nil {
				return err
			}
		}
		return t.tester.EvaluateBatch(res.TopK, t.cfg.TopK, batch.Targets, batch.Lengths)
	}, nil)
	if err != nil {
		return nil, err
	}
	result.Stats = t.tester.Stats()
	result.Duration = time.Since(start)

	if epoch == 1 {
		if err := t.runLog.LogConfig(t.cfg, t.data.NumTrainingSessions()); err != nil {
			return nil, err
		}
	}
	if err := t.runLog.LogTestStats(epoch, result.Loss, result.Stats); err != nil {
		return nil, err
	}
	klog.Infof("epoch #%d finished in %s: %s", epoch, commandline.FormatDuration(result.Duration), result.Stats)
	return result, nil
}

// runPhase calls stepFn for each batch of the stream, while batches have more than half BatchSize sessions.
// If lossSum is not nil, it is displayed in the progress bar.
func (t *Trainer) runPhase(goCtx stdcontext.Context, name string, stream *sessions.Stream,
	stepFn func(batchNum int, batch *sessions.Batch) error, lossSum *float64) error {
	var progress *phaseProgress
	if t.opts.ShowProgress {
		progress = newPhaseProgress(name, stream.NumBatches())
		defer progress.finish()
	}
	numSessions := 0
	for batchNum := 0; ; batchNum++ {
		if err := goCtx.Err(); err != nil {
			return errors.Wrapf(err, "%s phase interrupted at batch #%d", name, batchNum)
		}
		batch := stream.Next()
		if batch.Size <= t.batchSize/2 {
			klog.V(1).Infof("%s phase: %d batches, %s sessions", name, batchNum, humanize.Comma(int64(numSessions)))
			return nil
		}
		if err := stepFn(batchNum, batch); err != nil {
			return err
		}
		numSessions += batch.Size
		klog.V(2).Infof("%s batch #%d: %d sessions", name, batchNum, batch.Size)
		if progress != nil {
			var loss float64
			if lossSum != nil {
				loss = *lossSum
			}
			progress.update(batchNum, numSessions, loss)
		}
	}
}

// logInterAttention logs the inter-session attention of the first user of the batch, if their history
// is full.
func (t *Trainer) logInterAttention(batch *sessions.Batch, res *StepResult) error {
	if !res.History.Full(0) {
		return nil
	}
	numSlots := res.History.Capacity
	return t.runLog.LogInterAttention(batch.UserIDs[0], numSlots, res.InterAttention[:numSlots*numSlots])
}

// logIntraAttention logs the intra-session attention of every user in the batch with a full history and
// a session longer than minIntraAttentionLogLength.
func (t *Trainer) logIntraAttention(batch *sessions.Batch, res *StepResult) error {
	numSlots := res.History.Capacity
	rowSize := batch.MaxLength * numSlots
	for row := range batch.Size {
		if !res.History.Full(row) || batch.Lengths[row] <= minIntraAttentionLogLength {
			continue
		}
		items, _ := batch.Session(row)
		weights := res.IntraAttention[row*rowSize : row*rowSize+len(items)*numSlots]
		if err := t.runLog.LogIntraAttention(batch.UserIDs[row], items, numSlots, weights); err != nil {
			return err
		}
	}
	return nil
}

// Run trains for up to ParamMaxEpochs epochs, starting after the epoch stored in ParamEpoch (non-zero when
// resuming from a checkpoint).
//
// After each epoch ParamEpoch is updated and a checkpoint is saved, if Options.Checkpoint is set. With
// ParamSaveBest, checkpoints are only saved when the test Recall@5 improves. At the end, the model components
// are exported to Options.ExportDir, if set.
//
// Errors abort the run without saving a checkpoint for the failed epoch, so a run stopped by
// ErrNumericalInstability can be resumed from its last good checkpoint.
func (t *Trainer) Run(goCtx stdcontext.Context) ([]*EpochResult, error) {
	lastEpoch := context.GetParamOr(t.ctx, ParamEpoch, 0)
	bestRecall := context.GetParamOr(t.ctx, ParamBestRecall, 0.0)
	if lastEpoch > 0 {
		klog.Infof("resuming after epoch #%d (best Recall@5 so far %.4f)", lastEpoch, bestRecall)
	}
	var results []*EpochResult
	for epoch := lastEpoch + 1; epoch <= t.maxEpochs; epoch++ {
		res, err := t.RunEpoch(goCtx, epoch)
		if err != nil {
			return results, err
		}
		results = append(results, res)

		t.ctx.SetParam(ParamEpoch, epoch)
		recall := res.Stats.Recall(5)
		improved := recall > bestRecall
		if improved {
			bestRecall = recall
			t.ctx.SetParam(ParamBestRecall, bestRecall)
		}
		if t.opts.Checkpoint != nil && (!t.saveBest || improved) {
			if err := t.opts.Checkpoint.Save(); err != nil {
				return results, errors.WithMessagef(err, "failed to save checkpoint after epoch #%d", epoch)
			}
			klog.V(1).Infof("checkpoint saved to %q", t.opts.Checkpoint.Dir())
		}
	}
	if t.opts.ExportDir != "" {
		if err := ExportComponents(t.ctx, t.opts.ExportDir, t.opts.RunName); err != nil {
			return results, err
		}
	}
	return results, nil
}
