// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	stdcontext "context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/iirnn/pkg/hrnn"
	"github.com/gomlx/iirnn/pkg/sessions"
	"github.com/gomlx/iirnn/pkg/trainer"
)

// runFlags are the process-level options, the hyperparameters are in the context.
type runFlags struct {
	dataDir, data, dataset     string
	synthetic                  bool
	checkpoint, resume, logDir string
	export, progress           bool
}

var bannerStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#705090")).
	Padding(0, 1)

// loadDataset returns the synthetic dataset, or the one in the CSV file. The dataset parsed from a CSV file is
// cached in binary format in the data directory, and reused in later runs.
func loadDataset(flags runFlags) (*sessions.Dataset, error) {
	if flags.synthetic {
		ds := sessions.Synthetic(sessions.DefaultSyntheticConfig())
		if flags.dataset != "" {
			ds.Name = flags.dataset
		}
		return ds, nil
	}
	if flags.data == "" {
		return nil, errors.New("either -data or -synthetic must be given")
	}
	csvPath, err := fsutil.ReplaceTildeInDir(flags.data)
	if err != nil {
		return nil, err
	}
	name := flags.dataset
	if name == "" {
		name = filepath.Base(csvPath)
		name = name[:len(name)-len(filepath.Ext(name))]
	}
	binPath := filepath.Join(flags.dataDir, name+".bin")
	if _, err := os.Stat(binPath); err == nil {
		klog.V(1).Infof("loading dataset from cache %q", binPath)
		return sessions.LoadBinary(binPath)
	}
	ds, err := sessions.LoadCSV(csvPath, sessions.DefaultCSVOptions())
	if err != nil {
		return nil, err
	}
	ds.Name = name
	if err := ds.SaveBinary(binPath); err != nil {
		klog.Warningf("failed to cache dataset in %q: %v", binPath, err)
	}
	return ds, nil
}

// trainModel loads the data, configures the checkpoints and the run log, and trains the model for the
// configured number of epochs.
func trainModel(goCtx stdcontext.Context, ctx *context.Context, paramsSet []string, flags runFlags) error {
	var err error
	flags.dataDir, err = fsutil.ReplaceTildeInDir(flags.dataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(flags.dataDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create data directory %q", flags.dataDir)
	}
	ds, err := loadDataset(flags)
	if err != nil {
		return err
	}
	fmt.Println(ds)

	runName := flags.resume
	if runName == "" {
		cfg, err := hrnn.ConfigFromContext(ctx, ds.NumItems, ds.NumUsers)
		if err != nil {
			return err
		}
		runName = cfg.RunName(ds.Name, time.Now())
	}

	// Checkpoints: resuming loads the params and variables of the last checkpoint of the run.
	var checkpoint *checkpoints.Handler
	checkpointDir := flags.checkpoint
	if checkpointDir == "" {
		checkpointDir = runName
	}
	if checkpointDir != "-" {
		checkpoint, err = checkpoints.Build(ctx).
			DirFromBase(checkpointDir, flags.dataDir).
			Keep(context.GetParamOr(ctx, trainer.ParamNumCheckpoints, 3)).
			ExcludeParams(append(paramsSet, trainer.ParamsExcludedFromLoading...)...).
			Done()
		if err != nil {
			return err
		}
		if flags.resume != "" {
			found, err := checkpoint.HasCheckpoints()
			if err != nil {
				return err
			}
			if !found {
				return errors.Errorf("no checkpoints found in %q to resume run %q", checkpoint.Dir(), runName)
			}
		}
	} else if flags.resume != "" {
		return errors.New("-resume requires checkpoints, -checkpoint cannot be \"-\"")
	}

	logDir := flags.logDir
	if logDir == "" {
		logDir = filepath.Join(flags.dataDir, "logs")
	}
	opts := trainer.Options{
		RunName:      runName,
		Checkpoint:   checkpoint,
		LogDir:       logDir,
		ShowProgress: flags.progress,
	}
	if flags.export {
		opts.ExportDir = filepath.Join(flags.dataDir, "models")
	}

	backend := backends.MustNew()
	// Params may have been loaded from the checkpoint.
	data := sessions.NewHandler(ds, context.GetParamOr(ctx, trainer.ParamBatchSize, 60),
		context.GetParamOr(ctx, hrnn.ParamMaxSessionLength, 19))
	t, err := trainer.New(backend, ctx, data, opts)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	banner := fmt.Sprintf("Run: %s\nBackend: %s\nTraining sessions: %s\n\n%s",
		runName, backend.Name(), humanize.Comma(int64(ds.NumTrainingSessions())), t.Config())
	if checkpoint != nil {
		banner += fmt.Sprintf("\nCheckpoint: %s", checkpoint.Dir())
	}
	fmt.Println(bannerStyle.Render(banner))
	if klog.V(1).Enabled() {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	results, err := t.Run(goCtx)
	if err != nil {
		return err
	}
	for _, res := range results {
		fmt.Printf("Epoch #%d (%s): loss %.4f, Recall@5 %.4f, MRR@5 %.4f\n", res.Epoch,
			commandline.FormatDuration(res.Duration), res.Loss, res.Stats.Recall(5), res.Stats.MRR(5))
	}
	if len(results) > 0 {
		fmt.Println(results[len(results)-1].Stats.Table())
	}
	return nil
}
