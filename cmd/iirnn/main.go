// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// iirnn trains and evaluates the hierarchical recurrent session-based recommender.
//
// It can be used in 3 different ways:
//
//	# Train on a CSV interaction log (columns user_id, item_id, timestamp):
//	$ iirnn -data=~/datasets/lastfm.csv -set="intra_attention=true;max_epochs=20"
//
//	# Train on a generated synthetic dataset, good for a quick test:
//	$ iirnn -synthetic -set="max_epochs=3"
//
//	# Resume a previous run from its checkpoints:
//	$ iirnn -data=~/datasets/lastfm.csv -resume=2026-03-04-15-06-07-testing-attn-rnn-lastfm-true-false-true
//
// Hyperparameters are set with -set, see trainer.CreateDefaultContext and hrnn.DefaultParams for the list.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/iirnn/pkg/trainer"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir    = flag.String("data_dir", "~/tmp/iirnn", "Directory for the dataset binary cache, checkpoints, run logs and exported models.")
	flagData       = flag.String("data", "", "CSV file with the interaction log (user, item, timestamp).")
	flagDataset    = flag.String("dataset", "", "Name of the dataset, defaults to the CSV file name.")
	flagSynthetic  = flag.Bool("synthetic", false, "Train on a generated synthetic dataset instead of -data.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save checkpoints, relative to -data_dir. Defaults to the run name. Set to \"-\" to disable.")
	flagResume     = flag.String("resume", "", "Run name of a previous run to resume from its checkpoints.")
	flagLogDir     = flag.String("log_dir", "", "Directory for the run logs, defaults to <data_dir>/logs.")
	flagExport     = flag.Bool("export", true, "Export the trained components to <data_dir>/models at the end.")
	flagProgress   = flag.Bool("progress", true, "Display a progress bar during training and testing.")
)

func main() {
	ctx := trainer.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	goCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	var err error
	panicErr := exceptions.TryCatch[error](func() {
		err = trainModel(goCtx, ctx, paramsSet, runFlags{
			dataDir:    *flagDataDir,
			data:       *flagData,
			dataset:    *flagDataset,
			synthetic:  *flagSynthetic,
			checkpoint: *flagCheckpoint,
			resume:     *flagResume,
			logDir:     *flagLogDir,
			export:     *flagExport,
			progress:   *flagProgress,
		})
	})
	if panicErr != nil {
		err = panicErr
	}
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
