// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gomlx/iirnn/pkg/evaluation"
	"github.com/gomlx/iirnn/pkg/hrnn"
)

// RunLog is the human-readable log of a training run, written to "<dir>/<run name>.txt".
//
// A nil *RunLog is valid and ignores all calls.
type RunLog struct {
	path string
	file *os.File
	w    *bufio.Writer
}

// NewRunLog creates (or appends to) the run log file, and writes a header with a unique id for this process.
func NewRunLog(dir, runName string) (*RunLog, error) {
	if runName == "" {
		return nil, errors.New("run log requires a run name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create run log directory %q", dir)
	}
	path := filepath.Join(dir, runName+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open run log %q", path)
	}
	l := &RunLog{path: path, file: f, w: bufio.NewWriter(f)}
	l.printf("=== run %s, id %s, started %s\n", runName, uuid.NewString(), time.Now().Format(time.RFC3339))
	return l, l.flush()
}

// Path of the log file.
func (l *RunLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *RunLog) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(l.w, format, args...)
}

func (l *RunLog) flush() error {
	return errors.Wrapf(l.w.Flush(), "failed to write to run log %q", l.path)
}

// LogConfig writes the model configuration and the number of training sessions.
func (l *RunLog) LogConfig(cfg hrnn.Config, numTrainingSessions int) error {
	if l == nil {
		return nil
	}
	l.printf("%s", cfg)
	l.printf("training sessions: %d\n", numTrainingSessions)
	return l.flush()
}

// LogTestStats writes the evaluation results of an epoch.
func (l *RunLog) LogTestStats(epoch int, loss float64, stats evaluation.Stats) error {
	if l == nil {
		return nil
	}
	l.printf("\nepoch #%d, training loss %.4f\n%s", epoch, loss, stats)
	return l.flush()
}

// LogInterAttention writes the inter-session attention weights of one user with a full history.
// weights is flat [M, M]: row i holds the weights used to encode history slot i over slots 0..i-1.
func (l *RunLog) LogInterAttention(userID int32, numSlots int, weights []float32) error {
	if l == nil {
		return nil
	}
	l.printf("inter attention, user %d:\n", userID)
	for row := range numSlots {
		l.printf("\t%s\n", formatWeights(weights[row*numSlots:(row+1)*numSlots]))
	}
	return l.flush()
}

// LogIntraAttention writes the intra-session attention weights of one user: weights is flat [length, M],
// the weights over the history slots at each position of the current session, and items are the inputs.
func (l *RunLog) LogIntraAttention(userID int32, items []int32, numSlots int, weights []float32) error {
	if l == nil {
		return nil
	}
	l.printf("intra attention, user %d, session %v:\n", userID, items)
	for pos := range items {
		l.printf("\t%d: %s\n", items[pos], formatWeights(weights[pos*numSlots:(pos+1)*numSlots]))
	}
	return l.flush()
}

// Close flushes and closes the log file.
func (l *RunLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.flush()
	if closeErr := l.file.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close run log %q", l.path)
	}
	l.file = nil
	return err
}

func formatWeights(weights []float32) string {
	parts := make([]string, len(weights))
	for ii, w := range weights {
		parts[ii] = fmt.Sprintf("%.3f", w)
	}
	return strings.Join(parts, " ")
}
