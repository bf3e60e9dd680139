// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation accumulates next-item ranking metrics, Recall@K and MRR@K, over batches of top-K
// predictions.
package evaluation

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// DefaultCutoffs are the K values of Recall@K and MRR@K.
var DefaultCutoffs = []int{5, 10, 20}

// DefaultNumPositions is the number of session positions with their own metrics.
const DefaultNumPositions = 19

// counters of hits and reciprocal ranks, one per cutoff.
type counters struct {
	count           int
	hits            []int
	reciprocalRanks []float64
}

func newCounters(numCutoffs int) counters {
	return counters{hits: make([]int, numCutoffs), reciprocalRanks: make([]float64, numCutoffs)}
}

// Tester accumulates the metrics of the predictions of each real (non-padded) position of the sessions.
type Tester struct {
	cutoffs      []int
	overall      counters
	perPosition  []counters
	numPositions int
}

// NewTester creates a Tester for the given cutoffs (in increasing order), with per-position metrics for the
// first numPositions positions of the sessions.
func NewTester(cutoffs []int, numPositions int) *Tester {
	t := &Tester{cutoffs: cutoffs, numPositions: numPositions}
	t.Reset()
	return t
}

// Cutoffs returns the K values of the metrics.
func (t *Tester) Cutoffs() []int { return t.cutoffs }

// Reset clears all counters.
func (t *Tester) Reset() {
	t.overall = newCounters(len(t.cutoffs))
	t.perPosition = make([]counters, t.numPositions)
	for ii := range t.perPosition {
		t.perPosition[ii] = newCounters(len(t.cutoffs))
	}
}

// EvaluateBatch accounts the predictions of one batch:
//   - topK: flat [batchSize, maxLength, k] predicted item ids, in descending order of score;
//   - targets: flat [batchSize, maxLength];
//   - lengths: [batchSize], positions at or beyond a session length are ignored.
//
// k must be at least the largest cutoff.
func (t *Tester) EvaluateBatch(topK []int32, k int, targets []int32, lengths []int32) error {
	batchSize := len(lengths)
	if batchSize == 0 {
		return nil
	}
	if maxCutoff := t.cutoffs[len(t.cutoffs)-1]; k < maxCutoff {
		return errors.Errorf("evaluation: top-%d predictions, but metrics require up to %d", k, maxCutoff)
	}
	if len(targets)%batchSize != 0 {
		return errors.Errorf("evaluation: %d targets for %d sessions", len(targets), batchSize)
	}
	maxLength := len(targets) / batchSize
	if len(topK) != batchSize*maxLength*k {
		return errors.Errorf("evaluation: got %d predictions, expected %d sessions x %d positions x top-%d",
			len(topK), batchSize, maxLength, k)
	}
	for b, length := range lengths {
		for pos := range min(int(length), maxLength) {
			target := targets[b*maxLength+pos]
			start := (b*maxLength + pos) * k
			rank := -1
			for r, item := range topK[start : start+k] {
				if item == target {
					rank = r
					break
				}
			}
			t.overall.add(t.cutoffs, rank)
			if pos < t.numPositions {
				t.perPosition[pos].add(t.cutoffs, rank)
			}
		}
	}
	return nil
}

// add one prediction whose target was found at the given rank (0-based), or -1 if not found.
func (c *counters) add(cutoffs []int, rank int) {
	c.count++
	if rank < 0 {
		return
	}
	for ii, cutoff := range cutoffs {
		if rank < cutoff {
			c.hits[ii]++
			c.reciprocalRanks[ii] += 1.0 / float64(rank+1)
		}
	}
}

// Metrics for one set of predictions.
type Metrics struct {
	Count       int
	Recall, MRR []float64
}

func (c *counters) metrics() Metrics {
	m := Metrics{Count: c.count, Recall: make([]float64, len(c.hits)), MRR: make([]float64, len(c.hits))}
	if c.count == 0 {
		return m
	}
	for ii := range c.hits {
		m.Recall[ii] = float64(c.hits[ii]) / float64(c.count)
		m.MRR[ii] = c.reciprocalRanks[ii] / float64(c.count)
	}
	return m
}

// Stats holds the metrics accumulated by a Tester.
type Stats struct {
	Cutoffs     []int
	Overall     Metrics
	PerPosition []Metrics
}

// Stats returns the metrics accumulated since the last Reset.
func (t *Tester) Stats() Stats {
	s := Stats{Cutoffs: t.cutoffs, Overall: t.overall.metrics(), PerPosition: make([]Metrics, t.numPositions)}
	for ii := range t.perPosition {
		s.PerPosition[ii] = t.perPosition[ii].metrics()
	}
	return s
}

// Recall returns the overall Recall@k, or 0 if k is not one of the cutoffs.
func (s Stats) Recall(k int) float64 {
	for ii, cutoff := range s.Cutoffs {
		if cutoff == k {
			return s.Overall.Recall[ii]
		}
	}
	return 0
}

// MRR returns the overall MRR@k, or 0 if k is not one of the cutoffs.
func (s Stats) MRR(k int) float64 {
	for ii, cutoff := range s.Cutoffs {
		if cutoff == k {
			return s.Overall.MRR[ii]
		}
	}
	return 0
}

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

// Table returns the metrics formatted as a table: one row for the overall metrics and one per position
// with predictions.
func (s Stats) Table() string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	headers := []string{"Position", "Count"}
	for _, cutoff := range s.Cutoffs {
		headers = append(headers, fmt.Sprintf("Recall@%d", cutoff), fmt.Sprintf("MRR@%d", cutoff))
	}
	table.Headers(headers...)
	addRow := func(name string, m Metrics) {
		row := []string{name, humanize.Comma(int64(m.Count))}
		for ii := range s.Cutoffs {
			row = append(row, fmt.Sprintf("%.4f", m.Recall[ii]), fmt.Sprintf("%.4f", m.MRR[ii]))
		}
		table.Row(row...)
	}
	addRow("all", s.Overall)
	for pos, m := range s.PerPosition {
		if m.Count > 0 {
			addRow(fmt.Sprintf("%d", pos+1), m)
		}
	}
	return table.String()
}

// String returns a plain text report, as written to the run log.
func (s Stats) String() string {
	var sb strings.Builder
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&sb, format, args...) }
	w("predictions: %d\n", s.Overall.Count)
	for ii, cutoff := range s.Cutoffs {
		w("\tRecall@%d = %.4f\tMRR@%d = %.4f\n", cutoff, s.Overall.Recall[ii], cutoff, s.Overall.MRR[ii])
	}
	for pos, m := range s.PerPosition {
		if m.Count == 0 {
			continue
		}
		w("position %d (%d predictions):", pos+1, m.Count)
		for ii, cutoff := range s.Cutoffs {
			w("\tR@%d=%.4f MRR@%d=%.4f", cutoff, m.Recall[ii], cutoff, m.MRR[ii])
		}
		w("\n")
	}
	return sb.String()
}
