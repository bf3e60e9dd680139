// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the terminal.
const maxUpdateFrequency = time.Millisecond * 200

// phaseUpdate is the state of a phase after some batches.
type phaseUpdate struct {
	amount                int
	batch, sessions       int
	lossSum, meanDuration string
}

// phaseProgress displays a progress bar for one phase (train or test) of an epoch, followed by a table
// with the running loss.
//
// Updates are drawn asynchronously, so a slow terminal doesn't slow down training.
type phaseProgress struct {
	bar       *progressbar.ProgressBar
	termenv   *termenv.Output
	style     lipgloss.Style
	table     *lgtable.Table
	started   time.Time
	firstDraw bool

	updates chan phaseUpdate
	done    sync.WaitGroup
}

func newPhaseProgress(name string, numBatches int) *phaseProgress {
	p := &phaseProgress{
		termenv:   termenv.NewOutput(os.Stdout),
		style:     lipgloss.NewStyle().PaddingLeft(8),
		started:   time.Now(),
		firstDraw: true,
		updates:   make(chan phaseUpdate, 100),
	}
	p.bar = progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription(fmt.Sprintf("%8s [bold]", name)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
	)
	p.table = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	p.done.Add(1)
	go p.draw()
	return p
}

// update reports one more batch, with the accumulated loss of the phase.
func (p *phaseProgress) update(batch, numSessions int, lossSum float64) {
	meanDuration := time.Since(p.started) / time.Duration(batch+1)
	p.updates <- phaseUpdate{
		amount:       1,
		batch:        batch,
		sessions:     numSessions,
		lossSum:      fmt.Sprintf("%.4f", lossSum),
		meanDuration: commandline.FormatDuration(meanDuration),
	}
}

func (p *phaseProgress) draw() {
	defer p.done.Done()
	for update := range p.updates {
		amount := update.amount
	exhaust:
		for {
			select {
			case next, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount += next.amount
				update = next
			default:
				break exhaust
			}
		}

		p.table.Data(lgtable.NewStringData())
		p.table.Row("Batch", humanize.Comma(int64(update.batch+1)))
		p.table.Row("Sessions", humanize.Comma(int64(update.sessions)))
		p.table.Row("Loss (sum)", update.lossSum)
		p.table.Row("Mean batch duration", update.meanDuration)
		const numRows = 4

		p.termenv.HideCursor()
		if !p.firstDraw {
			// Table rows, its borders, the progress bar and an empty line.
			p.termenv.CursorPrevLine(numRows + 2 + 2)
		}
		p.firstDraw = false
		fmt.Println(p.style.Render(p.table.String()))
		_ = p.bar.Add(amount)
		fmt.Println()
		p.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// finish waits for pending updates to be drawn.
func (p *phaseProgress) finish() {
	close(p.updates)
	p.done.Wait()
	p.termenv.ShowCursor()
	fmt.Println()
}
