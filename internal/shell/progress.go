package shell

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressBar draws scan progress on a single terminal line. Redraws happen
// only when the whole percentage changes.
type ProgressBar struct {
	mu    sync.Mutex
	w     io.Writer
	bar   progress.Model
	shown int
	done  bool
}

// NewProgressBar returns a bar writing to w, normally stderr.
func NewProgressBar(w io.Writer) *ProgressBar {
	return &ProgressBar{
		w:     w,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		shown: -1,
	}
}

// Report implements scan.Progress.
func (p *ProgressBar) Report(fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	pct := int(math.Floor(clamp(fraction) * 100))
	if pct == p.shown {
		return
	}
	p.shown = pct
	fmt.Fprintf(p.w, "\r%s", p.bar.ViewAs(clamp(fraction)))
}

// Finish ends the progress line. Later reports are ignored.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	if p.shown >= 0 {
		fmt.Fprintln(p.w)
	}
}

// LogProgress logs progress at info level every Step of completion, for
// non-interactive runs.
type LogProgress struct {
	Logger *slog.Logger
	Step   float64 // default 0.1

	mu   sync.Mutex
	next float64
}

// Report implements scan.Progress.
func (p *LogProgress) Report(fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := p.Step
	if step <= 0 {
		step = 0.1
	}
	if fraction < p.next && fraction < 1 {
		return
	}
	for p.next <= fraction {
		p.next += step
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("scan progress", "percent", int(math.Round(clamp(fraction)*100)))
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
