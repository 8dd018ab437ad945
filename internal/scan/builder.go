// Package scan builds the module reference graph by running the metadata
// extractor over every enumerated module on a bounded worker pool.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/refscan/internal/extract"
	"github.com/efebarandurmaz/refscan/internal/observability"
	"github.com/efebarandurmaz/refscan/internal/refgraph"
)

// ErrCancelled is returned when the scan was cancelled before every module was
// processed. The partial graph is discarded.
var ErrCancelled = errors.New("scan cancelled")

// Enumerator lists candidate module paths under a root directory.
type Enumerator interface {
	Enumerate(root string) ([]string, error)
}

// Progress receives the fraction of processed modules, in [0, 1]. Report may
// be called from several goroutines.
type Progress interface {
	Report(fraction float64)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(fraction float64)

// Report implements Progress.
func (f ProgressFunc) Report(fraction float64) { f(fraction) }

// Stats describes one completed scan.
type Stats struct {
	ScanID     string
	Root       string
	Enumerated int
	Loaded     int
	Skipped    int // files that were not readable modules
	Workers    int
	Duration   time.Duration
}

// Builder drives the extractor over all enumerated paths.
type Builder struct {
	Enumerator Enumerator
	Extractor  extract.Extractor
	Workers    int      // <= 0 means runtime.NumCPU()
	Progress   Progress // optional
	Logger     *slog.Logger
}

// NewBuilder returns a Builder with a worker per CPU.
func NewBuilder(en Enumerator, ex extract.Extractor) *Builder {
	return &Builder{
		Enumerator: en,
		Extractor:  ex,
		Logger:     slog.Default(),
	}
}

// Build scans root and returns the reference graph.
func (b *Builder) Build(ctx context.Context, root string) (refgraph.Graph, error) {
	g, _, err := b.BuildWithStats(ctx, root)
	return g, err
}

// BuildWithStats scans root and returns the reference graph together with the
// scan statistics. A missing root fails with enumerate.ErrDirectoryNotFound, a
// cancelled context with ErrCancelled; unreadable modules are skipped.
func (b *Builder) BuildWithStats(ctx context.Context, root string) (refgraph.Graph, Stats, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := Stats{
		ScanID:  uuid.NewString(),
		Root:    root,
		Workers: b.workers(),
	}
	logger = logger.With("scan_id", st.ScanID)
	start := time.Now()

	ctx, span := observability.StartScanSpan(ctx, st.ScanID, root)
	defer span.End()

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
		observability.RecordError(span, err)
		return nil, st, err
	}

	paths, err := b.Enumerator.Enumerate(root)
	if err != nil {
		observability.RecordError(span, err)
		return nil, st, fmt.Errorf("enumerating modules: %w", err)
	}
	st.Enumerated = len(paths)
	logger.Info("scanning modules", "root", root, "modules", len(paths), "workers", st.Workers)

	// One slot per path; only the worker that owns index i writes slot i.
	results := make([]slot, len(paths))
	var processed atomic.Int64
	progress := newMonotonic(b.Progress)
	total := float64(len(paths))

	var g errgroup.Group
	g.SetLimit(st.Workers)
	for i, p := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, ok := b.Extractor.Extract(p)
			results[i] = slot{res: res, ok: ok}
			n := processed.Add(1)
			progress.report(float64(n) / total)
			return nil
		})
	}
	_ = g.Wait()

	if n := processed.Load(); n < int64(len(paths)) {
		err := fmt.Errorf("%w after %d of %d modules: %w", ErrCancelled, n, len(paths), context.Cause(ctx))
		observability.RecordError(span, err)
		logger.Warn("scan cancelled", "processed", n, "modules", len(paths))
		return nil, st, err
	}

	graph := make(refgraph.Graph, len(results))
	for _, r := range results {
		if !r.ok {
			st.Skipped++
			continue
		}
		graph[r.res.Identity] = refgraph.NewRefSet(r.res.References...)
	}
	st.Loaded = len(graph)
	st.Duration = time.Since(start)
	// Also covers the zero-module scan, which never reports from a worker.
	progress.report(1)

	observability.RecordScanResult(span, st.Enumerated, st.Loaded, st.Skipped)
	logger.Info("scan complete",
		"modules", st.Enumerated,
		"loaded", st.Loaded,
		"skipped", st.Skipped,
		"duration", st.Duration.Round(time.Millisecond))
	return graph, st, nil
}

func (b *Builder) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return runtime.NumCPU()
}

type slot struct {
	res extract.Result
	ok  bool
}

// monotonic forwards progress reports in increasing order only. Workers finish
// out of order, so a stale lower fraction is dropped rather than shown after a
// higher one.
type monotonic struct {
	mu   sync.Mutex
	p    Progress
	last float64
}

func newMonotonic(p Progress) *monotonic {
	return &monotonic{p: p, last: -1}
}

func (m *monotonic) report(fraction float64) {
	if m.p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fraction <= m.last {
		return
	}
	m.last = fraction
	m.p.Report(fraction)
}
