package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/refscan/internal/refgraph"
	"github.com/efebarandurmaz/refscan/internal/scan"
)

// ScanMetrics collects statistics for one scan.
type ScanMetrics struct {
	ScanID     string         `json:"scan_id"`
	Root       string         `json:"root"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"-"`
	DurationMS int64          `json:"duration_ms"`
	Workers    int            `json:"workers"`
	Enumerated int            `json:"enumerated"`
	Loaded     int            `json:"loaded"`
	Skipped    int            `json:"skipped"`
	Graph      refgraph.Stats `json:"graph"`
}

// Collect builds the metrics for a finished scan.
func Collect(st scan.Stats, g refgraph.Graph) *ScanMetrics {
	return &ScanMetrics{
		ScanID:     st.ScanID,
		Root:       st.Root,
		StartedAt:  time.Now().Add(-st.Duration),
		Duration:   st.Duration,
		DurationMS: st.Duration.Milliseconds(),
		Workers:    st.Workers,
		Enumerated: st.Enumerated,
		Loaded:     st.Loaded,
		Skipped:    st.Skipped,
		Graph:      refgraph.ComputeStats(g),
	}
}

// LoadRatio is the fraction of enumerated files that were readable modules.
func (m *ScanMetrics) LoadRatio() float64 {
	if m.Enumerated == 0 {
		return 0
	}
	return float64(m.Loaded) / float64(m.Enumerated)
}

// PrintSummary writes a human-readable summary.
func (m *ScanMetrics) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║          REFSCAN SCAN REPORT         ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Workers:     %-23d║\n", m.Workers)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ ROOT %s\n", m.Root)
	fmt.Fprintf(w, "║   Files:       %d\n", m.Enumerated)
	fmt.Fprintf(w, "║   Modules:     %d (%.0f%%)\n", m.Loaded, m.LoadRatio()*100)
	fmt.Fprintf(w, "║   Skipped:     %d\n", m.Skipped)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ REFERENCES\n")
	fmt.Fprintf(w, "║   Total:       %d\n", m.Graph.EdgeCount)
	fmt.Fprintf(w, "║   Distinct:    %d\n", m.Graph.DistinctRefs)
	if m.Graph.HotspotModule != "" {
		fmt.Fprintf(w, "║   Max Out:     %d  %s\n", m.Graph.MaxFanOut, m.Graph.HotspotModule)
	}
	if m.Graph.MostReferenced != "" {
		fmt.Fprintf(w, "║   Max In:      %d  %s\n", m.Graph.MaxFanIn, m.Graph.MostReferenced)
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the metrics as formatted JSON.
func (m *ScanMetrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
