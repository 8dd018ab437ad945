package refgraph

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReferenceHeader introduces the reference list of a module in text output.
const ReferenceHeader = "  Has reference to:"

// FormatText renders every module followed by its indented references and a
// blank line, the same layout the interactive shell prints.
func FormatText(g Graph) string {
	var b strings.Builder
	for _, e := range g.Entries() {
		b.WriteString(e.Module + "\n")
		b.WriteString(ReferenceHeader + "\n")
		for _, r := range e.References {
			b.WriteString("  " + r + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ExportDOT generates a Graphviz DOT representation of the graph.
func ExportDOT(g Graph) string {
	var b strings.Builder
	b.WriteString("digraph references {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	refs := make(map[string]bool)
	for _, e := range g.Entries() {
		b.WriteString(fmt.Sprintf("  %s [shape=box3d style=filled fillcolor=\"%s\"];\n",
			quoteDOT(e.Module), colorModule))
		for _, r := range e.References {
			refs[r] = true
		}
	}
	for _, r := range NewRefSetFromMap(refs).Sorted() {
		if _, isModule := g[r]; isModule {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s [shape=ellipse style=filled fillcolor=\"%s\"];\n",
			quoteDOT(r), colorReference))
	}
	b.WriteString("\n")

	for _, e := range g.Entries() {
		for _, r := range e.References {
			b.WriteString(fmt.Sprintf("  %s -> %s [color=\"%s\"];\n",
				quoteDOT(e.Module), quoteDOT(r), colorEdge))
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid diagram of the graph.
func ExportMermaid(g Graph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	ids := newMermaidIDs()
	for _, e := range g.Entries() {
		b.WriteString(fmt.Sprintf("  %s[[\"%s\"]]\n", ids.get(e.Module), escapeMermaid(e.Module)))
	}
	for _, e := range g.Entries() {
		for _, r := range e.References {
			if _, isModule := g[r]; isModule {
				b.WriteString(fmt.Sprintf("  %s --> %s\n", ids.get(e.Module), ids.get(r)))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s --> %s([\"%s\"])\n", ids.get(e.Module), ids.get(r), escapeMermaid(r)))
		}
	}

	return b.String()
}

// ExportJSON serializes the graph as a sorted list of entries.
func ExportJSON(g Graph) ([]byte, error) {
	return json.MarshalIndent(g.Entries(), "", "  ")
}

// ExportYAML serializes the graph as a sorted list of entries.
func ExportYAML(g Graph) ([]byte, error) {
	return yaml.Marshal(g.Entries())
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(g Graph) string {
	st := ComputeStats(g)
	var b strings.Builder
	b.WriteString("Reference Graph Statistics\n")
	b.WriteString("==========================\n\n")
	b.WriteString(fmt.Sprintf("Modules:         %d\n", st.ModuleCount))
	b.WriteString(fmt.Sprintf("  No references: %d\n", st.IsolatedModules))
	b.WriteString(fmt.Sprintf("References:      %d total, %d distinct\n", st.EdgeCount, st.DistinctRefs))
	if st.HotspotModule != "" {
		b.WriteString(fmt.Sprintf("Max Fan-Out:     %d (%s)\n", st.MaxFanOut, st.HotspotModule))
	}
	if st.MostReferenced != "" {
		b.WriteString(fmt.Sprintf("Max Fan-In:      %d (%s)\n", st.MaxFanIn, st.MostReferenced))
	}
	return b.String()
}

// NewRefSetFromMap converts a bool set into a RefSet.
func NewRefSetFromMap(m map[string]bool) RefSet {
	s := make(RefSet, len(m))
	for k, ok := range m {
		if ok {
			s.Add(k)
		}
	}
	return s
}

const (
	colorModule    = "#1f6feb"
	colorReference = "#8957e5"
	colorEdge      = "#3fb950"
)

func quoteDOT(s string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// mermaidIDs hands out short stable node IDs; module identities contain spaces,
// parentheses and path separators that Mermaid does not accept.
type mermaidIDs struct {
	ids  map[string]string
	next int
}

func newMermaidIDs() *mermaidIDs {
	return &mermaidIDs{ids: make(map[string]string)}
}

func (m *mermaidIDs) get(name string) string {
	if id, ok := m.ids[name]; ok {
		return id
	}
	id := fmt.Sprintf("n%d", m.next)
	m.next++
	m.ids[name] = id
	return id
}
