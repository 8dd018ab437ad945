package refgraph

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func sampleGraph() Graph {
	return Graph{
		"A (/x/A.dll)": NewRefSet("LibZ", "LibY"),
		"B (/x/B.dll)": NewRefSet("LibY"),
		"C (/x/C.dll)": NewRefSet(),
	}
}

// Model Tests

func TestRefSet_Dedup(t *testing.T) {
	s := NewRefSet("a", "b", "a")
	if len(s) != 2 {
		t.Fatalf("expected 2 names, got %d", len(s))
	}
	s.Add("b")
	s.Add("c")
	if got := strings.Join(s.Sorted(), ","); got != "a,b,c" {
		t.Errorf("sorted = %q, want a,b,c", got)
	}
	if !s.Has("c") || s.Has("d") {
		t.Error("Has returned wrong membership")
	}
}

func TestGraph_ModulesAndEdges(t *testing.T) {
	g := sampleGraph()
	mods := g.Modules()
	if len(mods) != 3 || mods[0] != "A (/x/A.dll)" || mods[2] != "C (/x/C.dll)" {
		t.Errorf("unexpected module order: %v", mods)
	}
	if g.EdgeCount() != 3 {
		t.Errorf("expected 3 edges, got %d", g.EdgeCount())
	}
}

func TestGraph_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Graph
		want bool
	}{
		{"both empty", Graph{}, Graph{}, true},
		{"same", sampleGraph(), sampleGraph(), true},
		{"missing key", sampleGraph(), Graph{"A (/x/A.dll)": NewRefSet("LibZ", "LibY")}, false},
		{"different refs", Graph{"A": NewRefSet("x")}, Graph{"A": NewRefSet("y")}, false},
		{"empty vs absent set", Graph{"A": NewRefSet()}, Graph{"B": NewRefSet()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGraph_IsSubgraphOf(t *testing.T) {
	full := sampleGraph()
	sub := Graph{"A (/x/A.dll)": NewRefSet("LibZ")}
	if !sub.IsSubgraphOf(full) {
		t.Error("expected subgraph")
	}
	if full.IsSubgraphOf(sub) {
		t.Error("full graph should not be a subgraph of a smaller one")
	}
	extra := Graph{"A (/x/A.dll)": NewRefSet("LibQ")}
	if extra.IsSubgraphOf(full) {
		t.Error("unknown reference should break containment")
	}
	if !(Graph{}).IsSubgraphOf(full) {
		t.Error("empty graph is a subgraph of everything")
	}
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats(sampleGraph())
	if st.ModuleCount != 3 {
		t.Errorf("ModuleCount = %d, want 3", st.ModuleCount)
	}
	if st.EdgeCount != 3 {
		t.Errorf("EdgeCount = %d, want 3", st.EdgeCount)
	}
	if st.DistinctRefs != 2 {
		t.Errorf("DistinctRefs = %d, want 2", st.DistinctRefs)
	}
	if st.IsolatedModules != 1 {
		t.Errorf("IsolatedModules = %d, want 1", st.IsolatedModules)
	}
	if st.MaxFanOut != 2 || st.HotspotModule != "A (/x/A.dll)" {
		t.Errorf("fan-out = %d %q", st.MaxFanOut, st.HotspotModule)
	}
	if st.MaxFanIn != 2 || st.MostReferenced != "LibY" {
		t.Errorf("fan-in = %d %q", st.MaxFanIn, st.MostReferenced)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	st := ComputeStats(Graph{})
	if st.ModuleCount != 0 || st.EdgeCount != 0 || st.HotspotModule != "" || st.MostReferenced != "" {
		t.Errorf("expected zero stats, got %+v", st)
	}
}

// Export Tests

func TestFormatText(t *testing.T) {
	g := Graph{
		"B (/x/B.dll)": NewRefSet("LibY"),
		"A (/x/A.dll)": NewRefSet("LibZ", "LibY"),
	}
	want := "A (/x/A.dll)\n" +
		"  Has reference to:\n" +
		"  LibY\n" +
		"  LibZ\n" +
		"\n" +
		"B (/x/B.dll)\n" +
		"  Has reference to:\n" +
		"  LibY\n" +
		"\n"
	if got := FormatText(g); got != want {
		t.Errorf("FormatText mismatch:\n%s\nwant:\n%s", got, want)
	}
}

func TestExportDOT(t *testing.T) {
	g := Graph{
		"A (/x/A.dll)": NewRefSet("B"),
		"B":            NewRefSet(),
	}
	dot := ExportDOT(g)

	if !strings.HasPrefix(dot, "digraph references {") {
		t.Error("expected digraph header")
	}
	if !strings.Contains(dot, `"A (/x/A.dll)" -> "B"`) {
		t.Errorf("missing edge in:\n%s", dot)
	}
	if strings.Count(dot, `"B" [`) != 1 {
		t.Errorf("reference that is also a module should be declared once:\n%s", dot)
	}
	if !strings.HasSuffix(dot, "}\n") {
		t.Error("expected closing brace")
	}
}

func TestExportDOT_Quotes(t *testing.T) {
	g := Graph{`we"ird`: NewRefSet()}
	if !strings.Contains(ExportDOT(g), `"we\"ird"`) {
		t.Error("expected escaped quote")
	}
}

func TestExportMermaid(t *testing.T) {
	g := Graph{
		"A (/x/A.dll)": NewRefSet("B (/x/B.dll)", "LibZ"),
		"B (/x/B.dll)": NewRefSet(),
	}
	md := ExportMermaid(g)

	if !strings.HasPrefix(md, "graph LR\n") {
		t.Error("expected mermaid header")
	}
	if !strings.Contains(md, `n0[["A (/x/A.dll)"]]`) || !strings.Contains(md, `n1[["B (/x/B.dll)"]]`) {
		t.Errorf("missing module nodes:\n%s", md)
	}
	if !strings.Contains(md, "n0 --> n1\n") {
		t.Errorf("missing module edge:\n%s", md)
	}
	if !strings.Contains(md, `n0 --> n2(["LibZ"])`) {
		t.Errorf("missing reference edge:\n%s", md)
	}
}

func TestExportJSON(t *testing.T) {
	data, err := ExportJSON(sampleGraph())
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Module != "A (/x/A.dll)" || strings.Join(entries[0].References, ",") != "LibY,LibZ" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[2].References == nil || len(entries[2].References) != 0 {
		t.Errorf("module without references should serialize an empty list, got %v", entries[2].References)
	}
}

func TestExportYAML(t *testing.T) {
	data, err := ExportYAML(sampleGraph())
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if len(entries) != 3 || entries[1].Module != "B (/x/B.dll)" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestFormatStats(t *testing.T) {
	out := FormatStats(sampleGraph())
	for _, want := range []string{"Modules:         3", "3 total, 2 distinct", "Max Fan-In:      2 (LibY)"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}
