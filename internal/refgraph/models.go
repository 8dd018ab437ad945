// Package refgraph holds the module reference graph produced by a scan and the
// renderers used to export it.
package refgraph

import "sort"

// RefSet is the set of reference names declared by one module.
type RefSet map[string]struct{}

// NewRefSet builds a set from names, collapsing duplicates.
func NewRefSet(names ...string) RefSet {
	s := make(RefSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts name into the set.
func (s RefSet) Add(name string) { s[name] = struct{}{} }

// Has reports whether name is in the set.
func (s RefSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s RefSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Graph maps a module identity to the names it references. A Graph returned by
// a scan is never written again; filtered graphs are fresh values.
type Graph map[string]RefSet

// Modules returns the module identities in lexical order.
func (g Graph) Modules() []string {
	out := make([]string, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EdgeCount is the total number of (module, reference) pairs.
func (g Graph) EdgeCount() int {
	n := 0
	for _, refs := range g {
		n += len(refs)
	}
	return n
}

// Equal reports whether both graphs have the same keys and value sets.
func (g Graph) Equal(other Graph) bool {
	if len(g) != len(other) {
		return false
	}
	for id, refs := range g {
		o, ok := other[id]
		if !ok || len(o) != len(refs) {
			return false
		}
		for r := range refs {
			if !o.Has(r) {
				return false
			}
		}
	}
	return true
}

// IsSubgraphOf reports whether every key of g is in other and every value set
// of g is contained in the corresponding set of other.
func (g Graph) IsSubgraphOf(other Graph) bool {
	for id, refs := range g {
		o, ok := other[id]
		if !ok {
			return false
		}
		for r := range refs {
			if !o.Has(r) {
				return false
			}
		}
	}
	return true
}

// Entry is one module with its sorted references, the serialized form of a
// graph row.
type Entry struct {
	Module     string   `json:"module" yaml:"module"`
	References []string `json:"references" yaml:"references"`
}

// Entries flattens the graph into rows sorted by module identity.
func (g Graph) Entries() []Entry {
	out := make([]Entry, 0, len(g))
	for _, id := range g.Modules() {
		out = append(out, Entry{Module: id, References: g[id].Sorted()})
	}
	return out
}

// Stats holds computed metrics about the graph.
type Stats struct {
	ModuleCount     int            `json:"module_count"`
	EdgeCount       int            `json:"edge_count"`
	DistinctRefs    int            `json:"distinct_references"`
	IsolatedModules int            `json:"isolated_modules"` // modules declaring no references
	MaxFanOut       int            `json:"max_fan_out"`
	HotspotModule   string         `json:"hotspot_module"` // module with most references
	MaxFanIn        int            `json:"max_fan_in"`
	MostReferenced  string         `json:"most_referenced"`
	ReferenceFanIn  map[string]int `json:"reference_fan_in"`
}

// ComputeStats walks the graph once and derives its Stats.
func ComputeStats(g Graph) Stats {
	st := Stats{
		ModuleCount:    len(g),
		ReferenceFanIn: make(map[string]int),
	}
	// Iterate in sorted order so ties resolve the same way every run.
	for _, id := range g.Modules() {
		refs := g[id]
		st.EdgeCount += len(refs)
		if len(refs) == 0 {
			st.IsolatedModules++
		}
		if len(refs) > st.MaxFanOut {
			st.MaxFanOut = len(refs)
			st.HotspotModule = id
		}
		for r := range refs {
			st.ReferenceFanIn[r]++
		}
	}
	st.DistinctRefs = len(st.ReferenceFanIn)

	names := make([]string, 0, len(st.ReferenceFanIn))
	for r := range st.ReferenceFanIn {
		names = append(names, r)
	}
	sort.Strings(names)
	for _, r := range names {
		if c := st.ReferenceFanIn[r]; c > st.MaxFanIn {
			st.MaxFanIn = c
			st.MostReferenced = r
		}
	}
	return st
}
