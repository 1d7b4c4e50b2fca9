package stitcher

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/workspace"
)

// DependencyGraph is the file-to-file import graph.
type DependencyGraph struct {
	Files []string         `json:"files"`
	Edges []DependencyEdge `json:"edges"`
}

// DependencyEdge is an import dependency between two files with the
// imports that produce it.
type DependencyEdge struct {
	From    string       `json:"from"`
	To      string       `json:"to"`
	Reasons []EdgeReason `json:"reasons"`
}

// EdgeReason is one import contributing to an edge.
type EdgeReason struct {
	FQN    string `json:"fqn"`
	Lineno int    `json:"line"`
}

// DependencyGraph builds the file-level import graph over indexed source
// files. Imported names are chased through aliases, so importing a
// re-exported name from a package points at the module that defines it.
// Imports of things outside the index and imports of the file itself
// produce no edge.
func (g *Graph) DependencyGraph() (*DependencyGraph, error) {
	files, err := g.store.AllFiles()
	if err != nil {
		return nil, fmt.Errorf("dependency graph: %w", err)
	}
	dg := &DependencyGraph{Files: []string{}, Edges: []DependencyEdge{}}
	for _, f := range files {
		if workspace.IsSourceFile(f.Path) {
			dg.Files = append(dg.Files, f.Path)
		}
	}
	sort.Strings(dg.Files)

	type key struct{ from, to string }
	index := map[key]int{}
	for e, err := range g.store.AllDependencyEdges() {
		if err != nil {
			return nil, fmt.Errorf("dependency graph: %w", err)
		}
		if e.TargetFilePath == "" || e.TargetFilePath == e.SourcePath {
			continue
		}
		k := key{e.SourcePath, e.TargetFilePath}
		i, ok := index[k]
		if !ok {
			i = len(dg.Edges)
			index[k] = i
			dg.Edges = append(dg.Edges, DependencyEdge{From: k.from, To: k.to})
		}
		dg.Edges[i].Reasons = append(dg.Edges[i].Reasons, EdgeReason{FQN: e.TargetFQN, Lineno: e.Lineno})
	}

	slices.SortFunc(dg.Edges, func(a, b DependencyEdge) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	return dg, nil
}

// Cycles detects import cycles between files. Each cycle lists its files
// with the first repeated at the end. Returns an empty list (not nil) for
// acyclic graphs.
func (g *Graph) Cycles() ([][]string, error) {
	dg, err := g.DependencyGraph()
	if err != nil {
		return nil, fmt.Errorf("cycles: %w", err)
	}
	adj := map[string][]string{}
	for _, e := range dg.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return stronglyConnected(dg.Files, adj), nil
}

// stronglyConnected runs Tarjan's algorithm over nodes and reports every
// component of size > 1 and every self-loop, sorted by first element.
func stronglyConnected(nodes []string, adj map[string][]string) [][]string {
	selfLoops := map[string]bool{}
	for from, tos := range adj {
		if slices.Contains(tos, from) {
			selfLoops[from] = true
		}
	}

	type nodeInfo struct {
		index   int
		lowlink int
		onStack bool
	}
	info := map[string]*nodeInfo{}
	index := 0
	var stack []string
	var result [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		ni := &nodeInfo{index: index, lowlink: index, onStack: true}
		info[v] = ni
		index++
		stack = append(stack, v)

		for _, w := range adj[v] {
			wInfo, visited := info[w]
			if !visited {
				strongconnect(w)
				wInfo = info[w]
				if wInfo.lowlink < ni.lowlink {
					ni.lowlink = wInfo.lowlink
				}
			} else if wInfo.onStack {
				if wInfo.index < ni.lowlink {
					ni.lowlink = wInfo.index
				}
			}
		}

		if ni.lowlink == ni.index {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				info[w].onStack = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || selfLoops[scc[0]] {
				// Tarjan pops in reverse.
				slices.Reverse(scc)
				scc = append(scc, scc[0])
				result = append(result, scc)
			}
		}
	}

	for _, n := range nodes {
		if _, visited := info[n]; !visited {
			strongconnect(n)
		}
	}

	if result == nil {
		result = [][]string{}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][0] < result[j][0]
	})
	return result
}

// UnusedSymbols returns declarations no reference or alias links to.
// Modules, aliases and doc fragments are never reported.
func (g *Graph) UnusedSymbols(filter SymbolFilter, sort Sort, page Pagination) (*PagedResult[SymbolResult], error) {
	referenced, err := g.store.ReferencedTargets()
	if err != nil {
		return nil, fmt.Errorf("unused symbols: %w", err)
	}
	all, err := g.allSymbolResults(filter, sort)
	if err != nil {
		return nil, fmt.Errorf("unused symbols: %w", err)
	}

	// A re-export keeps its target alive.
	aliases, err := g.store.SymbolsByKind(store.KindAlias)
	if err != nil {
		return nil, fmt.Errorf("unused symbols: %w", err)
	}
	for _, a := range aliases {
		if a.AliasTargetID != "" {
			referenced[a.AliasTargetID] = true
		}
	}

	unused := []SymbolResult{}
	for _, sr := range all {
		switch sr.Kind {
		case store.KindModule, store.KindAlias, store.KindDocFragment:
			continue
		}
		if referenced[sr.ID] {
			continue
		}
		unused = append(unused, sr)
	}
	return paginate(unused, page), nil
}
