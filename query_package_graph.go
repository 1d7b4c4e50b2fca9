package stitcher

import (
	"cmp"
	"fmt"
	"slices"
)

// PackageGraph is the package-to-package dependency graph, aggregated
// from file-level imports.
type PackageGraph struct {
	Packages []PackageNode `json:"packages"`
	Edges    []PackageEdge `json:"edges"`
}

// PackageNode represents a package in the dependency graph. Name is the
// package root directory, the directory that owns the lock file.
type PackageNode struct {
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
}

// PackageEdge represents a dependency between two packages with the
// number of file-level imports that contribute to it.
type PackageEdge struct {
	FromPackage string `json:"from"`
	ToPackage   string `json:"to"`
	ImportCount int    `json:"import_count"`
}

// PackageDependencyGraph returns the package-to-package dependency graph.
// Every file edge is attributed to the package roots of its two ends;
// imports within one package are not edges.
func (g *Graph) PackageDependencyGraph() (*PackageGraph, error) {
	dg, err := g.DependencyGraph()
	if err != nil {
		return nil, fmt.Errorf("package dependency graph: %w", err)
	}

	counts := map[string]int{}
	for _, f := range dg.Files {
		counts[g.packageName(f)]++
	}
	pg := &PackageGraph{Packages: []PackageNode{}, Edges: []PackageEdge{}}
	for name, n := range counts {
		pg.Packages = append(pg.Packages, PackageNode{Name: name, FileCount: n})
	}
	slices.SortFunc(pg.Packages, func(a, b PackageNode) int { return cmp.Compare(a.Name, b.Name) })

	type key struct{ from, to string }
	imports := map[key]int{}
	for _, e := range dg.Edges {
		k := key{g.packageName(e.From), g.packageName(e.To)}
		if k.from == k.to {
			continue
		}
		imports[k] += len(e.Reasons)
	}
	for k, n := range imports {
		pg.Edges = append(pg.Edges, PackageEdge{FromPackage: k.from, ToPackage: k.to, ImportCount: n})
	}
	slices.SortFunc(pg.Edges, func(a, b PackageEdge) int {
		return cmp.Or(cmp.Compare(a.FromPackage, b.FromPackage), cmp.Compare(a.ToPackage, b.ToPackage))
	})
	return pg, nil
}

// packageName names the package owning rel; "." is the workspace root.
func (g *Graph) packageName(rel string) string {
	if root := g.ws.PackageRoot(rel); root != "" {
		return root
	}
	return "."
}

// PackageCycles detects cycles in the package dependency graph. The shape
// of the result matches Cycles.
func (g *Graph) PackageCycles() ([][]string, error) {
	pg, err := g.PackageDependencyGraph()
	if err != nil {
		return nil, fmt.Errorf("package cycles: %w", err)
	}
	nodes := make([]string, len(pg.Packages))
	for i, p := range pg.Packages {
		nodes[i] = p.Name
	}
	adj := map[string][]string{}
	for _, e := range pg.Edges {
		adj[e.FromPackage] = append(adj[e.FromPackage], e.ToPackage)
	}
	return stronglyConnected(nodes, adj), nil
}
