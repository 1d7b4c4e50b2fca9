package stitcher

import (
	"fmt"
	"iter"

	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/workspace"
)

// Graph is a stateless read façade over the index. Every query goes
// through the store, so a Graph never observes stale data after re-indexing.
type Graph struct {
	store *store.Store
	ws    *workspace.Workspace
}

// Location represents a source code position range.
type Location struct {
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// UsageLocation is one reference to a symbol.
type UsageLocation struct {
	FilePath     string `json:"file"`
	Lineno       int    `json:"line"`
	ColOffset    int    `json:"col"`
	EndLineno    int    `json:"end_line"`
	EndColOffset int    `json:"end_col"`
	RefType      string `json:"ref_type"`
	TargetFQN    string `json:"target"`
}

// FindUsages returns every reference whose resolved target is fqn or lies
// beneath it, ordered by file and position. Aliases are followed: a usage
// through a re-export resolves to the defining symbol's FQN.
func (g *Graph) FindUsages(fqn string) ([]UsageLocation, error) {
	usages, err := g.store.UsagesOf(fqn)
	if err != nil {
		return nil, fmt.Errorf("find usages: %w", err)
	}
	out := make([]UsageLocation, 0, len(usages))
	for _, u := range usages {
		out = append(out, UsageLocation{
			FilePath:     u.Path,
			Lineno:       u.Lineno,
			ColOffset:    u.ColOffset,
			EndLineno:    u.EndLineno,
			EndColOffset: u.EndColOffset,
			RefType:      u.Kind,
			TargetFQN:    u.ResolvedFQN,
		})
	}
	return out, nil
}

// IterMembers yields the declarations under pkg, flattened and ordered by
// FQN. Aliases are skipped.
func (g *Graph) IterMembers(pkg string) iter.Seq2[*Symbol, error] {
	return func(yield func(*Symbol, error) bool) {
		syms, err := g.store.SymbolsByFQNPrefix(pkg)
		if err != nil {
			yield(nil, fmt.Errorf("iter members %s: %w", pkg, err))
			return
		}
		for _, sym := range syms {
			if sym.CanonicalFQN == pkg {
				continue
			}
			if !yield(sym, nil) {
				return
			}
		}
	}
}

// ModuleHandle is an indexed module.
type ModuleHandle struct {
	Name   string
	Path   string
	Symbol *Symbol

	graph *Graph
}

// Members yields the module's declarations.
func (m *ModuleHandle) Members() iter.Seq2[*Symbol, error] {
	return m.graph.IterMembers(m.Name)
}

// GetModule returns the module named name, or nil when no indexed file
// defines it.
func (g *Graph) GetModule(name string) (*ModuleHandle, error) {
	sym, path, err := g.store.FindSymbolByFQN(name)
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}
	if sym == nil || sym.Kind != store.KindModule {
		return nil, nil
	}
	return &ModuleHandle{Name: name, Path: path, Symbol: sym, graph: g}, nil
}

// Definition resolves fqn through any alias chain and returns where the
// target is declared, or nil when it is not indexed.
func (g *Graph) Definition(fqn string) (*Location, error) {
	sym, path, err := g.store.ResolveFQN(fqn)
	if err != nil {
		return nil, fmt.Errorf("definition: %w", err)
	}
	if sym == nil {
		return nil, nil
	}
	return &Location{
		File:      path,
		StartLine: sym.Lineno,
		StartCol:  sym.ColOffset,
		EndLine:   sym.EndLineno,
		EndCol:    sym.EndColOffset,
	}, nil
}
