package lang

import (
	"context"
	"strings"

	"github.com/jward/stitcher/internal/sidecar"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/suri"
)

const docAdapterVersion = "1"

// DocLayout maps doc sidecars onto the modules they document.
type DocLayout interface {
	Layout
	IsDocSidecar(rel string) bool
	SourceForDocSidecar(rel string) string
}

// DocSidecar indexes doc sidecars. Every key becomes a doc_fragment symbol
// and a sidecar_key reference to the symbol it documents; the file as a
// whole binds to its module with a doc_binding reference.
type DocSidecar struct {
	layout DocLayout
	gen    *suri.Generator
}

// NewDocSidecar returns a doc sidecar adapter.
func NewDocSidecar(layout DocLayout, gen *suri.Generator) *DocSidecar {
	return &DocSidecar{layout: layout, gen: gen}
}

func (a *DocSidecar) Name() string    { return "doc-sidecar" }
func (a *DocSidecar) Version() string { return docAdapterVersion }

func (a *DocSidecar) Handles(path string) bool {
	return a.layout.IsDocSidecar(path)
}

func (a *DocSidecar) Parse(_ context.Context, path string, content []byte) (*Result, error) {
	doc, err := sidecar.ParseDoc(content)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	module := a.layout.ModuleFQN(a.layout.SourceForDocSidecar(path))

	res := &Result{}
	res.References = append(res.References, store.Reference{
		TargetFQN: module,
		Kind:      store.RefDocBinding,
		Location:  store.Location{Lineno: 1, EndLineno: 1},
	})
	for _, e := range doc.Entries() {
		l := store.Location{Lineno: e.Line, ColOffset: e.Col, EndLineno: e.Line, EndColOffset: e.EndCol}
		name := e.Key
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		res.Symbols = append(res.Symbols, store.Symbol{
			ID:            a.gen.ForSymbol(path, e.Key),
			Name:          name,
			Kind:          store.KindDocFragment,
			Location:      l,
			LogicalPath:   e.Key,
			DocstringHash: store.ComputeDocstringHash(e.Value),
		})
		res.References = append(res.References, store.Reference{
			TargetFQN: joinFQN(module, e.Key),
			Kind:      store.RefSidecarKey,
			Location:  l,
		})
	}
	return res, nil
}
