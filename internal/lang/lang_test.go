package lang

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/stitcher/internal/config"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/suri"
	"github.com/jward/stitcher/internal/workspace"
)

func newTestLayout(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), config.Default(), nil)
	require.NoError(t, err)
	return ws
}

func parsePython(t *testing.T, path, src string) *Result {
	t.Helper()
	p := NewPython(newTestLayout(t), suri.NewGenerator("py"))
	res, err := p.Parse(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return res
}

func symbolByID(res *Result, id string) *store.Symbol {
	for i := range res.Symbols {
		if res.Symbols[i].ID == id {
			return &res.Symbols[i]
		}
	}
	return nil
}

// refsAt returns references on line with the given context.
func refsAt(res *Result, line int, ctx string) []store.Reference {
	var out []store.Reference
	for _, r := range res.References {
		if r.Lineno == line && r.Context == ctx {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_DispatchAndHash(t *testing.T) {
	t.Parallel()
	ws := newTestLayout(t)
	gen := suri.NewGenerator("py")
	r := NewRegistry(NewPython(ws, gen))
	before := r.Hash()
	r.Register(NewDocSidecar(ws, gen))

	assert.Equal(t, "python", r.For("pkg/mod.py").Name())
	assert.Equal(t, "doc-sidecar", r.For("pkg/mod.stitcher.yaml").Name())
	assert.Nil(t, r.For("README.md"))
	assert.NotEqual(t, before, r.Hash())
	assert.Len(t, r.Adapters(), 2)
}

// =============================================================================
// Python declarations
// =============================================================================

func TestPython_Declarations(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "a/src/a/core.py", `"""Core module."""
import os

VERSION = "1"

class Old(Base):
    """An old class."""
    limit = 3

    def run(self, n: int = 1) -> int:
        return n

@cache
async def fetch(url):
    pass
`)
	mod := symbolByID(res, "py://a/src/a/core.py#")
	require.NotNil(t, mod)
	assert.Equal(t, store.KindModule, mod.Kind)
	assert.Equal(t, "a.core", mod.CanonicalFQN)
	assert.NotEmpty(t, mod.DocstringHash)

	cls := symbolByID(res, "py://a/src/a/core.py#Old")
	require.NotNil(t, cls)
	assert.Equal(t, store.KindClass, cls.Kind)
	assert.Equal(t, "a.core.Old", cls.CanonicalFQN)
	assert.Equal(t, "class Old(Base)", cls.SignatureText)
	assert.Equal(t, 6, cls.Lineno)
	assert.NotEmpty(t, cls.DocstringHash)

	run := symbolByID(res, "py://a/src/a/core.py#Old.run")
	require.NotNil(t, run)
	assert.Equal(t, store.KindFunction, run.Kind)
	assert.Equal(t, "Old.run", run.LogicalPath)
	assert.Equal(t, "def run(self, n: int = 1) -> int", run.SignatureText)

	attr := symbolByID(res, "py://a/src/a/core.py#Old.limit")
	require.NotNil(t, attr)
	assert.Equal(t, store.KindAttribute, attr.Kind)

	version := symbolByID(res, "py://a/src/a/core.py#VERSION")
	require.NotNil(t, version)
	assert.Equal(t, "a.core.VERSION", version.CanonicalFQN)

	fetch := symbolByID(res, "py://a/src/a/core.py#fetch")
	require.NotNil(t, fetch)
	assert.Equal(t, "async def fetch(url)", fetch.SignatureText)

	osAlias := symbolByID(res, "py://a/src/a/core.py#os")
	require.NotNil(t, osAlias)
	assert.Equal(t, store.KindAlias, osAlias.Kind)
	assert.Equal(t, "os", osAlias.AliasTargetFQN)
}

func TestPython_DefinitionReferences(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "app.py", "class Old: pass\ndef old_func(): pass")

	defs := refsAt(res, 1, store.CtxDefinition)
	require.Len(t, defs, 1)
	assert.Equal(t, "app.Old", defs[0].TargetFQN)
	assert.Equal(t, "py://app.py#Old", defs[0].TargetID)
	assert.Equal(t, 6, defs[0].ColOffset)
	assert.Equal(t, 9, defs[0].EndColOffset)

	defs = refsAt(res, 2, store.CtxDefinition)
	require.Len(t, defs, 1)
	assert.Equal(t, "app.old_func", defs[0].TargetFQN)
	assert.Equal(t, 4, defs[0].ColOffset)
}

func TestPython_SignatureHashIgnoresLocation(t *testing.T) {
	t.Parallel()
	a := parsePython(t, "m.py", "def f(x):\n    pass\n")
	b := parsePython(t, "m.py", "\n\n\ndef f(x):\n    return 1\n")
	c := parsePython(t, "m.py", "def f(x, y):\n    pass\n")
	ha := symbolByID(a, "py://m.py#f").SignatureHash
	assert.Equal(t, ha, symbolByID(b, "py://m.py#f").SignatureHash)
	assert.NotEqual(t, ha, symbolByID(c, "py://m.py#f").SignatureHash)
}

// =============================================================================
// Python imports
// =============================================================================

func TestPython_FromImport(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "b/src/b/app.py", "from a.core import Old\ninstance = Old()")

	mod := refsAt(res, 1, store.CtxImportFrom)
	require.Len(t, mod, 1)
	assert.Equal(t, "a.core", mod[0].TargetFQN)
	assert.Equal(t, store.RefImport, mod[0].Kind)
	assert.Equal(t, 5, mod[0].ColOffset)
	assert.Equal(t, 11, mod[0].EndColOffset)

	name := refsAt(res, 1, store.CtxImportName)
	require.Len(t, name, 1)
	assert.Equal(t, "a.core.Old", name[0].TargetFQN)
	assert.Equal(t, 19, name[0].ColOffset)

	alias := symbolByID(res, "py://b/src/b/app.py#Old")
	require.NotNil(t, alias)
	assert.Equal(t, store.KindAlias, alias.Kind)
	assert.Equal(t, "b.app.Old", alias.CanonicalFQN)
	assert.Equal(t, "a.core.Old", alias.AliasTargetFQN)

	uses := refsAt(res, 2, "")
	require.Len(t, uses, 1)
	assert.Equal(t, "a.core.Old", uses[0].TargetFQN)
	assert.Equal(t, store.RefSymbol, uses[0].Kind)
	assert.Equal(t, 11, uses[0].ColOffset)
	assert.Equal(t, 14, uses[0].EndColOffset)
}

func TestPython_RelativeImportWithAlias(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "mypkg/app.py", "from .old import A as X\nX()")

	mod := refsAt(res, 1, store.CtxImportFrom)
	require.Len(t, mod, 1)
	assert.Equal(t, "mypkg.old", mod[0].TargetFQN)
	assert.Equal(t, 6, mod[0].ColOffset)
	assert.Equal(t, 9, mod[0].EndColOffset)

	name := refsAt(res, 1, store.CtxImportName)
	require.Len(t, name, 1)
	assert.Equal(t, "mypkg.old.A", name[0].TargetFQN)

	alias := symbolByID(res, "py://mypkg/app.py#X")
	require.NotNil(t, alias)
	assert.Equal(t, "mypkg.old.A", alias.AliasTargetFQN)

	uses := refsAt(res, 2, "")
	require.Len(t, uses, 1)
	assert.Equal(t, "mypkg.old.A", uses[0].TargetFQN)
}

func TestPython_PackageInitRelativeImport(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "p/__init__.py", "from .impl import my_func\nfrom .. import top\n")
	alias := symbolByID(res, "py://p/__init__.py#my_func")
	require.NotNil(t, alias)
	assert.Equal(t, "p.my_func", alias.CanonicalFQN)
	assert.Equal(t, "p.impl.my_func", alias.AliasTargetFQN)

	top := symbolByID(res, "py://p/__init__.py#top")
	require.NotNil(t, top)
	assert.Equal(t, "top", top.AliasTargetFQN)
}

func TestPython_ImportStatementAndAttributeChain(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "app.py", "import a.core\nimport numpy as np\nx = a.core.Old.run()\nnp.zeros(3)\n")

	imps := refsAt(res, 1, store.CtxImport)
	require.Len(t, imps, 1)
	assert.Equal(t, "a.core", imps[0].TargetFQN)

	a := symbolByID(res, "py://app.py#a")
	require.NotNil(t, a)
	assert.Equal(t, "a", a.AliasTargetFQN)
	np := symbolByID(res, "py://app.py#np")
	require.NotNil(t, np)
	assert.Equal(t, "numpy", np.AliasTargetFQN)

	uses := refsAt(res, 3, "")
	require.Len(t, uses, 1)
	assert.Equal(t, "a.core.Old.run", uses[0].TargetFQN)
	assert.Equal(t, 4, uses[0].ColOffset)
	assert.Equal(t, 18, uses[0].EndColOffset)

	uses = refsAt(res, 4, "")
	require.Len(t, uses, 1)
	assert.Equal(t, "numpy.zeros", uses[0].TargetFQN)
}

func TestPython_LocalsShadowModuleNames(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "m.py", `from x import thing

def f(thing):
    return thing

def g():
    thing = 1
    return thing

def h():
    return thing
`)
	for _, line := range []int{4, 8} {
		assert.Empty(t, refsAt(res, line, ""), "line %d", line)
	}
	uses := refsAt(res, 11, "")
	require.Len(t, uses, 1)
	assert.Equal(t, "x.thing", uses[0].TargetFQN)
}

func TestPython_InFileUsageCarriesTargetID(t *testing.T) {
	t.Parallel()
	res := parsePython(t, "m.py", "def helper(): pass\nclass C:\n    def run(self):\n        helper()\n")
	uses := refsAt(res, 4, "")
	require.Len(t, uses, 1)
	assert.Equal(t, "m.helper", uses[0].TargetFQN)
	assert.Equal(t, "py://m.py#helper", uses[0].TargetID)
}

func TestPython_SyntaxErrorIsParseError(t *testing.T) {
	t.Parallel()
	p := NewPython(newTestLayout(t), suri.NewGenerator("py"))
	_, err := p.Parse(context.Background(), "bad.py", []byte("def broken(:\n"))
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad.py", pe.Path)
}

// =============================================================================
// Doc sidecar adapter
// =============================================================================

func TestDocSidecar_KeysBindToSymbols(t *testing.T) {
	t.Parallel()
	ws := newTestLayout(t)
	a := NewDocSidecar(ws, suri.NewGenerator("py"))
	res, err := a.Parse(context.Background(), "pkg/mod.stitcher.yaml", []byte("Old: doc\nOld.run: runs\n"))
	require.NoError(t, err)

	require.Len(t, res.Symbols, 2)
	assert.Equal(t, "py://pkg/mod.stitcher.yaml#Old.run", res.Symbols[1].ID)
	assert.Equal(t, store.KindDocFragment, res.Symbols[1].Kind)
	assert.Empty(t, res.Symbols[1].CanonicalFQN)

	var keys []string
	for _, r := range res.References {
		if r.Kind == store.RefSidecarKey {
			keys = append(keys, r.TargetFQN)
		}
	}
	assert.Equal(t, []string{"pkg.mod.Old", "pkg.mod.Old.run"}, keys)
	assert.Equal(t, store.RefDocBinding, res.References[0].Kind)
	assert.Equal(t, "pkg.mod", res.References[0].TargetFQN)
}

func TestDocSidecar_InvalidYAML(t *testing.T) {
	t.Parallel()
	a := NewDocSidecar(newTestLayout(t), suri.NewGenerator("py"))
	_, err := a.Parse(context.Background(), "m.stitcher.yaml", []byte("a: [unclosed\n"))
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}
