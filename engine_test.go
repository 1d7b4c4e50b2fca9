package stitcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jward/stitcher/internal/config"
	"github.com/jward/stitcher/internal/sidecar"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/transaction"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LockFile = "tool.lock"
	return cfg
}

// newTestEngine writes files into a temp workspace and opens an Engine on
// it. The index is not built.
func newTestEngine(t *testing.T, files map[string]string, opts ...Option) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	opts = append([]Option{WithConfig(testConfig())}, opts...)
	e, err := New(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func index(t *testing.T, e *Engine) *IndexStats {
	t.Helper()
	stats, err := e.IndexWorkspace(context.Background())
	require.NoError(t, err)
	return stats
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_DefaultDBUnderStateDir(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{"app.py": "x = 1"})
	require.NotNil(t, e.Store())
	assert.True(t, exists(root, ".stitcher/index.db"))

	// The state dir is never indexed.
	stats := index(t, e)
	assert.Equal(t, 1, stats.Added)
}

func TestNew_LoadsStitcherToml(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "stitcher.toml", "lock_file = \"custom.lock\"\nparallel = false\n")

	e, err := New(root, WithDBPath(filepath.Join(t.TempDir(), "index.db")))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "custom.lock", e.Workspace().Config.LockFile)
	assert.False(t, e.useParallel)
	assert.False(t, exists(root, ".stitcher"))
}

func TestNew_WithParallelOverridesConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	off := false
	cfg.Parallel = &off

	e, err := New(t.TempDir(), WithConfig(cfg), WithParallel(true),
		WithDBPath(filepath.Join(t.TempDir(), "index.db")))
	require.NoError(t, err)
	defer e.Close()
	assert.True(t, e.useParallel)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.LockFile = ""
	_, err := New(t.TempDir(), WithConfig(cfg))
	require.Error(t, err)
}

// =============================================================================
// Incremental indexing
// =============================================================================

func TestIndexWorkspace_SecondPassSkipsEverything(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/core.py":     "class A: pass",
		"app.py":          "from pkg.core import A\nA()",
	})

	first := index(t, e)
	assert.Equal(t, 3, first.Added)
	assert.Zero(t, first.Errors)

	second := index(t, e)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Deleted)
	assert.Equal(t, 3, second.Skipped)
}

func TestIndexWorkspace_UpdatesAndDeletes(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"a.py": "class A: pass",
		"b.py": "from a import A",
	})
	index(t, e)

	writeFile(t, root, "a.py", "class A: pass\nclass B: pass\n")
	require.NoError(t, os.Remove(filepath.Join(root, "b.py")))

	stats := index(t, e)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Deleted)

	sym, path, err := e.Store().FindSymbolByFQN("a.B")
	require.NoError(t, err)
	require.NotNil(t, sym)
	assert.Equal(t, "a.py", path)

	f, err := e.Store().FileByPath("b.py")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestIndexWorkspace_AliasRetargetRelinksUnchangedImporters(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"p/__init__.py": "from .impl import my_func\n",
		"p/impl.py":     "def my_func(): pass\n",
		"p/impl2.py":    "def my_func(): pass\n",
		"app.py":        "from p import my_func\nmy_func()\n",
	})
	index(t, e)

	writeFile(t, root, "p/__init__.py", "from .impl2 import my_func\n")
	stats := index(t, e)
	assert.Equal(t, 1, stats.Updated)

	files := func(fqn string) []string {
		usages, err := e.Graph().FindUsages(fqn)
		require.NoError(t, err)
		var out []string
		for _, u := range usages {
			out = append(out, u.FilePath)
		}
		return out
	}
	assert.Contains(t, files("p.impl2.my_func"), "app.py")
	assert.NotContains(t, files("p.impl.my_func"), "app.py")
}

func TestIndexFiles_ParseErrorIsCounted(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, map[string]string{
		"good.py":   "x = 1",
		"broken.py": "def (:\n",
	})

	stats := index(t, e)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, stats.ErrorDetails, 1)
	assert.Contains(t, stats.ErrorDetails[0], "broken.py")

	// The broken file is still marked indexed with an empty analysis.
	f, err := e.Store().FileByPath("broken.py")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, store.StatusIndexed, f.IndexingStatus)
}

func TestIndexFiles_UndecodableFileHasNoSymbols(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, map[string]string{
		"bad.py": "x = '\xff\xfe'\n",
	})

	stats := index(t, e)
	assert.Equal(t, 1, stats.Added)
	assert.Zero(t, stats.Errors)

	f, err := e.Store().FileByPath("bad.py")
	require.NoError(t, err)
	require.NotNil(t, f)
	syms, err := e.Store().SymbolsByFile(f.ID)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestIndexFiles_MissingPathIsIgnored(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, map[string]string{"a.py": "x = 1"})

	stats, err := e.IndexFiles(context.Background(), []string{"a.py", "gone.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Zero(t, stats.Errors)
}

func TestIndexFiles_AdapterChangeReindexes(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, map[string]string{"a.py": "x = 1", "b.py": "y = 2"})
	index(t, e)

	require.NoError(t, e.Store().SetMetadata(metaAdaptersHash, "stale"))
	stats := index(t, e)
	assert.Equal(t, 2, stats.Updated)
	assert.Zero(t, stats.Skipped)

	got, err := e.Store().GetMetadata(metaAdaptersHash)
	require.NoError(t, err)
	assert.Equal(t, e.registry.Hash(), got)
}

func TestIndexFiles_SerialMatchesParallel(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"p/__init__.py":        "from .impl import A",
		"p/impl.py":            "class A:\n    def run(self): pass\n",
		"p/impl.stitcher.yaml": "A: The A.\n",
		"app.py":               "from p import A\nA().run()",
	}
	serial, _ := newTestEngine(t, files, WithParallel(false))
	parallel, _ := newTestEngine(t, files, WithParallel(true))
	index(t, serial)
	index(t, parallel)

	s1, err := serial.Graph().Summary()
	require.NoError(t, err)
	s2, err := parallel.Graph().Summary()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	u1, err := serial.Graph().FindUsages("p.impl.A")
	require.NoError(t, err)
	u2, err := parallel.Graph().FindUsages("p.impl.A")
	require.NoError(t, err)
	assert.Equal(t, u1, u2)
}

// =============================================================================
// Refactor pipeline
// =============================================================================

func TestApply_RenameAcrossPackages(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"a/src/a/core.py": "class Old: pass",
		"b/src/b/app.py":  "from a.core import Old\ninstance = Old()",
	})

	res, err := e.Apply(context.Background(), MigrationSpec{RenameSymbol("a.core.Old", "a.core.New")}, false)
	require.NoError(t, err)
	assert.False(t, res.DryRun)
	assert.NotEmpty(t, res.TxID)
	assert.Len(t, res.Ops, 2)

	assert.Equal(t, "class New: pass", readFile(t, root, "a/src/a/core.py"))
	assert.Equal(t, "from a.core import New\ninstance = New()", readFile(t, root, "b/src/b/app.py"))

	// The index was refreshed after the commit.
	require.NotNil(t, res.Index)
	assert.Equal(t, 2, res.Index.Updated)
	usages, err := e.Graph().FindUsages("a.core.New")
	require.NoError(t, err)
	var inApp []int
	for _, u := range usages {
		if u.FilePath == "b/src/b/app.py" {
			inApp = append(inApp, u.Lineno)
		}
	}
	assert.Contains(t, inApp, 1)
	assert.Contains(t, inApp, 2)
}

func TestApply_MoveFileRewritesRelativeAliasImport(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"mypkg/old.py": "class A: pass",
		"mypkg/app.py": "from .old import A as X\nX()",
	})

	_, err := e.Apply(context.Background(), MigrationSpec{MoveFile("mypkg/old.py", "mypkg/new.py")}, false)
	require.NoError(t, err)

	assert.False(t, exists(root, "mypkg/old.py"))
	assert.Equal(t, "class A: pass", readFile(t, root, "mypkg/new.py"))
	assert.Equal(t, "from .new import A as X\nX()", readFile(t, root, "mypkg/app.py"))
}

func TestApply_MoveDirectoryMigratesLock(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"eng/tool.lock":       `{"version":"1.0","fingerprints":{"py://eng/src/e/core/x.py#X":{"h":"1"}}}`,
		"eng/src/e/core/x.py": "class X: pass",
	})

	_, err := e.Apply(context.Background(), MigrationSpec{MoveDirectory("eng/src/e/core", "rt/src/r/core")}, false)
	require.NoError(t, err)

	assert.False(t, exists(root, "eng/tool.lock"))
	entries, err := sidecar.ParseLock([]byte(readFile(t, root, "rt/tool.lock")))
	require.NoError(t, err)
	assert.Equal(t, map[string]sidecar.Fingerprint{"py://rt/src/r/core/x.py#X": {"h": "1"}}, entries)
}

func TestApply_DryRunMergesRenamesIntoOneWrite(t *testing.T) {
	t.Parallel()
	const src = "class Old: pass\ndef old_func(): pass"
	e, root := newTestEngine(t, map[string]string{"app.py": src})

	res, err := e.Apply(context.Background(), MigrationSpec{
		RenameSymbol("app.Old", "app.New"),
		RenameSymbol("app.old_func", "app.new_func"),
	}, true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Nil(t, res.Index)
	assert.Equal(t, []transaction.FileOp{
		transaction.WriteFileOp("app.py", "class New: pass\ndef new_func(): pass"),
	}, res.Ops)
	assert.Equal(t, src, readFile(t, root, "app.py"))
}

func TestApply_MoveThenRenameLandsAtDestination(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"a/src/a/core.py": "class Old: pass",
		"b/src/b/app.py":  "import a.core\nx = a.core.Old()",
	})

	_, err := e.Apply(context.Background(), MigrationSpec{
		MoveFile("a/src/a/core.py", "a/src/a/lib.py"),
		RenameSymbol("a.core.Old", "a.core.New"),
	}, false)
	require.NoError(t, err)

	assert.False(t, exists(root, "a/src/a/core.py"))
	assert.Equal(t, "class New: pass", readFile(t, root, "a/src/a/lib.py"))
	assert.Equal(t, "import a.lib\nx = a.lib.New()", readFile(t, root, "b/src/b/app.py"))
}

func TestApply_SymbolNotFoundLeavesTreeUntouched(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{"app.py": "class Old: pass"})

	_, err := e.Apply(context.Background(), MigrationSpec{RenameSymbol("app.Missing", "app.New")}, false)
	require.Error(t, err)
	assert.Equal(t, "class Old: pass", readFile(t, root, "app.py"))
}

func TestPlan_OrderIndependent(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, map[string]string{
		"a/src/a/core.py": "class Old: pass",
		"b/src/b/app.py":  "import a.core\nx = a.core.Old()",
	})
	index(t, e)

	rename := RenameSymbol("a.core.Old", "a.core.New")
	move := MoveFile("a/src/a/core.py", "a/src/a/lib.py")
	ab, err := e.Plan(context.Background(), MigrationSpec{rename, move})
	require.NoError(t, err)
	ba, err := e.Plan(context.Background(), MigrationSpec{move, rename})
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

// =============================================================================
// Migration scripts & baselines
// =============================================================================

func TestRunMigration(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"app.py": "class Old: pass\nclass Keep: pass\nOld()",
	})
	scripts := t.TempDir()
	writeFile(t, scripts, "001_rename.risor", `
for _, s := range symbols("app") {
	if s["kind"] == "class" && s["name"] == "Old" {
		rename_symbol(s["fqn"], "app.New")
	}
}
`)

	res, err := e.RunMigration(context.Background(), filepath.Join(scripts, "001_rename.risor"), false)
	require.NoError(t, err)
	assert.Len(t, res.Ops, 1)
	assert.Equal(t, "class New: pass\nclass Keep: pass\nNew()", readFile(t, root, "app.py"))
}

func TestRunMigration_ScriptErrorAppliesNothing(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{"app.py": "class Old: pass"})
	scripts := t.TempDir()
	writeFile(t, scripts, "bad.risor", `rename_symbol("app.Old")`)

	_, err := e.RunMigration(context.Background(), filepath.Join(scripts, "bad.risor"), false)
	require.Error(t, err)
	assert.Equal(t, "class Old: pass", readFile(t, root, "app.py"))
}

func TestRecordBaselines(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, map[string]string{
		"m.py":            "class Old:\n    def run(self): pass\n",
		"m.stitcher.yaml": "Old: The class.\n",
		"tool.lock":       `{"version":"1.0","fingerprints":{"py://m.py#Gone":{"h":"1"}}}`,
	})

	res, err := e.RecordBaselines(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Ops, 1)
	assert.Equal(t, "tool.lock", res.Ops[0].Path)

	entries, err := sidecar.ParseLock([]byte(readFile(t, root, "tool.lock")))
	require.NoError(t, err)
	assert.NotContains(t, entries, "py://m.py#Gone")
	require.Contains(t, entries, "py://m.py#Old")
	require.Contains(t, entries, "py://m.py#Old.run")

	old := entries["py://m.py#Old"]
	assert.NotEmpty(t, old[sidecar.BaselineStructureHash])
	assert.NotEmpty(t, old[sidecar.BaselineYAMLHash])
	assert.NotContains(t, entries["py://m.py#Old.run"], sidecar.BaselineYAMLHash)

	// Nothing changed, so a second run writes nothing.
	again, err := e.RecordBaselines(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, again.Ops)
}
