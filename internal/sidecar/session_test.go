package sidecar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/stitcher/internal/config"
	"github.com/jward/stitcher/internal/transaction"
	"github.com/jward/stitcher/internal/workspace"
)

func newTestSession(t *testing.T, files map[string]string) *LockSession {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	cfg := config.Default()
	cfg.LockFile = "tool.lock"
	ws, err := workspace.New(root, cfg, nil)
	require.NoError(t, err)
	return NewManager(ws, nil).NewLockSession()
}

func commit(t *testing.T, s *LockSession) transaction.OpList {
	t.Helper()
	var ops transaction.OpList
	_, err := s.CommitToTransaction(&ops)
	require.NoError(t, err)
	return ops
}

func TestLockSession_RelinkFileAcrossPackages(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, map[string]string{
		"eng/tool.lock": `{"version":"1.0","fingerprints":{"py://eng/src/e/core/x.py#X":{"h":"1"}}}`,
	})

	require.NoError(t, s.RelinkFile("eng/src/e/core/x.py", "rt/src/r/core/x.py"))
	ops := commit(t, s)

	require.Len(t, ops, 2)
	assert.Equal(t, transaction.DeleteFileOp("eng/tool.lock"), ops[0])
	assert.Equal(t, transaction.KindWrite, ops[1].Kind)
	assert.Equal(t, "rt/tool.lock", ops[1].Path)

	entries, err := ParseLock([]byte(ops[1].Content))
	require.NoError(t, err)
	assert.Equal(t, map[string]Fingerprint{"py://rt/src/r/core/x.py#X": {"h": "1"}}, entries)
}

func TestLockSession_RelinkFragmentCascades(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, map[string]string{
		"tool.lock": `{"version":"1.0","fingerprints":{
			"py://app.py#Old":{"h":"1"},
			"py://app.py#Old.run":{"h":"2"},
			"py://app.py#Older":{"h":"3"}}}`,
	})
	require.NoError(t, s.RelinkFragment("app.py", "Old", "New"))
	ops := commit(t, s)
	require.Len(t, ops, 1)

	entries, err := ParseLock([]byte(ops[0].Content))
	require.NoError(t, err)
	assert.Equal(t, map[string]Fingerprint{
		"py://app.py#New":     {"h": "1"},
		"py://app.py#New.run": {"h": "2"},
		"py://app.py#Older":   {"h": "3"},
	}, entries)
}

func TestLockSession_RelinkFragmentsSwapsNames(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, map[string]string{
		"tool.lock": `{"version":"1.0","fingerprints":{
			"py://app.py#A":{"h":"1"},
			"py://app.py#B":{"h":"2"},
			"py://other.py#A":{"h":"3"}}}`,
	})
	swap := map[string]string{"A": "B", "B": "A"}
	require.NoError(t, s.RelinkFragments("app.py", func(frag string) (string, bool) {
		next, ok := swap[frag]
		return next, ok
	}))
	ops := commit(t, s)
	require.Len(t, ops, 1)

	entries, err := ParseLock([]byte(ops[0].Content))
	require.NoError(t, err)
	assert.Equal(t, map[string]Fingerprint{
		"py://app.py#B":   {"h": "1"},
		"py://app.py#A":   {"h": "2"},
		"py://other.py#A": {"h": "3"},
	}, entries)
}

func TestLockSession_FreshStateAndPurge(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	require.NoError(t, s.RecordFreshState("py://m.py#A", Fingerprint{BaselineStructureHash: "s"}))
	require.NoError(t, s.RecordFreshState("py://m.py#B", Fingerprint{BaselineStructureHash: "t"}))
	require.NoError(t, s.RecordPurge("py://m.py#B"))

	fp, ok, err := s.Get("py://m.py#A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s", fp[BaselineStructureHash])

	ops := commit(t, s)
	require.Len(t, ops, 1)
	assert.Equal(t, "tool.lock", ops[0].Path)
	assert.Equal(t, `{
  "version": "1.0",
  "fingerprints": {
    "py://m.py#A": {
      "baseline_code_structure_hash": "s"
    }
  }
}
`, ops[0].Content)

	assert.Empty(t, commit(t, s), "second commit has nothing to flush")
}

func TestLockSession_EmptyNewLockWritesNothing(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)
	require.NoError(t, s.RecordFreshState("py://m.py#A", Fingerprint{"h": "1"}))
	require.NoError(t, s.RecordPurge("py://m.py#A"))
	assert.Empty(t, commit(t, s))
}

func TestLockSession_CorruptLockIsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, map[string]string{"tool.lock": "{not json"})
	entries, err := s.Entries("tool.lock")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.RecordFreshState("py://m.py#A", Fingerprint{"h": "1"}))
	ops := commit(t, s)
	require.Len(t, ops, 1)
	assert.Equal(t, transaction.KindWrite, ops[0].Kind)
}

func TestLockSession_UnchangedStateIsClean(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, map[string]string{
		"tool.lock": `{"version":"1.0","fingerprints":{"py://m.py#A":{"h":"1"}}}`,
	})
	require.NoError(t, s.RecordFreshState("py://m.py#A", Fingerprint{"h": "1"}))
	assert.Empty(t, commit(t, s))
}

func TestYAMLContentHash(t *testing.T) {
	t.Parallel()
	assert.Len(t, YAMLContentHash("doc"), 16)
	assert.Equal(t, YAMLContentHash("doc"), YAMLContentHash("doc"))
	assert.NotEqual(t, YAMLContentHash("doc"), YAMLContentHash("doc2"))
}

func TestLockSession_MoveLockRebasesPaths(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, map[string]string{
		"old/tool.lock": `{"version":"1.0","fingerprints":{
			"py://old/src/p/a.py#A":{"h":"1"},
			"py://elsewhere.py#B":{"h":"2"}}}`,
	})
	require.NoError(t, s.MoveLock("old/tool.lock", "new/tool.lock", "old", "new"))
	ops := commit(t, s)

	require.Len(t, ops, 2)
	assert.Equal(t, transaction.DeleteFileOp("old/tool.lock"), ops[1])
	assert.Equal(t, "new/tool.lock", ops[0].Path)
	entries, err := ParseLock([]byte(ops[0].Content))
	require.NoError(t, err)
	assert.Equal(t, map[string]Fingerprint{
		"py://new/src/p/a.py#A": {"h": "1"},
		"py://elsewhere.py#B":   {"h": "2"},
	}, entries)
}
