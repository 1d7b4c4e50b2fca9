package transaction

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, files map[string]string) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return NewManager(OSFS{Root: root}), root
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

// =============================================================================
// Rebase
// =============================================================================

func TestRebase_WriteAfterMove(t *testing.T) {
	t.Parallel()
	got := Rebase([]FileOp{MoveFileOp("A", "B"), WriteFileOp("A", "new")})
	assert.Equal(t, []FileOp{MoveFileOp("A", "B"), WriteFileOp("B", "new")}, got)
}

func TestRebase_Chain(t *testing.T) {
	t.Parallel()
	got := Rebase([]FileOp{
		MoveFileOp("A", "B"),
		MoveFileOp("B", "C"),
		WriteFileOp("A", "x"),
		DeleteFileOp("B"),
	})
	assert.Equal(t, []FileOp{
		MoveFileOp("A", "B"),
		MoveFileOp("B", "C"),
		WriteFileOp("C", "x"),
		DeleteFileOp("C"),
	}, got)
}

func TestRebase_LogicalSourceMovedTwice(t *testing.T) {
	t.Parallel()
	got := Rebase([]FileOp{MoveFileOp("A", "B"), MoveFileOp("A", "C"), WriteFileOp("A", "x")})
	assert.Equal(t, MoveFileOp("B", "C"), got[1])
	assert.Equal(t, WriteFileOp("C", "x"), got[2])
}

func TestRebase_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []FileOp{MoveFileOp("A", "B"), WriteFileOp("A", "x")}
	Rebase(in)
	assert.Equal(t, "A", in[1].Path)
}

// =============================================================================
// Commit
// =============================================================================

func TestCommit_MoveThenWriteLandsAtDestination(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t, map[string]string{"A": "old"})
	m.Add(MoveFileOp("A", "B"))
	m.Add(WriteFileOp("A", "new"))
	require.Equal(t, 2, m.PendingCount())

	require.NoError(t, m.Commit(context.Background()))
	assert.False(t, exists(root, "A"))
	assert.Equal(t, "new", readFile(t, root, "B"))
	assert.Zero(t, m.PendingCount())
}

func TestCommit_CreatesParents(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t, map[string]string{"src/a.py": "x"})
	m.AddAll([]FileOp{
		WriteFileOp("deep/nested/new.py", "y"),
		MoveFileOp("src/a.py", "other/pkg/a.py"),
	})
	require.NoError(t, m.Commit(context.Background()))
	assert.Equal(t, "y", readFile(t, root, "deep/nested/new.py"))
	assert.Equal(t, "x", readFile(t, root, "other/pkg/a.py"))
}

func TestCommit_DeleteAndDeleteDirectory(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t, map[string]string{
		"gone.txt":              "x",
		"old/__pycache__/m.pyc": "",
	})
	m.Add(DeleteFileOp("gone.txt"))
	m.Add(DeleteFileOp("never-existed.txt"))
	m.Add(DeleteDirectoryOp("old"))
	require.NoError(t, m.Commit(context.Background()))
	assert.False(t, exists(root, "gone.txt"))
	assert.False(t, exists(root, "old"))
}

func TestCommit_FSErrorCarriesOp(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, nil)
	m.Add(MoveFileOp("missing.py", "dest.py"))

	err := m.Commit(context.Background())
	require.Error(t, err)
	var fsErr *FSError
	require.True(t, errors.As(err, &fsErr))
	assert.Equal(t, MoveFileOp("missing.py", "dest.py"), fsErr.Op)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, 1, m.PendingCount(), "buffer kept after failure")
}

func TestPreview_DoesNotExecute(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t, map[string]string{"A": "old"})
	m.Add(MoveFileOp("A", "B"))
	m.Add(WriteFileOp("A", "new"))

	ops := m.Preview()
	assert.Equal(t, "B", ops[1].Path)
	assert.True(t, exists(root, "A"))
	assert.Equal(t, 2, m.PendingCount())
	assert.NotEmpty(t, m.ID())
}
