package transaction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the filesystem surface a Manager commits against. Paths are
// workspace-relative; implementations create parent directories as needed.
type FS interface {
	WriteText(path, content string) error
	Move(src, dest string) error
	Remove(path string) error
	RemoveAll(path string) error
}

// OSFS is an FS rooted at a directory on disk.
type OSFS struct {
	Root string
}

func (f OSFS) abs(p string) string {
	return filepath.Join(f.Root, filepath.FromSlash(p))
}

func (f OSFS) WriteText(path, content string) error {
	abs := f.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func (f OSFS) Move(src, dest string) error {
	to := f.abs(dest)
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	return os.Rename(f.abs(src), to)
}

// Remove deletes a file. A missing file is not an error.
func (f OSFS) Remove(path string) error {
	err := os.Remove(f.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f OSFS) RemoveAll(path string) error {
	if path == "" || path == "." {
		return fmt.Errorf("refusing to remove workspace root")
	}
	return os.RemoveAll(f.abs(path))
}

// FSError reports the op whose execution failed.
type FSError struct {
	Op  FileOp
	Err error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("transaction: %s: %v", e.Op, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }
