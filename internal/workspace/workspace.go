// Package workspace maps a directory tree onto the logical model used by
// the index: which files exist, which module each source file defines, and
// which package owns it.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/stitcher/internal/config"
)

// SourceExt is the extension of source files understood by the index.
const SourceExt = ".py"

// InitFile is the package marker file.
const InitFile = "__init__.py"

// Workspace is rooted at an absolute directory. All paths it accepts and
// returns are workspace-relative and forward-slash separated.
type Workspace struct {
	Root   string
	Config *config.Config
	logger *slog.Logger
}

// New returns a Workspace for root. A nil cfg means defaults.
func New(root string, cfg *config.Config, logger *slog.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: not a directory: %s", abs)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{Root: abs, Config: cfg, logger: logger}, nil
}

// Abs converts a workspace-relative path to an absolute OS path.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Rel converts an absolute (or cwd-relative) OS path to a workspace path.
func (w *Workspace) Rel(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: %s is outside %s", p, w.Root)
	}
	return Normalize(rel), nil
}

// Normalize returns p as a clean forward-slash relative path.
func Normalize(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "./")
	if p == "." {
		return ""
	}
	return p
}

// Exists reports whether rel exists on disk.
func (w *Workspace) Exists(rel string) bool {
	_, err := os.Stat(w.Abs(rel))
	return err == nil
}

// ReadFile reads a workspace file.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(w.Abs(rel))
}

// IsDir reports whether rel is an existing directory.
func (w *Workspace) IsDir(rel string) bool {
	info, err := os.Stat(w.Abs(rel))
	return err == nil && info.IsDir()
}

// Discover enumerates workspace files. Inside a git checkout it asks git for
// tracked and untracked-but-not-ignored files; otherwise it walks the tree
// honoring the root .gitignore. Hidden directories, the state directory and
// configured excludes are always skipped. The result is sorted.
func (w *Workspace) Discover() ([]string, error) {
	paths, err := w.gitListFiles()
	if err != nil {
		w.logger.Debug("discover.git_unavailable", "err", err)
		paths, err = w.walkListFiles()
		if err != nil {
			return nil, err
		}
	}

	var out []string
	for _, p := range paths {
		p = Normalize(p)
		if p == "" || w.skipped(p) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	w.logger.Debug("discover.done", "files", len(out))
	return out, nil
}

// skipped reports whether a discovered path lies in a hidden or state directory
// or matches an exclude pattern.
func (w *Workspace) skipped(rel string) bool {
	segs := strings.Split(rel, "/")
	for _, s := range segs[:len(segs)-1] {
		if strings.HasPrefix(s, ".") || s == w.Config.StateDir {
			return true
		}
	}
	return w.Config.Excluded(rel)
}

func (w *Workspace) gitListFiles() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore and global excludes.
	// -z: NUL-terminated raw paths; otherwise non-ASCII names come back
	// C-quoted.
	cmd := exec.CommandContext(ctx, "git", "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	cmd.Dir = w.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, p := range strings.Split(stdout.String(), "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (w *Workspace) walkListFiles() ([]string, error) {
	gi, _ := ignore.CompileIgnoreFile(filepath.Join(w.Root, ".gitignore"))

	var paths []string
	err := filepath.WalkDir(w.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == w.Root {
			return nil
		}
		rel, err := filepath.Rel(w.Root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == w.Config.StateDir || name == "__pycache__" {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	return paths, nil
}

// ListFiles returns every regular file beneath dir, sorted, without applying
// discovery filters.
func (w *Workspace) ListFiles(dir string) ([]string, error) {
	base := w.Abs(dir)
	var out []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := w.Rel(p)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
