package workspace

import (
	"path"
	"strings"
)

// IsSourceFile reports whether rel is a source module.
func IsSourceFile(rel string) bool {
	return strings.HasSuffix(rel, SourceExt)
}

// IsDocSidecar reports whether rel is a doc sidecar.
func (w *Workspace) IsDocSidecar(rel string) bool {
	return strings.HasSuffix(rel, w.Config.DocSuffix)
}

// IsLockFile reports whether rel is a package lock file.
func (w *Workspace) IsLockFile(rel string) bool {
	return path.Base(rel) == w.Config.LockFile
}

// SourceRoot returns the import root that governs rel: the nearest
// ancestor directory matching a configured source root, else the nearest
// ancestor named "src", else the workspace root ("").
func (w *Workspace) SourceRoot(rel string) string {
	dir := path.Dir(rel)
	if len(w.Config.SourceRoots) > 0 {
		for d := dir; d != "." && d != "/"; d = path.Dir(d) {
			if w.Config.IsSourceRoot(d) {
				return d
			}
		}
	}
	segs := strings.Split(rel, "/")
	for i := len(segs) - 2; i >= 0; i-- {
		if segs[i] == "src" {
			return strings.Join(segs[:i+1], "/")
		}
	}
	return ""
}

// relToRoot strips root (a directory) from rel.
func relToRoot(rel, root string) string {
	if root == "" {
		return rel
	}
	return strings.TrimPrefix(strings.TrimPrefix(rel, root), "/")
}

// ModuleFQN returns the dotted module name defined by the source file rel,
// e.g. "a/src/a/core.py" -> "a.core" and "p/__init__.py" -> "p".
func (w *Workspace) ModuleFQN(rel string) string {
	local := strings.TrimSuffix(relToRoot(rel, w.SourceRoot(rel)), SourceExt)
	segs := strings.Split(local, "/")
	if segs[len(segs)-1] == "__init__" {
		segs = segs[:len(segs)-1]
	}
	return strings.Join(segs, ".")
}

// DirFQN returns the dotted package name of directory dir.
func (w *Workspace) DirFQN(dir string) string {
	root := w.SourceRoot(dir + "/" + InitFile)
	return strings.ReplaceAll(relToRoot(dir, root), "/", ".")
}

// IsPackageInit reports whether rel is a package marker module.
func IsPackageInit(rel string) bool {
	return path.Base(rel) == InitFile
}

// PackageRoot returns the directory owning rel's lock file: the deeper of
// the nearest ancestor containing a pyproject.toml and the parent of a "src"
// import root. The workspace root ("") is the fallback.
func (w *Workspace) PackageRoot(rel string) string {
	best := ""
	if sr := w.SourceRoot(rel); sr != "" && path.Base(sr) == "src" {
		best = parentDir(sr)
	}
	for d := path.Dir(rel); d != "." && d != "/"; d = path.Dir(d) {
		if len(d) <= len(best) {
			break
		}
		if w.Exists(d + "/pyproject.toml") {
			best = d
			break
		}
	}
	return best
}

// LockPath returns the lock file path for the package owning rel.
func (w *Workspace) LockPath(rel string) string {
	return joinRel(w.PackageRoot(rel), w.Config.LockFile)
}

// DocSidecarPath returns the doc sidecar path for source file rel.
func (w *Workspace) DocSidecarPath(rel string) string {
	return strings.TrimSuffix(rel, SourceExt) + w.Config.DocSuffix
}

// SourceForDocSidecar returns the source file a doc sidecar belongs to.
func (w *Workspace) SourceForDocSidecar(rel string) string {
	return strings.TrimSuffix(rel, w.Config.DocSuffix) + SourceExt
}

func parentDir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Ancestors returns the directories between root (exclusive) and dir
// (inclusive), outermost first. An empty root means the workspace root.
func Ancestors(root, dir string) []string {
	if root != "" && !strings.HasPrefix(dir, root+"/") {
		return nil
	}
	var out []string
	for d := dir; d != "" && d != root; d = parentDir(d) {
		out = append([]string{d}, out...)
	}
	return out
}

// UnderDir reports whether rel equals dir or lies beneath it.
func UnderDir(rel, dir string) bool {
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// Rebase moves rel from under oldDir to under newDir.
func Rebase(rel, oldDir, newDir string) string {
	if rel == oldDir {
		return newDir
	}
	return newDir + strings.TrimPrefix(rel, oldDir)
}
