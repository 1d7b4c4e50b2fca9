package sidecar

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jward/stitcher/internal/suri"
	"github.com/jward/stitcher/internal/transaction"
)

// LockWorkspace is what a LockSession needs from the workspace.
type LockWorkspace interface {
	ReadFile(rel string) ([]byte, error)
	LockPath(rel string) string
}

type lockState struct {
	entries map[string]Fingerprint
	existed bool
	dirty   bool
}

// LockSession buffers lock file mutations for one command. Lock files are
// loaded lazily and only written through CommitToTransaction.
type LockSession struct {
	ws     LockWorkspace
	locks  map[string]*lockState
	logger *slog.Logger
}

// NewLockSession returns an empty session.
func NewLockSession(ws LockWorkspace, logger *slog.Logger) *LockSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockSession{ws: ws, locks: make(map[string]*lockState), logger: logger}
}

// load returns the buffered state of lockPath, reading it on first access.
// An unparseable lock file is treated as empty.
func (s *LockSession) load(lockPath string) (*lockState, error) {
	if st, ok := s.locks[lockPath]; ok {
		return st, nil
	}
	st := &lockState{entries: make(map[string]Fingerprint)}
	data, err := s.ws.ReadFile(lockPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read lock %s: %w", lockPath, err)
	default:
		st.existed = true
		entries, err := ParseLock(data)
		if err != nil {
			s.logger.Warn("lock.parse_failed", "path", lockPath, "err", err)
		} else {
			st.entries = entries
		}
	}
	s.locks[lockPath] = st
	return st, nil
}

func (s *LockSession) lockFor(raw string) (*lockState, error) {
	id, err := suri.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.load(s.ws.LockPath(id.Path))
}

// Get returns the fingerprint recorded for a SURI.
func (s *LockSession) Get(raw string) (Fingerprint, bool, error) {
	st, err := s.lockFor(raw)
	if err != nil {
		return nil, false, err
	}
	fp, ok := st.entries[raw]
	return fp, ok, nil
}

// Entries returns a copy of the entries of the lock at lockPath.
func (s *LockSession) Entries(lockPath string) (map[string]Fingerprint, error) {
	st, err := s.load(lockPath)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Fingerprint, len(st.entries))
	for k, v := range st.entries {
		out[k] = v
	}
	return out, nil
}

// RecordFreshState stores fp as the fingerprint of a SURI.
func (s *LockSession) RecordFreshState(raw string, fp Fingerprint) error {
	st, err := s.lockFor(raw)
	if err != nil {
		return err
	}
	if old, ok := st.entries[raw]; ok && old.Equal(fp) {
		return nil
	}
	st.entries[raw] = fp
	st.dirty = true
	return nil
}

// RecordRelink moves the entry of oldSURI to newSURI, across lock files
// when the two live in different packages. A missing entry is a no-op.
func (s *LockSession) RecordRelink(oldSURI, newSURI string) error {
	if oldSURI == newSURI {
		return nil
	}
	src, err := s.lockFor(oldSURI)
	if err != nil {
		return err
	}
	fp, ok := src.entries[oldSURI]
	if !ok {
		return nil
	}
	dst, err := s.lockFor(newSURI)
	if err != nil {
		return err
	}
	delete(src.entries, oldSURI)
	src.dirty = true
	dst.entries[newSURI] = fp
	dst.dirty = true
	return nil
}

// RecordPurge drops the entry of a SURI.
func (s *LockSession) RecordPurge(raw string) error {
	st, err := s.lockFor(raw)
	if err != nil {
		return err
	}
	if _, ok := st.entries[raw]; ok {
		delete(st.entries, raw)
		st.dirty = true
	}
	return nil
}

// RelinkFile re-keys every entry of a source file that moved to newPath.
func (s *LockSession) RelinkFile(oldPath, newPath string) error {
	return s.relinkWhere(oldPath, func(id suri.SURI) (string, bool) {
		if id.Path != oldPath {
			return "", false
		}
		id.Path = newPath
		return id.String(), true
	})
}

// RelinkFragment re-keys the entries of path whose fragment equals oldFrag
// or lies under it.
func (s *LockSession) RelinkFragment(path, oldFrag, newFrag string) error {
	return s.relinkWhere(path, func(id suri.SURI) (string, bool) {
		if id.Path != path {
			return "", false
		}
		return suri.RebaseFragment(id.String(), oldFrag, newFrag)
	})
}

// RelinkFragments re-keys every entry of path whose fragment rename maps to
// a new fragment. All entries move at once, so swapped or chained names
// never overwrite each other.
func (s *LockSession) RelinkFragments(path string, rename func(frag string) (string, bool)) error {
	return s.relinkWhere(path, func(id suri.SURI) (string, bool) {
		if id.Path != path || id.Fragment == "" {
			return "", false
		}
		next, ok := rename(id.Fragment)
		if !ok || next == "" || next == id.Fragment {
			return "", false
		}
		id.Fragment = next
		return id.String(), true
	})
}

// MoveLock transfers every entry of the lock at oldLock into newLock,
// rebasing SURI paths under oldDir to newDir. It is used when a directory
// move carries a package root, and its lock file, along with it.
func (s *LockSession) MoveLock(oldLock, newLock, oldDir, newDir string) error {
	src, err := s.load(oldLock)
	if err != nil {
		return err
	}
	if len(src.entries) == 0 {
		return nil
	}
	dst, err := s.load(newLock)
	if err != nil {
		return err
	}
	for k, fp := range src.entries {
		key := k
		if id, err := suri.Parse(k); err == nil && underDir(id.Path, oldDir) {
			id.Path = newDir + strings.TrimPrefix(id.Path, oldDir)
			key = id.String()
		}
		dst.entries[key] = fp
	}
	src.entries = make(map[string]Fingerprint)
	src.dirty, dst.dirty = true, true
	s.logger.Debug("lock.moved", "from", oldLock, "to", newLock)
	return nil
}

func underDir(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

func (s *LockSession) relinkWhere(path string, rewrite func(suri.SURI) (string, bool)) error {
	st, err := s.load(s.ws.LockPath(path))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(st.entries))
	for k := range st.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type move struct {
		next string
		fp   Fingerprint
	}
	var moves []move
	for _, k := range keys {
		id, err := suri.Parse(k)
		if err != nil {
			continue
		}
		if next, ok := rewrite(id); ok && next != k {
			moves = append(moves, move{next: next, fp: st.entries[k]})
			delete(st.entries, k)
			st.dirty = true
		}
	}
	for _, m := range moves {
		dst, err := s.lockFor(m.next)
		if err != nil {
			return err
		}
		dst.entries[m.next] = m.fp
		dst.dirty = true
	}
	return nil
}

// CommitToTransaction enqueues one op per touched lock file, in path order:
// a write, or a delete when the lock became empty. It returns the number of
// ops added.
func (s *LockSession) CommitToTransaction(sink transaction.Sink) (int, error) {
	paths := make([]string, 0, len(s.locks))
	for p, st := range s.locks {
		if st.dirty {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	n := 0
	for _, p := range paths {
		st := s.locks[p]
		if len(st.entries) == 0 {
			if st.existed {
				sink.Add(transaction.DeleteFileOp(p))
				n++
			}
		} else {
			content, err := EncodeLock(st.entries)
			if err != nil {
				return n, err
			}
			sink.Add(transaction.WriteFileOp(p, content))
			n++
		}
		st.dirty = false
	}
	return n, nil
}
