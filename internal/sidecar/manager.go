// Package sidecar reads and edits the per-module doc sidecars and the
// per-package lock files that accompany source files.
package sidecar

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
)

// Workspace is what the sidecar manager needs from the workspace.
type Workspace interface {
	LockWorkspace
	DocSidecarPath(source string) string
}

// Manager locates and opens sidecars.
type Manager struct {
	ws     Workspace
	logger *slog.Logger
}

// NewManager returns a Manager over ws.
func NewManager(ws Workspace, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ws: ws, logger: logger}
}

// DocPath returns the doc sidecar path of a source file.
func (m *Manager) DocPath(source string) string {
	return m.ws.DocSidecarPath(source)
}

// LockPath returns the lock file path of the package owning a source file.
func (m *Manager) LockPath(source string) string {
	return m.ws.LockPath(source)
}

// LoadDoc opens the doc sidecar of a source file. It returns nil when the
// source has no sidecar.
func (m *Manager) LoadDoc(source string) (*Doc, error) {
	p := m.DocPath(source)
	data, err := m.ws.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read doc sidecar %s: %w", p, err)
	}
	doc, err := ParseDoc(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return doc, nil
}

// NewLockSession starts a lock session bound to this manager's workspace.
func (m *Manager) NewLockSession() *LockSession {
	return NewLockSession(m.ws, m.logger)
}
