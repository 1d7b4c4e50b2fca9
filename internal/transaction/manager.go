package transaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Manager owns an ephemeral op buffer for one command. It is not safe for
// concurrent use.
type Manager struct {
	id     string
	fs     FS
	ops    []FileOp
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns an empty Manager committing against fsys.
func NewManager(fsys FS, opts ...Option) *Manager {
	m := &Manager{
		id:     uuid.NewString(),
		fs:     fsys,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("tx", m.id)
	return m
}

// ID identifies the transaction in logs.
func (m *Manager) ID() string { return m.id }

// Add buffers op.
func (m *Manager) Add(op FileOp) {
	m.ops = append(m.ops, op)
}

// AddAll buffers ops in order.
func (m *Manager) AddAll(ops []FileOp) {
	m.ops = append(m.ops, ops...)
}

// PendingCount returns the number of buffered ops.
func (m *Manager) PendingCount() int { return len(m.ops) }

// Preview returns the buffered ops with paths rebased, without executing.
func (m *Manager) Preview() []FileOp {
	return Rebase(m.ops)
}

// Commit executes the rebased ops in order and clears the buffer. The first
// failure stops execution and is returned as an *FSError; ops already
// applied stay applied and the buffer is kept.
func (m *Manager) Commit(ctx context.Context) error {
	ops := Rebase(m.ops)
	m.logger.Debug("transaction.commit", "ops", len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return &FSError{Op: op, Err: err}
		}
		if err := m.apply(op); err != nil {
			m.logger.Warn("transaction.failed", "op", op.String(), "applied", i, "err", err)
			return &FSError{Op: op, Err: err}
		}
	}
	m.ops = nil
	m.logger.Info("transaction.committed", "ops", len(ops))
	return nil
}

func (m *Manager) apply(op FileOp) error {
	switch op.Kind {
	case KindWrite:
		return m.fs.WriteText(op.Path, op.Content)
	case KindMove:
		return m.fs.Move(op.Path, op.Dest)
	case KindDelete:
		return m.fs.Remove(op.Path)
	case KindDeleteDirectory:
		return m.fs.RemoveAll(op.Path)
	}
	return fmt.Errorf("unknown op kind %q", op.Kind)
}
