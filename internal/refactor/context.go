package refactor

import (
	"log/slog"

	"github.com/jward/stitcher/internal/sidecar"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/suri"
	"github.com/jward/stitcher/internal/workspace"
)

// Index is the read side of the index store used for planning.
type Index interface {
	FileByPath(path string) (*store.File, error)
	FindSymbolByFQN(fqn string) (*store.Symbol, string, error)
	SymbolsByFQNPrefix(prefix string) ([]*store.Symbol, error)
	SymbolsByKind(kind string) ([]*store.Symbol, error)
	UsagesOf(fqn string) ([]*store.Usage, error)
}

// Context carries everything operations read while planning. Planning never
// writes to disk; each plan buffers its lock mutations in a session opened
// from Sidecars.
type Context struct {
	Workspace *workspace.Workspace
	Index     Index
	Sidecars  *sidecar.Manager
	URIs      *suri.Generator
	Logger    *slog.Logger
}

// NewContext wires a Context for ws.
func NewContext(ws *workspace.Workspace, idx Index, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Workspace: ws,
		Index:     idx,
		Sidecars:  sidecar.NewManager(ws, logger),
		URIs:      suri.NewGenerator(ws.Config.Scheme),
		Logger:    logger,
	}
}
