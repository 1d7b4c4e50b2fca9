package stitcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/jward/stitcher/internal/config"
	"github.com/jward/stitcher/internal/lang"
	"github.com/jward/stitcher/internal/refactor"
	"github.com/jward/stitcher/internal/runtime"
	"github.com/jward/stitcher/internal/sidecar"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/suri"
	"github.com/jward/stitcher/internal/transaction"
	"github.com/jward/stitcher/internal/workspace"
)

// metaAdaptersHash is the metadata key holding the adapter fingerprint the
// index was built with.
const metaAdaptersHash = "adapters_hash"

// racyWindow bounds the stat fast path: a file modified this close to its
// last indexing may have changed again within the same timestamp tick, so
// its content hash is checked instead.
const racyWindow = time.Second

// Engine orchestrates the stitcher pipeline: file discovery, change
// detection, extraction through language adapters, linking, and the
// refactor plan/apply cycle.
type Engine struct {
	ws       *workspace.Workspace
	store    *store.Store
	registry *lang.Registry
	logger   *slog.Logger

	cfg    *config.Config
	dbPath string

	// useParallel enables the parallel parse phase. parallelOpt holds an
	// explicit WithParallel value, which wins over the config.
	useParallel bool
	parallelOpt *bool
	workers     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithParallel controls parallel parsing. When true (the config default),
// IndexFiles parses changed files on a bounded worker pool and commits
// every analysis in one store transaction. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.parallelOpt = &parallel
	}
}

// WithConfig uses cfg instead of loading stitcher.toml / pyproject.toml.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithDBPath places the index database at path instead of
// <root>/<state_dir>/index.db.
func WithDBPath(path string) Option {
	return func(e *Engine) {
		e.dbPath = path
	}
}

// New opens an Engine for the workspace at root, creating the index
// database when needed.
func New(root string, opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if e.cfg == nil {
		cfg, err := config.Load(root)
		if err != nil {
			return nil, fmt.Errorf("stitcher: %w", err)
		}
		e.cfg = cfg
	} else if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stitcher: %w", err)
	}
	e.useParallel = e.cfg.UseParallel()
	if e.parallelOpt != nil {
		e.useParallel = *e.parallelOpt
	}
	e.workers = e.cfg.Workers

	ws, err := workspace.New(root, e.cfg, e.logger)
	if err != nil {
		return nil, fmt.Errorf("stitcher: %w", err)
	}
	e.ws = ws

	if e.dbPath == "" {
		stateDir := ws.Abs(e.cfg.StateDir)
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, fmt.Errorf("stitcher: create state dir: %w", err)
		}
		e.dbPath = filepath.Join(stateDir, "index.db")
	}
	s, err := store.NewStore(e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("stitcher: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("stitcher: migrate: %w", err)
	}
	e.store = s

	gen := suri.NewGenerator(e.cfg.Scheme)
	e.registry = lang.NewRegistry(lang.NewPython(ws, gen), lang.NewDocSidecar(ws, gen))
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Workspace returns the workspace the engine is rooted at.
func (e *Engine) Workspace() *workspace.Workspace {
	return e.ws
}

// Graph returns the read façade over the index.
func (e *Engine) Graph() *Graph {
	return &Graph{store: e.store, ws: e.ws}
}

// IndexStats summarizes one indexing pass.
type IndexStats struct {
	Added        int             `json:"added"`
	Updated      int             `json:"updated"`
	Deleted      int             `json:"deleted"`
	Skipped      int             `json:"skipped"`
	Errors       int             `json:"errors"`
	ErrorDetails []string        `json:"error_details,omitempty"`
	Links        store.LinkStats `json:"links"`
}

func (st *IndexStats) fail(path string, err error) {
	st.Errors++
	st.ErrorDetails = append(st.ErrorDetails, fmt.Sprintf("%s: %v", path, err))
}

// FileReadError reports a discovered file that could not be read.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// IndexWorkspace discovers the workspace files and indexes them.
func (e *Engine) IndexWorkspace(ctx context.Context) (*IndexStats, error) {
	paths, err := e.ws.Discover()
	if err != nil {
		return nil, fmt.Errorf("stitcher: discover: %w", err)
	}
	return e.IndexFiles(ctx, paths)
}

// parseJob is a file whose content changed and must be re-extracted.
type parseJob struct {
	path    string
	fileID  int64
	content []byte
	adapter lang.Adapter // nil for files no adapter handles or that failed to decode
}

// IndexFiles brings the index in line with paths, the complete set of
// workspace-relative files. Unchanged files are skipped, changed files are
// re-extracted, and stored files missing from paths are deleted. Linking
// runs once at the end.
//
// Errors on individual files are counted in the stats and logged;
// only store failures abort the pass.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) (*IndexStats, error) {
	if err := e.checkAdapters(); err != nil {
		return nil, err
	}

	stats := &IndexStats{}
	seen := make(map[string]bool, len(paths))

	// ---- Phase A: serial stat, hash and sync ----
	var jobs []parseJob
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rel := workspace.Normalize(p)
		job, ok, err := e.prepareFile(rel, stats, seen)
		if err != nil {
			return stats, err
		}
		if ok {
			jobs = append(jobs, job)
		}
	}

	// ---- Phase B: parse ----
	var results []*lang.Result
	if e.useParallel {
		results = e.parseParallel(ctx, jobs, stats)
	} else {
		results = e.parseSerial(ctx, jobs, stats)
	}

	// ---- Phase C: serial commit ----
	batch := make([]store.FileAnalysis, len(jobs))
	for i, job := range jobs {
		batch[i] = store.FileAnalysis{FileID: job.fileID}
		if res := results[i]; res != nil {
			batch[i].Symbols = res.Symbols
			batch[i].References = res.References
		}
	}
	if err := e.store.CommitBatch(batch); err != nil {
		return stats, fmt.Errorf("stitcher: commit analyses: %w", err)
	}

	if err := e.prune(seen, stats); err != nil {
		return stats, err
	}

	links, err := e.store.ResolveMissingLinks()
	if err != nil {
		return stats, fmt.Errorf("stitcher: link: %w", err)
	}
	stats.Links = links

	e.logger.Info("index.done",
		"added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted,
		"skipped", stats.Skipped, "errors", stats.Errors, "unresolved", links.Unresolved)
	return stats, nil
}

// prepareFile does the phase A work for one file. It reports ok=false when
// there is nothing to parse.
func (e *Engine) prepareFile(rel string, stats *IndexStats, seen map[string]bool) (parseJob, bool, error) {
	info, err := os.Stat(e.ws.Abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return parseJob{}, false, nil
	}
	if err != nil {
		e.readFailed(stats, rel, err)
		return parseJob{}, false, nil
	}
	if info.IsDir() {
		return parseJob{}, false, nil
	}
	seen[rel] = true

	existing, err := e.store.FileByPath(rel)
	if err != nil {
		return parseJob{}, false, fmt.Errorf("stitcher: %w", err)
	}
	mtime, size := info.ModTime().UnixNano(), info.Size()
	if existing != nil && existing.IndexingStatus == store.StatusIndexed &&
		existing.LastMtime == mtime && existing.LastSize == size &&
		info.ModTime().Before(existing.LastIndexed.Add(-racyWindow)) {
		stats.Skipped++
		return parseJob{}, false, nil
	}

	content, err := e.ws.ReadFile(rel)
	if err != nil {
		e.readFailed(stats, rel, err)
		return parseJob{}, false, nil
	}
	id, changed, err := e.store.SyncFile(rel, store.ContentHash(content), mtime, size)
	if err != nil {
		return parseJob{}, false, fmt.Errorf("stitcher: %w", err)
	}
	if !changed && existing != nil && existing.IndexingStatus == store.StatusIndexed {
		stats.Skipped++
		return parseJob{}, false, nil
	}
	if existing == nil {
		stats.Added++
	} else {
		stats.Updated++
	}

	job := parseJob{path: rel, fileID: id, content: content}
	if !utf8.Valid(content) {
		e.logger.Debug("index.undecodable", "path", rel, "err", lang.ErrDecode)
		return job, true, nil
	}
	job.adapter = e.registry.For(rel)
	return job, true, nil
}

func (e *Engine) readFailed(stats *IndexStats, rel string, err error) {
	ferr := &FileReadError{Path: rel, Err: err}
	e.logger.Warn("index.read_failed", "path", rel, "err", err)
	stats.fail(rel, ferr)
}

// parseOne runs the adapter for job. A parse failure is counted and yields
// an empty analysis so the file is still marked indexed.
func (e *Engine) parseOne(ctx context.Context, job parseJob) (*lang.Result, error) {
	if job.adapter == nil {
		return nil, nil
	}
	res, err := job.adapter.Parse(ctx, job.path, job.content)
	if err != nil {
		var perr *lang.ParseError
		if !errors.As(err, &perr) {
			err = &lang.ParseError{Path: job.path, Err: err}
		}
		return nil, err
	}
	return res, nil
}

func (e *Engine) parseSerial(ctx context.Context, jobs []parseJob, stats *IndexStats) []*lang.Result {
	results := make([]*lang.Result, len(jobs))
	for i, job := range jobs {
		res, err := e.parseOne(ctx, job)
		if err != nil {
			e.logger.Warn("index.parse_failed", "path", job.path, "err", err)
			stats.fail(job.path, err)
			continue
		}
		results[i] = res
	}
	return results
}

// prune deletes stored files that were not part of this pass.
func (e *Engine) prune(seen map[string]bool, stats *IndexStats) error {
	files, err := e.store.AllFiles()
	if err != nil {
		return fmt.Errorf("stitcher: %w", err)
	}
	for _, f := range files {
		if seen[f.Path] {
			continue
		}
		if err := e.store.DeleteFile(f.ID); err != nil {
			return fmt.Errorf("stitcher: delete %s: %w", f.Path, err)
		}
		stats.Deleted++
	}
	return nil
}

// checkAdapters marks every file dirty when the registered adapters differ
// from the ones the index was built with.
func (e *Engine) checkAdapters() error {
	current := e.registry.Hash()
	stored, err := e.store.GetMetadata(metaAdaptersHash)
	if err != nil {
		return fmt.Errorf("stitcher: %w", err)
	}
	if stored == current {
		return nil
	}
	if stored != "" {
		e.logger.Info("index.adapters_changed")
		if err := e.store.MarkAllDirty(); err != nil {
			return fmt.Errorf("stitcher: %w", err)
		}
	}
	if err := e.store.SetMetadata(metaAdaptersHash, current); err != nil {
		return fmt.Errorf("stitcher: %w", err)
	}
	return nil
}

// refactorContext wires a planning context over the current index.
func (e *Engine) refactorContext() *refactor.Context {
	return refactor.NewContext(e.ws, e.store, e.logger)
}

// Plan turns spec into ordered file operations against the current index.
// It does not touch the filesystem.
func (e *Engine) Plan(ctx context.Context, spec refactor.MigrationSpec) ([]transaction.FileOp, error) {
	return refactor.NewPlanner(e.refactorContext(), nil).Plan(ctx, spec)
}

// ApplyResult describes a planned or committed refactor.
type ApplyResult struct {
	TxID   string               `json:"tx"`
	DryRun bool                 `json:"dry_run"`
	Ops    []transaction.FileOp `json:"ops"`
	Index  *IndexStats          `json:"index,omitempty"`
}

// Apply refreshes the index, plans spec and either previews the resulting
// operations (dryRun) or commits them and re-indexes so the index reflects
// the new tree.
func (e *Engine) Apply(ctx context.Context, spec refactor.MigrationSpec, dryRun bool) (*ApplyResult, error) {
	if _, err := e.IndexWorkspace(ctx); err != nil {
		return nil, err
	}
	ops, err := e.Plan(ctx, spec)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, ops, dryRun)
}

func (e *Engine) commit(ctx context.Context, ops []transaction.FileOp, dryRun bool) (*ApplyResult, error) {
	tm := transaction.NewManager(transaction.OSFS{Root: e.ws.Root}, transaction.WithLogger(e.logger))
	tm.AddAll(ops)
	res := &ApplyResult{TxID: tm.ID(), DryRun: dryRun, Ops: tm.Preview()}
	if dryRun || len(ops) == 0 {
		return res, nil
	}
	if err := tm.Commit(ctx); err != nil {
		return res, err
	}
	stats, err := e.IndexWorkspace(ctx)
	if err != nil {
		return res, err
	}
	res.Index = stats
	return res, nil
}

// RunMigration evaluates the migration script at path and applies the spec
// it builds. Scripts can import sibling .risor files.
func (e *Engine) RunMigration(ctx context.Context, path string, dryRun bool) (*ApplyResult, error) {
	if _, err := e.IndexWorkspace(ctx); err != nil {
		return nil, err
	}
	rt := runtime.NewRuntime(e.store, filepath.Dir(path), runtime.WithRuntimeLogger(e.logger))
	spec, err := rt.RunScript(ctx, filepath.Base(path), nil)
	if err != nil {
		return nil, err
	}
	e.logger.Info("migration.loaded", "script", path, "ops", len(spec))
	return e.Apply(ctx, spec, dryRun)
}

// RecordBaselines fingerprints every indexed declaration into its package's
// lock file and purges lock entries whose symbol no longer exists.
func (e *Engine) RecordBaselines(ctx context.Context, dryRun bool) (*ApplyResult, error) {
	if _, err := e.IndexWorkspace(ctx); err != nil {
		return nil, err
	}
	mgr := sidecar.NewManager(e.ws, e.logger)
	session := mgr.NewLockSession()

	syms, err := e.store.SymbolsByKind("")
	if err != nil {
		return nil, err
	}
	files, err := e.store.AllFiles()
	if err != nil {
		return nil, err
	}
	paths := make(map[int64]string, len(files))
	for _, f := range files {
		paths[f.ID] = f.Path
	}

	live := make(map[string]bool)
	locks := make(map[string]bool)
	docs := make(map[string]*sidecar.Doc)
	for _, sym := range syms {
		path := paths[sym.FileID]
		if sym.Kind == store.KindAlias || sym.Kind == store.KindDocFragment ||
			sym.LogicalPath == "" || !workspace.IsSourceFile(path) {
			continue
		}
		doc, ok := docs[path]
		if !ok {
			if doc, err = mgr.LoadDoc(path); err != nil {
				return nil, err
			}
			docs[path] = doc
		}
		fp := sidecar.Fingerprint{
			sidecar.BaselineStructureHash: sym.SignatureHash,
			sidecar.BaselineSignatureText: sym.SignatureText,
		}
		if doc != nil {
			if v, ok := doc.Get(sym.LogicalPath); ok {
				fp[sidecar.BaselineYAMLHash] = sidecar.YAMLContentHash(v)
			}
		}
		if err := session.RecordFreshState(sym.ID, fp); err != nil {
			return nil, err
		}
		live[sym.ID] = true
		locks[e.ws.LockPath(path)] = true
	}

	for lockPath := range locks {
		entries, err := session.Entries(lockPath)
		if err != nil {
			return nil, err
		}
		for id := range entries {
			if live[id] {
				continue
			}
			if err := session.RecordPurge(id); err != nil {
				return nil, err
			}
		}
	}

	var ops transaction.OpList
	if _, err := session.CommitToTransaction(&ops); err != nil {
		return nil, err
	}
	e.logger.Info("lock.baselines", "symbols", len(live), "locks", len(locks))
	return e.commit(ctx, ops, dryRun)
}
