package refactor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jward/stitcher/internal/sidecar"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/suri"
	"github.com/jward/stitcher/internal/transaction"
	"github.com/jward/stitcher/internal/workspace"
)

// ErrStaleIndex is returned when a file to rewrite no longer matches the
// content that was indexed.
var ErrStaleIndex = errors.New("file changed since it was indexed")

// Planner expands a MigrationSpec into ordered file operations. Every
// operation reads the index as it was before the spec; their effects are
// merged so that each touched source file gets exactly one write.
type Planner struct {
	c      *Context
	engine *RenameEngine
}

// NewPlanner returns a Planner. A nil Transformer means DottedNames.
func NewPlanner(c *Context, tr Transformer) *Planner {
	return &Planner{c: c, engine: NewRenameEngine(tr)}
}

// intent accumulates the primitive effects of a spec before emission.
type intent struct {
	renames    *RenameMap
	usages     map[int64]*store.Usage
	locks      *sidecar.LockSession
	docs       map[string]*sidecar.Doc    // by source path; nil when absent
	fragments  map[string]map[string]bool // source path -> renamed fragment roots
	moves      []transaction.FileOp
	moved      map[string]string // src -> dest
	movedTo    map[string]bool
	scaffold   map[string]bool // directories that need a package init file
	dirDeletes []string
}

// Analyze plans a single operation.
func (p *Planner) Analyze(ctx context.Context, op Operation) ([]transaction.FileOp, error) {
	return p.Plan(ctx, MigrationSpec{op})
}

// Plan returns the file operations for spec in emission order: sidecar and
// lock updates, then source writes, then moves, then directory deletes,
// each group sorted by path.
func (p *Planner) Plan(ctx context.Context, spec MigrationSpec) ([]transaction.FileOp, error) {
	in := &intent{
		renames:   NewRenameMap(),
		usages:    make(map[int64]*store.Usage),
		locks:     p.c.Sidecars.NewLockSession(),
		docs:      make(map[string]*sidecar.Doc),
		fragments: make(map[string]map[string]bool),
		moved:     make(map[string]string),
		movedTo:   make(map[string]bool),
		scaffold:  make(map[string]bool),
	}
	for i, op := range spec {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := op.Validate(); err != nil {
			return nil, err
		}
		p.c.Logger.Debug("planner.op", "index", i, "op", op.String())
		if err := p.expand(in, op); err != nil {
			return nil, fmt.Errorf("plan %s: %w", op, err)
		}
	}
	ops, err := p.emit(ctx, in)
	if err != nil {
		return nil, err
	}
	p.c.Logger.Info("planner.planned",
		"operations", len(spec), "renames", in.renames.Len(), "file_ops", len(ops))
	return ops, nil
}

func (p *Planner) expand(in *intent, op Operation) error {
	switch op.Kind {
	case OpRenameSymbol:
		return p.renameSymbol(in, op)
	case OpMoveFile:
		return p.moveFile(in, op, workspace.Normalize(op.From), workspace.Normalize(op.To), true)
	case OpMoveDirectory:
		return p.moveDirectory(in, op)
	case OpRenameNamespace:
		return p.renameNamespace(in, op)
	}
	return &InvalidArgumentError{Op: op, Reason: "unknown operation"}
}

// =============================================================================
// Operations
// =============================================================================

func (p *Planner) renameSymbol(in *intent, op Operation) error {
	if op.From == op.To {
		return nil
	}
	sym, symPath, err := p.c.Index.FindSymbolByFQN(op.From)
	if err != nil {
		return err
	}
	usages, err := p.c.Index.UsagesOf(op.From)
	if err != nil {
		return err
	}
	if sym == nil && len(usages) == 0 {
		return p.notFound(op.From)
	}
	in.renames.Set(op.From, op.To)
	in.addUsages(usages, nil)
	if sym != nil {
		in.addFragment(sym, symPath)
	}
	return nil
}

func (p *Planner) renameNamespace(in *intent, op Operation) error {
	if op.From == op.To {
		return nil
	}
	usages, err := p.c.Index.UsagesOf(op.From)
	if err != nil {
		return err
	}
	defs, err := p.c.Index.SymbolsByFQNPrefix(op.From)
	if err != nil {
		return err
	}
	if len(usages) == 0 && len(defs) == 0 {
		return p.notFound(op.From)
	}
	in.renames.Set(op.From, op.To)
	in.addUsages(usages, nil)

	// Doc keys are module-relative, so only a prefix inside a module moves them.
	sym, symPath, err := p.c.Index.FindSymbolByFQN(op.From)
	if err != nil || sym == nil {
		return err
	}
	in.addFragment(sym, symPath)
	return nil
}

// relinkFragments re-keys the doc sidecar and lock entries of every renamed
// declaration, nested keys included. New names come from the merged rename
// map, so the outcome matches the source rewrite whatever the op order.
func (p *Planner) relinkFragments(in *intent) error {
	paths := make([]string, 0, len(in.fragments))
	for src := range in.fragments {
		paths = append(paths, src)
	}
	sort.Strings(paths)

	for _, src := range paths {
		rename := p.fragmentRenamer(in, src, in.fragments[src])
		doc, err := in.doc(p.c, src)
		if err != nil {
			return err
		}
		if doc != nil {
			if err := doc.RenameKeys(rename); err != nil {
				return fmt.Errorf("%s: %w", p.c.Sidecars.DocPath(src), err)
			}
		}
		cur := in.currentPath(src)
		p.c.Logger.Debug("planner.relink", "module", p.c.URIs.ForModule(cur), "roots", len(in.fragments[src]))
		if err := in.locks.RelinkFragments(cur, rename); err != nil {
			return err
		}
	}
	return nil
}

// fragmentRenamer maps a module-relative fragment of src at or under one of
// roots to its new fragment.
func (p *Planner) fragmentRenamer(in *intent, src string, roots map[string]bool) func(string) (string, bool) {
	mod := p.c.Workspace.ModuleFQN(src)
	newMod := mod
	if m, ok := in.renames.Apply(mod); ok {
		newMod = m
	}
	return func(frag string) (string, bool) {
		if !underRoot(frag, roots) {
			return "", false
		}
		fqn := frag
		if mod != "" {
			fqn = mod + "." + frag
		}
		newFQN, ok := in.renames.Apply(fqn)
		if !ok {
			return "", false
		}
		next := fragmentFor(newFQN, frag, newMod, mod)
		return next, next != frag
	}
}

func underRoot(frag string, roots map[string]bool) bool {
	for f := frag; ; {
		if roots[f] {
			return true
		}
		i := strings.LastIndex(f, ".")
		if i < 0 {
			return false
		}
		f = f[:i]
	}
}

// fragmentFor derives the module-relative fragment of newFQN against the
// first module that prefixes it. A new name outside every module keeps the
// old parent and takes the new leaf.
func fragmentFor(newFQN, oldFrag string, mods ...string) string {
	for _, mod := range mods {
		if mod != "" && strings.HasPrefix(newFQN, mod+".") {
			return strings.TrimPrefix(newFQN, mod+".")
		}
	}
	leaf := newFQN
	if i := strings.LastIndex(leaf, "."); i >= 0 {
		leaf = leaf[i+1:]
	}
	if i := strings.LastIndex(oldFrag, "."); i >= 0 {
		return oldFrag[:i+1] + leaf
	}
	return leaf
}

func (p *Planner) moveFile(in *intent, op Operation, src, dest string, withDoc bool) error {
	ws := p.c.Workspace
	if src == dest {
		return nil
	}
	if !ws.Exists(src) || ws.IsDir(src) {
		return &InvalidArgumentError{Op: op, Reason: fmt.Sprintf("%s is not a file", src)}
	}
	if ws.Exists(dest) || in.movedTo[dest] {
		return &InvalidArgumentError{Op: op, Reason: fmt.Sprintf("%s already exists", dest)}
	}
	in.addMove(src, dest)
	if !workspace.IsSourceFile(src) {
		return nil
	}

	if workspace.IsSourceFile(dest) {
		oldMod, newMod := ws.ModuleFQN(src), ws.ModuleFQN(dest)
		if oldMod != "" && newMod != "" && oldMod != newMod {
			usages, err := p.c.Index.UsagesOf(oldMod)
			if err != nil {
				return err
			}
			in.renames.Set(oldMod, newMod)
			// Only names defined in src move; a package init's submodules stay.
			in.addUsages(usages, func(u *store.Usage) bool {
				return targetIn(u, func(target string) bool { return target == src })
			})
		}
	}

	if err := in.locks.RelinkFile(src, dest); err != nil {
		return err
	}
	if withDoc {
		docSrc := p.c.Sidecars.DocPath(src)
		if ws.Exists(docSrc) && !in.movedTo[p.c.Sidecars.DocPath(dest)] {
			in.addMove(docSrc, p.c.Sidecars.DocPath(dest))
		}
	}
	if ws.Config.ShouldScaffold() {
		p.scaffoldFor(in, dest)
	}
	return nil
}

func (p *Planner) moveDirectory(in *intent, op Operation) error {
	ws := p.c.Workspace
	src, dest := workspace.Normalize(op.From), workspace.Normalize(op.To)
	if src == dest {
		return nil
	}
	if !ws.IsDir(src) {
		return &InvalidArgumentError{Op: op, Reason: fmt.Sprintf("%s is not a directory", src)}
	}
	if workspace.UnderDir(dest, src) {
		return &InvalidArgumentError{Op: op, Reason: "destination lies inside the source directory"}
	}
	files, err := ws.ListFiles(src)
	if err != nil {
		return err
	}

	// Lock files carried by the move hand their entries over first, so the
	// per-file relinks below find nothing left to move for them.
	for _, f := range files {
		if ws.IsLockFile(f) {
			if err := in.locks.MoveLock(f, workspace.Rebase(f, src, dest), src, dest); err != nil {
				return err
			}
		}
	}

	oldNS, newNS := ws.DirFQN(src), ws.DirFQN(dest)
	if oldNS != "" && newNS != "" && oldNS != newNS {
		usages, err := p.c.Index.UsagesOf(oldNS)
		if err != nil {
			return err
		}
		in.renames.Set(oldNS, newNS)
		in.addUsages(usages, func(u *store.Usage) bool {
			return targetIn(u, func(target string) bool { return workspace.UnderDir(target, src) })
		})
	}

	for _, f := range files {
		if ws.IsLockFile(f) {
			continue
		}
		to := workspace.Rebase(f, src, dest)
		if workspace.IsSourceFile(f) {
			if err := p.moveFile(in, op, f, to, false); err != nil {
				return err
			}
			continue
		}
		if ws.Exists(to) || in.movedTo[to] {
			return &InvalidArgumentError{Op: op, Reason: fmt.Sprintf("%s already exists", to)}
		}
		in.addMove(f, to)
	}
	in.dirDeletes = append(in.dirDeletes, src)
	return nil
}

// scaffoldFor marks the package directories between dest's import root and
// its directory when that directory does not exist yet.
func (p *Planner) scaffoldFor(in *intent, dest string) {
	ws := p.c.Workspace
	dir := path.Dir(dest)
	if dir == "." || ws.IsDir(dir) {
		return
	}
	for _, d := range workspace.Ancestors(ws.SourceRoot(dest), dir) {
		in.scaffold[d] = true
	}
}

func (p *Planner) notFound(fqn string) error {
	syms, err := p.c.Index.SymbolsByKind("")
	if err != nil {
		return err
	}
	var names []string
	for _, s := range syms {
		if s.Kind != store.KindAlias && s.CanonicalFQN != "" {
			names = append(names, s.CanonicalFQN)
		}
	}
	return &SymbolNotFoundError{FQN: fqn, Suggestions: suggest(fqn, names)}
}

// targetIn reports whether a usage's linked target lives in a file matching
// keep. Unlinked usages match, since only their FQN ties them to the file.
func targetIn(u *store.Usage, keep func(path string) bool) bool {
	if u.TargetID == "" {
		return true
	}
	id, err := suri.Parse(u.TargetID)
	if err != nil {
		return false
	}
	return keep(id.Path)
}

// =============================================================================
// Intent bookkeeping
// =============================================================================

func (in *intent) addUsages(usages []*store.Usage, keep func(*store.Usage) bool) {
	for _, u := range usages {
		if u.Kind == store.RefSidecarKey || u.Kind == store.RefDocBinding {
			continue
		}
		if keep != nil && !keep(u) {
			continue
		}
		in.usages[u.ID] = u
	}
}

// addFragment records a renamed declaration whose doc keys and lock entries
// follow the rename.
func (in *intent) addFragment(sym *store.Symbol, symPath string) {
	if sym.Kind == store.KindModule || sym.Kind == store.KindAlias || sym.LogicalPath == "" {
		return
	}
	if in.fragments[symPath] == nil {
		in.fragments[symPath] = make(map[string]bool)
	}
	in.fragments[symPath][sym.LogicalPath] = true
}

func (in *intent) addMove(src, dest string) {
	in.moves = append(in.moves, transaction.MoveFileOp(src, dest))
	in.moved[src] = dest
	in.movedTo[dest] = true
}

// currentPath returns where a source file will be once planned moves apply.
func (in *intent) currentPath(p string) string {
	if d, ok := in.moved[p]; ok {
		return d
	}
	return p
}

func (in *intent) doc(c *Context, source string) (*sidecar.Doc, error) {
	if d, ok := in.docs[source]; ok {
		return d, nil
	}
	d, err := c.Sidecars.LoadDoc(source)
	if err != nil {
		return nil, err
	}
	in.docs[source] = d
	return d, nil
}

// =============================================================================
// Emission
// =============================================================================

func (p *Planner) emit(ctx context.Context, in *intent) ([]transaction.FileOp, error) {
	if err := p.relinkFragments(in); err != nil {
		return nil, err
	}
	var sidecars transaction.OpList
	for src, doc := range in.docs {
		if doc == nil || !doc.Dirty() {
			continue
		}
		content, err := doc.Bytes()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.c.Sidecars.DocPath(src), err)
		}
		sidecars.Add(transaction.WriteFileOp(p.c.Sidecars.DocPath(src), string(content)))
	}
	if _, err := in.locks.CommitToTransaction(&sidecars); err != nil {
		return nil, err
	}
	sortByPath(sidecars)

	writes, err := p.rewrite(ctx, in)
	if err != nil {
		return nil, err
	}
	for dir := range in.scaffold {
		marker := dir + "/" + workspace.InitFile
		if !p.c.Workspace.Exists(marker) && !in.movedTo[marker] {
			writes = append(writes, transaction.WriteFileOp(marker, ""))
		}
	}
	sortByPath(writes)

	moves := append([]transaction.FileOp(nil), in.moves...)
	sortByPath(moves)

	dirs := append([]string(nil), in.dirDeletes...)
	sort.Strings(dirs)

	out := make([]transaction.FileOp, 0, len(sidecars)+len(writes)+len(moves)+len(dirs))
	out = append(out, sidecars...)
	out = append(out, writes...)
	out = append(out, moves...)
	for _, d := range dirs {
		out = append(out, transaction.DeleteDirectoryOp(d))
	}
	return out, nil
}

// rewrite runs the rename engine once per touched file with the merged map.
func (p *Planner) rewrite(ctx context.Context, in *intent) ([]transaction.FileOp, error) {
	byFile := make(map[string][]*store.Usage)
	for _, u := range in.usages {
		byFile[u.Path] = append(byFile[u.Path], u)
	}
	paths := make([]string, 0, len(byFile))
	for p := range byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []transaction.FileOp
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := p.c.Workspace.ReadFile(rel)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		f, err := p.c.Index.FileByPath(rel)
		if err != nil {
			return nil, err
		}
		if f != nil && f.ContentHash != store.ContentHash(data) {
			return nil, fmt.Errorf("%s: %w", rel, ErrStaleIndex)
		}
		content := string(data)
		next, err := p.engine.Rename(content, byFile[rel], in.renames)
		if err != nil {
			return nil, fmt.Errorf("rename in %s: %w", rel, err)
		}
		if next != content {
			out = append(out, transaction.WriteFileOp(rel, next))
		}
	}
	return out, nil
}

func sortByPath(ops []transaction.FileOp) {
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })
}
