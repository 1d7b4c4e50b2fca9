package lang

import (
	"context"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/suri"
)

const pythonAdapterVersion = "3"

// Python extracts module, class, function, attribute and import-alias
// declarations from Python source with tree-sitter, plus import and usage
// references bound late by FQN.
type Python struct {
	layout Layout
	gen    *suri.Generator
}

// NewPython returns a Python adapter.
func NewPython(layout Layout, gen *suri.Generator) *Python {
	return &Python{layout: layout, gen: gen}
}

func (p *Python) Name() string    { return "python" }
func (p *Python) Version() string { return pythonAdapterVersion }

func (p *Python) Handles(path string) bool {
	return strings.HasSuffix(path, ".py")
}

// Parse implements Adapter. Source with syntax errors is rejected.
func (p *Python) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("syntax error near line %d", firstErrorLine(root))}
	}

	x := newPyExtractor(p, path, content)
	x.declareModule(root)
	x.walk(root, nil)
	return &Result{Symbols: x.symbols, References: x.refs}, nil
}

func firstErrorLine(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() {
			return firstErrorLine(c)
		}
	}
	return int(n.StartPoint().Row) + 1
}

// binding is what a local name refers to. id is set for in-file declarations.
type binding struct {
	fqn string
	id  string
}

// frame holds function-local names. An empty fqn marks a plain local that
// shadows module bindings.
type frame struct {
	parent *frame
	names  map[string]string
}

type pyExtractor struct {
	path    string
	module  string
	pkg     string
	src     []byte
	gen     *suri.Generator
	symbols []store.Symbol
	refs    []store.Reference

	frags    map[string]bool
	byFQN    map[string]string
	bindings map[string]binding
	claimed  map[uint32]bool // start bytes of identifiers already emitted
}

func newPyExtractor(p *Python, relPath string, src []byte) *pyExtractor {
	module := p.layout.ModuleFQN(relPath)
	pkg := module
	if path.Base(relPath) != "__init__.py" {
		pkg = parentFQN(module)
	}
	return &pyExtractor{
		path:     relPath,
		module:   module,
		pkg:      pkg,
		src:      src,
		gen:      p.gen,
		frags:    make(map[string]bool),
		byFQN:    make(map[string]string),
		bindings: make(map[string]binding),
		claimed:  make(map[uint32]bool),
	}
}

func parentFQN(fqn string) string {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[:i]
	}
	return ""
}

func joinFQN(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

func loc(n *sitter.Node) store.Location {
	return store.Location{
		Lineno:       int(n.StartPoint().Row) + 1,
		ColOffset:    int(n.StartPoint().Column),
		EndLineno:    int(n.EndPoint().Row) + 1,
		EndColOffset: int(n.EndPoint().Column),
	}
}

func span(start, end *sitter.Node) store.Location {
	l := loc(start)
	e := loc(end)
	l.EndLineno, l.EndColOffset = e.EndLineno, e.EndColOffset
	return l
}

func (x *pyExtractor) text(n *sitter.Node) string {
	return n.Content(x.src)
}

// =============================================================================
// Declarations
// =============================================================================

func (x *pyExtractor) declareModule(root *sitter.Node) {
	name := x.module
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = strings.TrimSuffix(path.Base(x.path), ".py")
	}
	id := x.gen.ForModule(x.path)
	x.frags[""] = true
	x.byFQN[x.module] = id
	x.symbols = append(x.symbols, store.Symbol{
		ID:            id,
		Name:          name,
		Kind:          store.KindModule,
		Location:      loc(root),
		CanonicalFQN:  x.module,
		DocstringHash: store.ComputeDocstringHash(x.docstring(root)),
		SignatureHash: store.ComputeSignatureHash(name, store.KindModule, "", nil),
	})
	x.declareBlock(root, "")
}

func (x *pyExtractor) declareBlock(block *sitter.Node, scope string) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		x.declareStmt(block.NamedChild(i), scope, nil)
	}
}

func (x *pyExtractor) declareStmt(n *sitter.Node, scope string, decorators []string) {
	switch n.Type() {
	case "decorated_definition":
		var decs []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "decorator" {
				decs = append(decs, strings.TrimSpace(strings.TrimPrefix(x.text(c), "@")))
			}
		}
		if def := n.ChildByFieldName("definition"); def != nil {
			x.declareStmt(def, scope, decs)
		}
	case "class_definition":
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			return
		}
		name := x.text(nameNode)
		sig := "class " + name
		if sc := n.ChildByFieldName("superclasses"); sc != nil {
			sig += x.text(sc)
		}
		logical := joinFQN(scope, name)
		x.declare(n, nameNode, logical, store.KindClass, sig, decorators, x.docstring(n.ChildByFieldName("body")))
		if body := n.ChildByFieldName("body"); body != nil {
			x.declareBlock(body, logical)
		}
	case "function_definition":
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			return
		}
		name := x.text(nameNode)
		sig := "def " + name
		if ps := n.ChildByFieldName("parameters"); ps != nil {
			sig += x.text(ps)
		}
		if rt := n.ChildByFieldName("return_type"); rt != nil {
			sig += " -> " + x.text(rt)
		}
		if n.ChildCount() > 0 && n.Child(0).Type() == "async" {
			sig = "async " + sig
		}
		x.declare(n, nameNode, joinFQN(scope, name), store.KindFunction, sig, decorators, x.docstring(n.ChildByFieldName("body")))
	case "expression_statement":
		if n.NamedChildCount() > 0 && n.NamedChild(0).Type() == "assignment" {
			x.declareAssignment(n.NamedChild(0), scope)
		}
	case "import_statement", "import_from_statement":
		x.importStmt(n, scope == "", nil)
	case "if_statement", "try_statement", "with_statement", "for_statement", "while_statement",
		"elif_clause", "else_clause", "except_clause", "finally_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch {
			case c.Type() == "block":
				x.declareBlock(c, scope)
			case strings.HasSuffix(c.Type(), "_clause"):
				x.declareStmt(c, scope, nil)
			}
		}
	}
}

func (x *pyExtractor) declareAssignment(a *sitter.Node, scope string) {
	left := a.ChildByFieldName("left")
	if left == nil {
		return
	}
	var targets []*sitter.Node
	switch left.Type() {
	case "identifier":
		targets = append(targets, left)
	case "pattern_list", "tuple_pattern":
		for i := 0; i < int(left.NamedChildCount()); i++ {
			if c := left.NamedChild(i); c.Type() == "identifier" {
				targets = append(targets, c)
			}
		}
	}
	for _, t := range targets {
		logical := joinFQN(scope, x.text(t))
		if x.frags[logical] {
			continue
		}
		sig := ""
		if ty := a.ChildByFieldName("type"); ty != nil && len(targets) == 1 {
			sig = x.text(t) + ": " + x.text(ty)
		}
		x.declare(t, t, logical, store.KindAttribute, sig, nil, "")
	}
}

// declare records a declaration symbol and the reference of its name token.
func (x *pyExtractor) declare(n, nameNode *sitter.Node, logical, kind, sig string, decorators []string, doc string) {
	if x.frags[logical] {
		return
	}
	x.frags[logical] = true
	name := x.text(nameNode)
	fqn := joinFQN(x.module, logical)
	id := x.gen.ForSymbol(x.path, logical)
	x.byFQN[fqn] = id
	x.symbols = append(x.symbols, store.Symbol{
		ID:            id,
		Name:          name,
		Kind:          kind,
		Location:      loc(n),
		LogicalPath:   logical,
		CanonicalFQN:  fqn,
		DocstringHash: store.ComputeDocstringHash(doc),
		SignatureHash: store.ComputeSignatureHash(name, kind, sig, decorators),
		SignatureText: sig,
	})
	if !strings.Contains(logical, ".") {
		x.bindings[name] = binding{fqn: fqn, id: id}
	}
	x.claimed[nameNode.StartByte()] = true
	x.refs = append(x.refs, store.Reference{
		TargetFQN: fqn,
		TargetID:  id,
		Kind:      store.RefSymbol,
		Context:   store.CtxDefinition,
		Location:  loc(nameNode),
	})
}

// docstring returns the unquoted leading string literal of a body, if any.
func (x *pyExtractor) docstring(body *sitter.Node) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	s := first.NamedChild(0)
	if s.Type() != "string" {
		return ""
	}
	return unquote(x.text(s))
}

func unquote(lit string) string {
	lit = strings.TrimLeft(lit, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(lit) >= 2*len(q) && strings.HasPrefix(lit, q) && strings.HasSuffix(lit, q) {
			return lit[len(q) : len(lit)-len(q)]
		}
	}
	return lit
}

// =============================================================================
// Imports
// =============================================================================

// importStmt emits import references. At module scope it also declares an
// alias symbol per bound name; inside functions the names go to f.
func (x *pyExtractor) importStmt(n *sitter.Node, moduleScope bool, f *frame) {
	bind := func(local, target string, at *sitter.Node) {
		switch {
		case f != nil:
			f.names[local] = target
		case moduleScope:
			x.declareAlias(local, target, at)
		}
	}

	if n.Type() == "import_statement" {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				full := x.dotted(c)
				x.addRef(full, "", store.RefImport, store.CtxImport, loc(c))
				first, _, _ := strings.Cut(full, ".")
				bind(first, first, c)
			case "aliased_import":
				name, alias := c.ChildByFieldName("name"), c.ChildByFieldName("alias")
				if name == nil || alias == nil {
					continue
				}
				full := x.dotted(name)
				x.addRef(full, "", store.RefImport, store.CtxImport, loc(name))
				bind(x.text(alias), full, alias)
			}
		}
		return
	}

	modNode := n.ChildByFieldName("module_name")
	if modNode == nil {
		return
	}
	var base string
	var dottedNode *sitter.Node
	if modNode.Type() == "relative_import" {
		level := 0
		for i := 0; i < int(modNode.NamedChildCount()); i++ {
			c := modNode.NamedChild(i)
			switch c.Type() {
			case "import_prefix":
				level = strings.Count(x.text(c), ".")
			case "dotted_name":
				dottedNode = c
			}
		}
		rel := ""
		if dottedNode != nil {
			rel = x.dotted(dottedNode)
		}
		base = x.resolveRelative(level, rel)
	} else {
		dottedNode = modNode
		base = x.dotted(modNode)
	}
	if dottedNode != nil {
		x.addRef(base, "", store.RefImport, store.CtxImportFrom, loc(dottedNode))
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) != "name" {
			continue
		}
		c := n.Child(i)
		nameNode, aliasNode := c, (*sitter.Node)(nil)
		if c.Type() == "aliased_import" {
			nameNode, aliasNode = c.ChildByFieldName("name"), c.ChildByFieldName("alias")
		}
		if nameNode == nil {
			continue
		}
		name := x.dotted(nameNode)
		target := joinFQN(base, name)
		x.addRef(target, "", store.RefImport, store.CtxImportName, loc(nameNode))
		if aliasNode != nil {
			bind(x.text(aliasNode), target, aliasNode)
		} else {
			bind(name, target, nameNode)
		}
	}
}

func (x *pyExtractor) declareAlias(local, target string, at *sitter.Node) {
	x.bindings[local] = binding{fqn: target}
	if x.frags[local] {
		return
	}
	x.frags[local] = true
	x.symbols = append(x.symbols, store.Symbol{
		ID:             x.gen.ForSymbol(x.path, local),
		Name:           local,
		Kind:           store.KindAlias,
		Location:       loc(at),
		LogicalPath:    local,
		CanonicalFQN:   joinFQN(x.module, local),
		AliasTargetFQN: target,
	})
}

// resolveRelative turns a relative import of the given dot level into an
// absolute module name.
func (x *pyExtractor) resolveRelative(level int, rel string) string {
	var parts []string
	if x.pkg != "" {
		parts = strings.Split(x.pkg, ".")
	}
	drop := level - 1
	if drop > len(parts) {
		drop = len(parts)
	}
	parts = parts[:len(parts)-drop]
	if rel != "" {
		parts = append(parts, rel)
	}
	return strings.Join(parts, ".")
}

// dotted returns a dotted_name without interior whitespace.
func (x *pyExtractor) dotted(n *sitter.Node) string {
	if n.Type() != "dotted_name" {
		return x.text(n)
	}
	segs := make([]string, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		segs = append(segs, x.text(n.NamedChild(i)))
	}
	return strings.Join(segs, ".")
}

func (x *pyExtractor) addRef(target, id, kind, ctx string, l store.Location) {
	if target == "" {
		return
	}
	x.refs = append(x.refs, store.Reference{
		TargetFQN: target,
		TargetID:  id,
		Kind:      kind,
		Context:   ctx,
		Location:  l,
	})
}

// =============================================================================
// Usages
// =============================================================================

func (x *pyExtractor) lookup(name string, f *frame) (binding, bool) {
	for ; f != nil; f = f.parent {
		if fqn, ok := f.names[name]; ok {
			if fqn == "" {
				return binding{}, false
			}
			return binding{fqn: fqn}, true
		}
	}
	b, ok := x.bindings[name]
	return b, ok
}

func (x *pyExtractor) walk(n *sitter.Node, f *frame) {
	switch n.Type() {
	case "import_statement", "import_from_statement":
		if f != nil {
			x.importStmt(n, false, f)
		}
		return
	case "function_definition":
		x.walkFunction(n, f)
		return
	case "lambda":
		inner := &frame{parent: f, names: make(map[string]string)}
		if ps := n.ChildByFieldName("parameters"); ps != nil {
			x.declareParams(ps, inner, f)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			x.walk(body, inner)
		}
		return
	case "class_definition":
		if sc := n.ChildByFieldName("superclasses"); sc != nil {
			x.walk(sc, f)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			x.walk(body, f)
		}
		return
	case "keyword_argument":
		if v := n.ChildByFieldName("value"); v != nil {
			x.walk(v, f)
		}
		return
	case "attribute":
		x.usageChain(n, f)
		return
	case "identifier":
		x.usageName(n, f)
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		x.walk(n.NamedChild(i), f)
	}
}

func (x *pyExtractor) walkFunction(n *sitter.Node, outer *frame) {
	inner := &frame{parent: outer, names: make(map[string]string)}
	if nameNode := n.ChildByFieldName("name"); nameNode != nil && !x.claimed[nameNode.StartByte()] && outer != nil {
		outer.names[x.text(nameNode)] = ""
	}
	if ps := n.ChildByFieldName("parameters"); ps != nil {
		x.declareParams(ps, inner, outer)
	}
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		x.walk(rt, outer)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	x.collectLocals(body, inner)
	x.walk(body, inner)
}

// declareParams records parameter names in inner and walks defaults and
// annotations in outer.
func (x *pyExtractor) declareParams(ps *sitter.Node, inner, outer *frame) {
	for i := 0; i < int(ps.NamedChildCount()); i++ {
		p := ps.NamedChild(i)
		switch p.Type() {
		case "identifier":
			inner.names[x.text(p)] = ""
		case "default_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil {
				inner.names[x.text(name)] = ""
			}
			if ty := p.ChildByFieldName("type"); ty != nil {
				x.walk(ty, outer)
			}
			if v := p.ChildByFieldName("value"); v != nil {
				x.walk(v, outer)
			}
		case "typed_parameter":
			for j := 0; j < int(p.NamedChildCount()); j++ {
				c := p.NamedChild(j)
				switch c.Type() {
				case "identifier":
					inner.names[x.text(c)] = ""
				case "list_splat_pattern", "dictionary_splat_pattern":
					if c.NamedChildCount() > 0 {
						inner.names[x.text(c.NamedChild(0))] = ""
					}
				}
			}
			if ty := p.ChildByFieldName("type"); ty != nil {
				x.walk(ty, outer)
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if p.NamedChildCount() > 0 {
				inner.names[x.text(p.NamedChild(0))] = ""
			}
		}
	}
}

// collectLocals marks names assigned in a function body as locals, without
// entering nested functions or classes. Names declared global stay bound.
func (x *pyExtractor) collectLocals(n *sitter.Node, f *frame) {
	globals := make(map[string]bool)
	var visit func(n *sitter.Node)
	addTarget := func(t *sitter.Node) {
		if t == nil {
			return
		}
		switch t.Type() {
		case "identifier":
			f.names[x.text(t)] = ""
		case "pattern_list", "tuple_pattern", "list_pattern":
			for i := 0; i < int(t.NamedChildCount()); i++ {
				if c := t.NamedChild(i); c.Type() == "identifier" {
					f.names[x.text(c)] = ""
				}
			}
		}
	}
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "function_definition", "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				f.names[x.text(name)] = ""
			}
			return
		case "lambda":
			return
		case "global_statement", "nonlocal_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				globals[x.text(n.NamedChild(i))] = true
			}
		case "assignment", "augmented_assignment":
			addTarget(n.ChildByFieldName("left"))
		case "for_statement", "for_in_clause":
			addTarget(n.ChildByFieldName("left"))
		case "as_pattern":
			if alias := n.ChildByFieldName("alias"); alias != nil && alias.NamedChildCount() > 0 {
				addTarget(alias.NamedChild(0))
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(n)
	for g := range globals {
		delete(f.names, g)
	}
}

func (x *pyExtractor) usageName(n *sitter.Node, f *frame) {
	if x.claimed[n.StartByte()] {
		return
	}
	b, ok := x.lookup(x.text(n), f)
	if !ok {
		return
	}
	x.addRef(b.fqn, b.id, store.RefSymbol, "", loc(n))
}

// usageChain records one reference for a dotted name chain such as
// a.core.Old.method, spanning the whole chain.
func (x *pyExtractor) usageChain(n *sitter.Node, f *frame) {
	var attrs []string
	cur := n
	for cur.Type() == "attribute" {
		attr := cur.ChildByFieldName("attribute")
		obj := cur.ChildByFieldName("object")
		if attr == nil || obj == nil {
			return
		}
		attrs = append(attrs, x.text(attr))
		cur = obj
	}
	if cur.Type() != "identifier" {
		x.walk(cur, f)
		return
	}
	b, ok := x.lookup(x.text(cur), f)
	if !ok {
		return
	}
	segs := []string{b.fqn}
	for i := len(attrs) - 1; i >= 0; i-- {
		segs = append(segs, attrs[i])
	}
	target := strings.Join(segs, ".")
	id := b.id
	if len(attrs) > 0 {
		id = x.byFQN[target]
	}
	x.addRef(target, id, store.RefSymbol, "", span(cur, n))
}
