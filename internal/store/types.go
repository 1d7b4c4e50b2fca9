package store

import "time"

// Indexing status of a file row.
const (
	StatusDirty   = "dirty"
	StatusIndexed = "indexed"
)

// Symbol kinds.
const (
	KindModule      = "module"
	KindClass       = "class"
	KindFunction    = "function"
	KindAttribute   = "attribute"
	KindAlias       = "alias"
	KindDocFragment = "doc_fragment"
)

// Reference kinds.
const (
	RefImport     = "import"
	RefSymbol     = "symbol"
	RefDocBinding = "doc_binding"
	RefSidecarKey = "sidecar_key"
)

// Reference contexts distinguish the parts of an import statement.
const (
	// CtxImport marks "import a.b".
	CtxImport = "import"
	// CtxImportFrom marks the module part of "from a.b import c". It is
	// renamed with the module but never yields a dependency edge.
	CtxImportFrom = "import_from"
	// CtxImportName marks the imported name of "from a.b import c".
	CtxImportName = "import_name"
	// CtxDefinition marks the name token of a declaration.
	CtxDefinition = "definition"
)

type File struct {
	ID             int64
	Path           string
	ContentHash    string
	LastMtime      int64
	LastSize       int64
	IndexingStatus string
	LastIndexed    time.Time
}

// Location is a 1-based line, 0-based column source range.
type Location struct {
	Lineno       int
	ColOffset    int
	EndLineno    int
	EndColOffset int
}

type Symbol struct {
	ID             string // SURI
	FileID         int64
	Name           string
	Kind           string
	Location
	LogicalPath    string // dotted path within the module; "" for the module itself
	CanonicalFQN   string
	AliasTargetFQN string
	AliasTargetID  string
	DocstringHash  string
	SignatureHash  string
	SignatureText  string
}

type Reference struct {
	ID           int64
	SourceFileID int64
	TargetFQN    string
	TargetID     string
	Kind         string
	Context      string
	Location
}

// DependencyEdge is a file-level import dependency. TargetFilePath is ""
// when the target lies outside the index.
type DependencyEdge struct {
	SourcePath     string
	TargetFQN      string
	TargetFilePath string
	Lineno         int
}

// FileAnalysis is one file's extraction output, committed atomically.
type FileAnalysis struct {
	FileID     int64
	Symbols    []Symbol
	References []Reference
}

// LinkStats reports a linker pass.
type LinkStats struct {
	ReferencesLinked int
	AliasesLinked    int
	Unresolved       int
}
