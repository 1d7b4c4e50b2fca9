package stitcher

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jward/stitcher/internal/store"
)

// --- Common Types ---

// Pagination controls offset+limit paging on list/search results.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SortField specifies how to order results.
type SortField string

const (
	SortByName     SortField = "name"
	SortByKind     SortField = "kind"
	SortByFile     SortField = "file"
	SortByFQN      SortField = "fqn"
	SortByRefCount SortField = "ref_count"
)

// SortOrder specifies ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort controls result ordering.
type Sort struct {
	Field SortField
	Order SortOrder
}

// SymbolResult extends Symbol with computed fields useful for discovery.
type SymbolResult struct {
	store.Symbol
	FilePath         string
	RefCount         int // linked references targeting this symbol, declarations excluded
	ExternalRefCount int // refs from other files
	InternalRefCount int // refs from the symbol's own file
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int // total matching results (before pagination)
}

// SymbolFilter specifies which symbols to include. The zero value matches
// every symbol.
type SymbolFilter struct {
	Kinds      []string // match any of these kinds
	FileID     *int64   // restrict to a single file
	PathPrefix *string  // restrict to symbols in files under this directory
	FQNPrefix  string   // restrict to this FQN and everything beneath it
}

// --- Internal Helpers ---

// normalizePathPrefix ensures a path prefix ends with "/" for correct LIKE matching.
// "src/pkg" -> "src/pkg/" to prevent matching "src/pkg_utils/".
func normalizePathPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	return prefix
}

// symbolSortColumn returns the SQL ORDER BY expression for symbol queries.
// Falls back to the FQN for unknown fields.
func symbolSortColumn(field SortField) string {
	switch field {
	case SortByName:
		return "s.name"
	case SortByKind:
		return "s.kind"
	case SortByFile:
		return "f.path"
	case SortByRefCount:
		return "ref_count"
	default:
		return "s.canonical_fqn"
	}
}

// sortDirection returns "ASC" or "DESC".
func sortDirection(order SortOrder) string {
	if order == Desc {
		return "DESC"
	}
	return "ASC"
}

// whereClause renders filter as a SQL WHERE clause over symbols s joined
// with files f.
func (filter SymbolFilter) whereClause() (string, []any) {
	var where []string
	var args []any

	if len(filter.Kinds) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Kinds)-1) + "?"
		where = append(where, "s.kind IN ("+placeholders+")")
		for _, k := range filter.Kinds {
			args = append(args, k)
		}
	}
	if filter.FileID != nil {
		where = append(where, "s.file_id = ?")
		args = append(args, *filter.FileID)
	}
	if filter.PathPrefix != nil {
		prefix := normalizePathPrefix(*filter.PathPrefix)
		if prefix != "" {
			where = append(where, "f.path LIKE ? ESCAPE '\\'")
			args = append(args, escapeLike(prefix)+"%")
		}
	}
	if filter.FQNPrefix != "" {
		where = append(where, "(s.canonical_fqn = ? OR s.canonical_fqn LIKE ? ESCAPE '\\')")
		args = append(args, filter.FQNPrefix, escapeLike(filter.FQNPrefix)+".%")
	}

	if len(where) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(where, " AND "), args
}

// symbolResultCols selects every Symbol field plus the discovery counts.
// Reference counts skip a declaration's own name token.
const symbolResultCols = `s.id, s.file_id, s.name, s.kind,
	COALESCE(s.lineno, 0), COALESCE(s.col_offset, 0), COALESCE(s.end_lineno, 0), COALESCE(s.end_col_offset, 0),
	s.logical_path, s.canonical_fqn, s.alias_target_fqn, s.alias_target_id,
	s.docstring_hash, s.signature_hash, s.signature_text,
	f.path,
	(SELECT COUNT(*) FROM references_ r WHERE r.target_id = s.id AND r.context != 'definition') AS ref_count,
	(SELECT COUNT(*) FROM references_ r WHERE r.target_id = s.id AND r.context != 'definition' AND r.source_file_id != s.file_id) AS external_ref_count`

// --- Enumeration Endpoints ---

// Symbols is the primary listing/filtering endpoint. All filter fields are optional.
func (g *Graph) Symbols(filter SymbolFilter, sort Sort, page Pagination) (*PagedResult[SymbolResult], error) {
	page = page.normalize()
	whereClause, args := filter.whereClause()

	countSQL := `SELECT COUNT(*) FROM symbols s JOIN files f ON s.file_id = f.id ` + whereClause
	var totalCount int
	if err := g.store.DB().QueryRow(countSQL, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("symbols: count: %w", err)
	}

	dataSQL := fmt.Sprintf(
		`SELECT %s FROM symbols s JOIN files f ON s.file_id = f.id %s
		 ORDER BY %s %s, s.id LIMIT ? OFFSET ?`,
		symbolResultCols, whereClause, symbolSortColumn(sort.Field), sortDirection(sort.Order),
	)
	dataArgs := append(append([]any{}, args...), page.Limit, page.Offset)
	items, err := g.querySymbolResults(dataSQL, dataArgs...)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	return &PagedResult[SymbolResult]{Items: items, TotalCount: totalCount}, nil
}

// allSymbolResults returns every symbol matching filter, sorted, unpaged.
func (g *Graph) allSymbolResults(filter SymbolFilter, sort Sort) ([]SymbolResult, error) {
	whereClause, args := filter.whereClause()
	dataSQL := fmt.Sprintf(
		`SELECT %s FROM symbols s JOIN files f ON s.file_id = f.id %s ORDER BY %s %s, s.id`,
		symbolResultCols, whereClause, symbolSortColumn(sort.Field), sortDirection(sort.Order),
	)
	return g.querySymbolResults(dataSQL, args...)
}

func (g *Graph) querySymbolResults(query string, args ...any) ([]SymbolResult, error) {
	rows, err := g.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	items := []SymbolResult{}
	for rows.Next() {
		sr, err := scanSymbolResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return items, nil
}

// paginate slices an in-memory result set the same way the SQL endpoints do.
func paginate[T any](items []T, page Pagination) *PagedResult[T] {
	page = page.normalize()
	total := len(items)
	start := min(page.Offset, total)
	end := min(start+page.Limit, total)
	return &PagedResult[T]{Items: items[start:end], TotalCount: total}
}

// Files lists indexed files under pathPrefix ("" for all), ordered by path.
func (g *Graph) Files(pathPrefix string, sort Sort, page Pagination) (*PagedResult[store.File], error) {
	page = page.normalize()

	whereClause := ""
	var args []any
	if pathPrefix != "" {
		whereClause = "WHERE path LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(normalizePathPrefix(pathPrefix))+"%")
	}

	var totalCount int
	if err := g.store.DB().QueryRow("SELECT COUNT(*) FROM files "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("files: count: %w", err)
	}

	dataSQL := fmt.Sprintf(
		`SELECT id, path, content_hash, last_mtime, last_size, indexing_status, last_indexed
		 FROM files %s ORDER BY path %s LIMIT ? OFFSET ?`,
		whereClause, sortDirection(sort.Order),
	)
	dataArgs := append(append([]any{}, args...), page.Limit, page.Offset)

	rows, err := g.store.DB().Query(dataSQL, dataArgs...)
	if err != nil {
		return nil, fmt.Errorf("files: query: %w", err)
	}
	defer rows.Close()

	items := []store.File{}
	for rows.Next() {
		var f store.File
		var indexed sql.NullTime
		if err := rows.Scan(&f.ID, &f.Path, &f.ContentHash, &f.LastMtime, &f.LastSize, &f.IndexingStatus, &indexed); err != nil {
			return nil, fmt.Errorf("files: scan: %w", err)
		}
		if indexed.Valid {
			f.LastIndexed = indexed.Time
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("files: rows: %w", err)
	}
	return &PagedResult[store.File]{Items: items, TotalCount: totalCount}, nil
}

// --- Search ---

// SearchSymbols matches canonical FQNs against a glob pattern. Dots separate
// segments, so "pkg.*.Client" matches one level and "pkg.**" any depth.
func (g *Graph) SearchSymbols(pattern string, filter SymbolFilter, sort Sort, page Pagination) (*PagedResult[SymbolResult], error) {
	glob := strings.ReplaceAll(pattern, ".", "/")
	if !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("search symbols: invalid pattern %q", pattern)
	}
	all, err := g.allSymbolResults(filter, sort)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}

	matched := []SymbolResult{}
	for _, sr := range all {
		if sr.CanonicalFQN == "" {
			continue
		}
		ok, err := doublestar.Match(glob, strings.ReplaceAll(sr.CanonicalFQN, ".", "/"))
		if err != nil {
			return nil, fmt.Errorf("search symbols: %w", err)
		}
		if ok {
			matched = append(matched, sr)
		}
	}
	return paginate(matched, page), nil
}

// --- Summary ---

// Summary is a high-level overview of the index.
type Summary struct {
	Files         int            `json:"files"`
	Symbols       int            `json:"symbols"`
	SymbolsByKind map[string]int `json:"symbols_by_kind"`
	References    int            `json:"references"`
	Unresolved    int            `json:"unresolved"`
}

// Summary counts files, symbols per kind, references, and references the
// linker could not bind.
func (g *Graph) Summary() (*Summary, error) {
	db := g.store.DB()
	sum := &Summary{SymbolsByKind: map[string]int{}}

	if err := db.QueryRow("SELECT COUNT(*) FROM files").Scan(&sum.Files); err != nil {
		return nil, fmt.Errorf("summary: files: %w", err)
	}
	if err := db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(target_id IS NULL), 0) FROM references_",
	).Scan(&sum.References, &sum.Unresolved); err != nil {
		return nil, fmt.Errorf("summary: references: %w", err)
	}

	rows, err := db.Query("SELECT kind, COUNT(*) FROM symbols GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("summary: kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("summary: scan kind: %w", err)
		}
		sum.SymbolsByKind[kind] = n
		sum.Symbols += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summary: kind rows: %w", err)
	}
	return sum, nil
}

// --- Scan Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

// scanSymbolResult scans a row selected with symbolResultCols.
func scanSymbolResult(row scanner) (SymbolResult, error) {
	var sr SymbolResult
	var logical, fqn, aliasFQN, aliasID, doc, sig, sigText sql.NullString
	err := row.Scan(
		&sr.ID, &sr.FileID, &sr.Name, &sr.Kind,
		&sr.Lineno, &sr.ColOffset, &sr.EndLineno, &sr.EndColOffset,
		&logical, &fqn, &aliasFQN, &aliasID, &doc, &sig, &sigText,
		&sr.FilePath, &sr.RefCount, &sr.ExternalRefCount,
	)
	if err != nil {
		return sr, err
	}
	sr.LogicalPath = logical.String
	sr.CanonicalFQN = fqn.String
	sr.AliasTargetFQN = aliasFQN.String
	sr.AliasTargetID = aliasID.String
	sr.DocstringHash = doc.String
	sr.SignatureHash = sig.String
	sr.SignatureText = sigText.String
	sr.InternalRefCount = sr.RefCount - sr.ExternalRefCount
	return sr, nil
}

// escapeLike escapes SQL LIKE special characters (% and _) with backslash.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
