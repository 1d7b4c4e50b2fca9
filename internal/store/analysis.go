package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const symbolCols = `id, file_id, name, kind, lineno, col_offset, end_lineno, end_col_offset,
	logical_path, canonical_fqn, alias_target_fqn, alias_target_id,
	docstring_hash, signature_hash, signature_text`

func scanSymbol(sc interface{ Scan(...any) error }, extra ...any) (*Symbol, error) {
	sym := &Symbol{}
	var logical, fqn, aliasFQN, aliasID, doc, sig, sigText sql.NullString
	dest := []any{
		&sym.ID, &sym.FileID, &sym.Name, &sym.Kind,
		&sym.Lineno, &sym.ColOffset, &sym.EndLineno, &sym.EndColOffset,
		&logical, &fqn, &aliasFQN, &aliasID, &doc, &sig, &sigText,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	sym.LogicalPath = fromNull(logical)
	sym.CanonicalFQN = fromNull(fqn)
	sym.AliasTargetFQN = fromNull(aliasFQN)
	sym.AliasTargetID = fromNull(aliasID)
	sym.DocstringHash = fromNull(doc)
	sym.SignatureHash = fromNull(sig)
	sym.SignatureText = fromNull(sigText)
	return sym, nil
}

const refCols = `id, source_file_id, target_fqn, target_id, kind, context,
	lineno, col_offset, end_lineno, end_col_offset`

func scanReference(sc interface{ Scan(...any) error }, extra ...any) (*Reference, error) {
	r := &Reference{}
	var target sql.NullString
	dest := []any{
		&r.ID, &r.SourceFileID, &r.TargetFQN, &target, &r.Kind, &r.Context,
		&r.Lineno, &r.ColOffset, &r.EndLineno, &r.EndColOffset,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.TargetID = fromNull(target)
	return r, nil
}

// UpdateAnalysis atomically replaces all symbols and references of a file
// and marks it indexed. Readers never observe a partial replacement.
func (s *Store) UpdateAnalysis(fileID int64, symbols []Symbol, refs []Reference) error {
	return s.CommitBatch([]FileAnalysis{{FileID: fileID, Symbols: symbols, References: refs}})
}

// CommitBatch applies several file analyses in a single transaction.
func (s *Store) CommitBatch(batch []FileAnalysis) error {
	if len(batch) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.invalidate()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	symStmt, err := tx.Prepare(`INSERT OR REPLACE INTO symbols (` + symbolCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbol insert: %w", err)
	}
	defer symStmt.Close()

	refStmt, err := tx.Prepare(`INSERT INTO references_
		(source_file_id, target_fqn, target_id, kind, context, lineno, col_offset, end_lineno, end_col_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare reference insert: %w", err)
	}
	defer refStmt.Close()

	now := time.Now()
	for _, fa := range batch {
		if err := replaceFileTx(tx, symStmt, refStmt, fa, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

func replaceFileTx(tx *sql.Tx, symStmt, refStmt *sql.Stmt, fa FileAnalysis, now time.Time) error {
	old, err := symbolStatesTx(tx, fa.FileID)
	if err != nil {
		return err
	}
	// A symbol that disappears or changes kind invalidates links into it.
	// An alias that disappears or changes target also invalidates every
	// link resolved through it.
	next := make(map[string]*Symbol, len(fa.Symbols))
	for i := range fa.Symbols {
		next[fa.Symbols[i].ID] = &fa.Symbols[i]
	}
	var stale, retargeted []string
	for id, o := range old {
		n, ok := next[id]
		if !ok || n.Kind != o.kind {
			stale = append(stale, id)
		}
		if o.kind == KindAlias && o.fqn != "" &&
			(!ok || n.Kind != KindAlias || n.AliasTargetFQN != o.aliasTarget) {
			retargeted = append(retargeted, o.fqn)
		}
	}
	if err := unlinkTx(tx, fa.FileID, stale); err != nil {
		return err
	}
	if err := unlinkThroughAliasesTx(tx, fa.FileID, retargeted); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM references_ WHERE source_file_id = ?", fa.FileID); err != nil {
		return fmt.Errorf("delete references: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM symbols WHERE file_id = ?", fa.FileID); err != nil {
		return fmt.Errorf("delete symbols: %w", err)
	}

	for _, sym := range fa.Symbols {
		_, err := symStmt.Exec(
			sym.ID, fa.FileID, sym.Name, sym.Kind,
			sym.Lineno, sym.ColOffset, sym.EndLineno, sym.EndColOffset,
			sym.LogicalPath, nullString(sym.CanonicalFQN),
			nullString(sym.AliasTargetFQN), nullString(sym.AliasTargetID),
			nullString(sym.DocstringHash), nullString(sym.SignatureHash), nullString(sym.SignatureText),
		)
		if err != nil {
			return fmt.Errorf("insert symbol %s: %w", sym.ID, err)
		}
	}
	for _, r := range fa.References {
		_, err := refStmt.Exec(
			fa.FileID, r.TargetFQN, nullString(r.TargetID), r.Kind, r.Context,
			r.Lineno, r.ColOffset, r.EndLineno, r.EndColOffset,
		)
		if err != nil {
			return fmt.Errorf("insert reference to %s: %w", r.TargetFQN, err)
		}
	}
	// Intra-file targets may point at symbols that were just replaced.
	_, err = tx.Exec(
		`UPDATE references_ SET target_id = NULL
		 WHERE source_file_id = ? AND target_id IS NOT NULL
		   AND target_id NOT IN (SELECT id FROM symbols)`, fa.FileID)
	if err != nil {
		return fmt.Errorf("drop dangling targets: %w", err)
	}
	_, err = tx.Exec("UPDATE files SET indexing_status = ?, last_indexed = ? WHERE id = ?",
		StatusIndexed, now, fa.FileID)
	if err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return nil
}

type symbolState struct {
	kind        string
	fqn         string
	aliasTarget string
}

// symbolStatesTx returns the SURI-keyed link-relevant state of a file's
// current symbols.
func symbolStatesTx(tx *sql.Tx, fileID int64) (map[string]symbolState, error) {
	rows, err := tx.Query("SELECT id, kind, canonical_fqn, alias_target_fqn FROM symbols WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	out := make(map[string]symbolState)
	for rows.Next() {
		var id, kind string
		var fqn, target sql.NullString
		if err := rows.Scan(&id, &kind, &fqn, &target); err != nil {
			return nil, fmt.Errorf("scan symbol id: %w", err)
		}
		out[id] = symbolState{kind: kind, fqn: fromNull(fqn), aliasTarget: fromNull(target)}
	}
	return out, rows.Err()
}

// unlinkTx clears target_id and alias_target_id in rows of other files that
// point at ids.
func unlinkTx(tx *sql.Tx, fileID int64, ids []string) error {
	const chunk = 500
	for len(ids) > 0 {
		n := min(chunk, len(ids))
		part := ids[:n]
		ids = ids[n:]
		ph := placeholderList(len(part))
		args := append(stringsToArgs(part), fileID)
		if _, err := tx.Exec(
			"UPDATE references_ SET target_id = NULL WHERE target_id IN ("+ph+") AND source_file_id != ?", args...,
		); err != nil {
			return fmt.Errorf("unlink references: %w", err)
		}
		if _, err := tx.Exec(
			"UPDATE symbols SET alias_target_id = NULL WHERE alias_target_id IN ("+ph+") AND file_id != ?", args...,
		); err != nil {
			return fmt.Errorf("unlink aliases: %w", err)
		}
	}
	return nil
}

// unlinkThroughAliasesTx clears links in other files that were resolved
// through the aliases named fqns: references to those names or beneath
// them, and aliases re-exporting them. Re-exporting aliases are followed
// transitively, since their users resolved through the same chain.
func unlinkThroughAliasesTx(tx *sql.Tx, fileID int64, fqns []string) error {
	seen := make(map[string]bool)
	for len(fqns) > 0 {
		fqn := fqns[0]
		fqns = fqns[1:]
		if seen[fqn] {
			continue
		}
		seen[fqn] = true
		under := escapeLike(fqn) + ".%"

		if _, err := tx.Exec(
			`UPDATE references_ SET target_id = NULL
			 WHERE source_file_id != ? AND target_id IS NOT NULL
			   AND (target_fqn = ? OR target_fqn LIKE ? ESCAPE '\')`, fileID, fqn, under,
		); err != nil {
			return fmt.Errorf("unlink references through %s: %w", fqn, err)
		}

		chained, err := queryStringsTx(tx,
			`SELECT canonical_fqn FROM symbols
			 WHERE file_id != ? AND kind = ? AND canonical_fqn IS NOT NULL
			   AND (alias_target_fqn = ? OR alias_target_fqn LIKE ? ESCAPE '\')`,
			fileID, KindAlias, fqn, under)
		if err != nil {
			return fmt.Errorf("query aliases of %s: %w", fqn, err)
		}
		if _, err := tx.Exec(
			`UPDATE symbols SET alias_target_id = NULL
			 WHERE file_id != ? AND kind = ?
			   AND (alias_target_fqn = ? OR alias_target_fqn LIKE ? ESCAPE '\')`, fileID, KindAlias, fqn, under,
		); err != nil {
			return fmt.Errorf("unlink aliases of %s: %w", fqn, err)
		}
		fqns = append(fqns, chained...)
	}
	return nil
}

func queryStringsTx(tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SymbolsByFile returns a file's symbols in source order.
func (s *Store) SymbolsByFile(fileID int64) ([]*Symbol, error) {
	return s.querySymbols(
		"SELECT "+symbolCols+" FROM symbols WHERE file_id = ? ORDER BY lineno, col_offset, id", fileID,
	)
}

// ReferencesByFile returns a file's references in source order.
func (s *Store) ReferencesByFile(fileID int64) ([]*Reference, error) {
	rows, err := s.db.Query(
		"SELECT "+refCols+" FROM references_ WHERE source_file_id = ? ORDER BY lineno, col_offset, id", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("references by file: %w", err)
	}
	defer rows.Close()
	var refs []*Reference
	for rows.Next() {
		r, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// SymbolByID returns the symbol with the given SURI, or nil.
func (s *Store) SymbolByID(id string) (*Symbol, error) {
	sym, err := scanSymbol(s.db.QueryRow("SELECT "+symbolCols+" FROM symbols WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol by id: %w", err)
	}
	return sym, nil
}

// SymbolsByFQNPrefix returns non-alias symbols whose canonical FQN equals
// prefix or lies beneath it.
func (s *Store) SymbolsByFQNPrefix(prefix string) ([]*Symbol, error) {
	return s.querySymbols(
		`SELECT `+symbolCols+` FROM symbols
		 WHERE kind != ? AND (canonical_fqn = ? OR canonical_fqn LIKE ? ESCAPE '\')
		 ORDER BY canonical_fqn, file_id`,
		KindAlias, prefix, escapeLike(prefix)+".%",
	)
}

// SymbolsByKind returns all symbols of kind ordered by FQN. An empty kind
// returns every symbol.
func (s *Store) SymbolsByKind(kind string) ([]*Symbol, error) {
	if kind == "" {
		return s.querySymbols("SELECT " + symbolCols + " FROM symbols ORDER BY canonical_fqn, id")
	}
	return s.querySymbols("SELECT "+symbolCols+" FROM symbols WHERE kind = ? ORDER BY canonical_fqn, id", kind)
}

func (s *Store) querySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	var syms []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		syms = append(syms, sym)
	}
	return syms, rows.Err()
}
