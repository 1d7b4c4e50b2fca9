package store

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
)

// MaxAliasHops bounds alias chasing. Chains longer than this, and cycles,
// resolve to nothing.
const MaxAliasHops = 10

// FindSymbolByFQN returns the symbol whose canonical FQN is fqn, with the
// path of its file. Non-alias symbols win over aliases; ties go to the lower
// file id. Returns nil when nothing matches.
func (s *Store) FindSymbolByFQN(fqn string) (*Symbol, string, error) {
	if hit, ok := s.fqns.Get(fqn); ok {
		return hit.sym, hit.path, nil
	}
	var path string
	sym, err := scanSymbol(s.db.QueryRow(
		`SELECT s.id, s.file_id, s.name, s.kind, s.lineno, s.col_offset, s.end_lineno, s.end_col_offset,
		        s.logical_path, s.canonical_fqn, s.alias_target_fqn, s.alias_target_id,
		        s.docstring_hash, s.signature_hash, s.signature_text, f.path
		 FROM symbols s JOIN files f ON f.id = s.file_id
		 WHERE s.canonical_fqn = ?
		 ORDER BY (s.kind = ?) ASC, s.file_id ASC
		 LIMIT 1`, fqn, KindAlias), &path)
	if errors.Is(err, sql.ErrNoRows) {
		s.fqns.Add(fqn, fqnHit{})
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("find symbol by fqn %s: %w", fqn, err)
	}
	s.fqns.Add(fqn, fqnHit{sym: sym, path: path})
	return sym, path, nil
}

// ResolveFQN looks fqn up and follows alias edges, at most MaxAliasHops of
// them, until it reaches a non-alias definition. Returns nil when the chain
// breaks, cycles or is too long.
func (s *Store) ResolveFQN(fqn string) (*Symbol, string, error) {
	cur := fqn
	for hop := 0; ; hop++ {
		sym, path, err := s.FindSymbolByFQN(cur)
		if err != nil || sym == nil {
			return nil, "", err
		}
		if sym.Kind != KindAlias {
			return sym, path, nil
		}
		if sym.AliasTargetFQN == "" || hop == MaxAliasHops {
			return nil, "", nil
		}
		cur = sym.AliasTargetFQN
	}
}

// ResolveMissingLinks fills target_id of unlinked references and
// alias_target_id of unlinked aliases. It is idempotent.
func (s *Store) ResolveMissingLinks() (LinkStats, error) {
	var stats LinkStats

	type pending struct {
		id  any
		fqn string
	}
	load := func(query string, args ...any) ([]pending, error) {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []pending
		for rows.Next() {
			var p pending
			var id any
			if err := rows.Scan(&id, &p.fqn); err != nil {
				return nil, err
			}
			p.id = id
			out = append(out, p)
		}
		return out, rows.Err()
	}

	refs, err := load("SELECT id, target_fqn FROM references_ WHERE target_id IS NULL")
	if err != nil {
		return stats, fmt.Errorf("load unlinked references: %w", err)
	}
	aliases, err := load(
		`SELECT id, alias_target_fqn FROM symbols
		 WHERE kind = ? AND alias_target_id IS NULL AND alias_target_fqn IS NOT NULL`, KindAlias)
	if err != nil {
		return stats, fmt.Errorf("load unlinked aliases: %w", err)
	}

	memo := make(map[string]string)
	resolve := func(fqn string) (string, error) {
		if id, ok := memo[fqn]; ok {
			return id, nil
		}
		sym, _, err := s.ResolveFQN(fqn)
		if err != nil {
			return "", err
		}
		id := ""
		if sym != nil {
			id = sym.ID
		}
		memo[fqn] = id
		return id, nil
	}

	type link struct {
		row    any
		target string
	}
	var refLinks, aliasLinks []link
	for _, p := range refs {
		id, err := resolve(p.fqn)
		if err != nil {
			return stats, err
		}
		if id == "" {
			stats.Unresolved++
			continue
		}
		refLinks = append(refLinks, link{p.id, id})
	}
	for _, p := range aliases {
		id, err := resolve(p.fqn)
		if err != nil {
			return stats, err
		}
		if id == "" {
			stats.Unresolved++
			continue
		}
		aliasLinks = append(aliasLinks, link{p.id, id})
	}
	if len(refLinks) == 0 && len(aliasLinks) == 0 {
		return stats, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, l := range refLinks {
		if _, err := tx.Exec("UPDATE references_ SET target_id = ? WHERE id = ?", l.target, l.row); err != nil {
			return stats, fmt.Errorf("link reference: %w", err)
		}
	}
	for _, l := range aliasLinks {
		if _, err := tx.Exec("UPDATE symbols SET alias_target_id = ? WHERE id = ?", l.target, l.row); err != nil {
			return stats, fmt.Errorf("link alias: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit links: %w", err)
	}
	s.invalidate()
	stats.ReferencesLinked = len(refLinks)
	stats.AliasesLinked = len(aliasLinks)
	return stats, nil
}

// AllDependencyEdges yields one edge per import reference, ordered by source
// path. The module part of a from-import is not an edge: the imported name
// is, and its alias chain decides the target file, so re-exports through a
// package init point at the defining module.
func (s *Store) AllDependencyEdges() iter.Seq2[DependencyEdge, error] {
	return func(yield func(DependencyEdge, error) bool) {
		rows, err := s.db.Query(
			`SELECT f.path, r.target_fqn, r.lineno
			 FROM references_ r JOIN files f ON f.id = r.source_file_id
			 WHERE r.kind = ? AND r.context != ?
			 ORDER BY f.path, r.lineno, r.col_offset`, RefImport, CtxImportFrom)
		if err != nil {
			yield(DependencyEdge{}, fmt.Errorf("dependency edges: %w", err))
			return
		}
		var edges []DependencyEdge
		for rows.Next() {
			var e DependencyEdge
			if err := rows.Scan(&e.SourcePath, &e.TargetFQN, &e.Lineno); err != nil {
				rows.Close()
				yield(DependencyEdge{}, fmt.Errorf("scan edge: %w", err))
				return
			}
			edges = append(edges, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			yield(DependencyEdge{}, err)
			return
		}

		for _, e := range edges {
			_, path, err := s.ResolveFQN(e.TargetFQN)
			if err != nil {
				yield(DependencyEdge{}, err)
				return
			}
			e.TargetFilePath = path
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Usage is a reference together with its source path and the FQN it
// resolves to: the linked symbol's canonical FQN, else the raw target FQN.
type Usage struct {
	Reference
	Path        string
	ResolvedFQN string
}

// UsagesOf returns every reference whose resolved FQN equals fqn or lies
// beneath it, ordered by path and position.
func (s *Store) UsagesOf(fqn string) ([]*Usage, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.source_file_id, r.target_fqn, r.target_id, r.kind, r.context,
		        r.lineno, r.col_offset, r.end_lineno, r.end_col_offset,
		        f.path, COALESCE(t.canonical_fqn, r.target_fqn) AS resolved
		 FROM references_ r
		 JOIN files f ON f.id = r.source_file_id
		 LEFT JOIN symbols t ON t.id = r.target_id
		 WHERE COALESCE(t.canonical_fqn, r.target_fqn) = ?
		    OR COALESCE(t.canonical_fqn, r.target_fqn) LIKE ? ESCAPE '\'
		 ORDER BY f.path, r.lineno, r.col_offset, r.id`,
		fqn, escapeLike(fqn)+".%")
	if err != nil {
		return nil, fmt.Errorf("usages of %s: %w", fqn, err)
	}
	defer rows.Close()
	var out []*Usage
	for rows.Next() {
		u := &Usage{}
		r, err := scanReference(rows, &u.Path, &u.ResolvedFQN)
		if err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		u.Reference = *r
		out = append(out, u)
	}
	return out, rows.Err()
}

// ReferencedTargets returns the set of symbol ids that at least one
// reference other than a declaration's own name links to.
func (s *Store) ReferencedTargets() (map[string]bool, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT target_id FROM references_ WHERE target_id IS NOT NULL AND context != ?", CtxDefinition)
	if err != nil {
		return nil, fmt.Errorf("referenced targets: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
