package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const fileCols = `id, path, content_hash, last_mtime, last_size, indexing_status, last_indexed`

func scanFile(sc interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var indexed sql.NullTime
	if err := sc.Scan(&f.ID, &f.Path, &f.ContentHash, &f.LastMtime, &f.LastSize, &f.IndexingStatus, &indexed); err != nil {
		return nil, err
	}
	if indexed.Valid {
		f.LastIndexed = indexed.Time
	}
	return f, nil
}

// SyncFile records the current content hash and stat of path. A new row or
// a changed hash marks the file dirty and reports changed=true. An unchanged
// hash only refreshes the stat fields and leaves the status alone.
func (s *Store) SyncFile(path, contentHash string, mtime, size int64) (id int64, changed bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var oldHash string
	err = s.db.QueryRow("SELECT id, content_hash FROM files WHERE path = ?", path).Scan(&id, &oldHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.Exec(
			`INSERT INTO files (path, content_hash, last_mtime, last_size, indexing_status)
			 VALUES (?, ?, ?, ?, ?)`,
			path, contentHash, mtime, size, StatusDirty,
		)
		if err != nil {
			return 0, false, fmt.Errorf("insert file %s: %w", path, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("last insert id: %w", err)
		}
		return id, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup file %s: %w", path, err)
	}

	if oldHash == contentHash {
		if _, err := s.db.Exec("UPDATE files SET last_mtime = ?, last_size = ? WHERE id = ?", mtime, size, id); err != nil {
			return 0, false, fmt.Errorf("touch file %s: %w", path, err)
		}
		return id, false, nil
	}
	_, err = s.db.Exec(
		`UPDATE files SET content_hash = ?, last_mtime = ?, last_size = ?, indexing_status = ?
		 WHERE id = ?`,
		contentHash, mtime, size, StatusDirty, id,
	)
	if err != nil {
		return 0, false, fmt.Errorf("update file %s: %w", path, err)
	}
	return id, true, nil
}

// FileByPath returns the file row for path, or nil when it is not indexed.
func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

// FileByID returns the file row with id, or nil.
func (s *Store) FileByID(id int64) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

// AllFiles returns every file row ordered by path.
func (s *Store) AllFiles() ([]*File, error) {
	rows, err := s.db.Query("SELECT " + fileCols + " FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("all files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file and, by cascade, its symbols and references.
// Links in other files that pointed at the removed symbols are cleared so
// the linker can re-resolve them.
func (s *Store) DeleteFile(fileID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.invalidate()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := symbolStatesTx(tx, fileID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(old))
	var aliases []string
	for id, st := range old {
		ids = append(ids, id)
		if st.kind == KindAlias && st.fqn != "" {
			aliases = append(aliases, st.fqn)
		}
	}
	if err := unlinkTx(tx, fileID, ids); err != nil {
		return err
	}
	if err := unlinkThroughAliasesTx(tx, fileID, aliases); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM files WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return tx.Commit()
}

// MarkAllDirty flags every file for re-extraction, e.g. after an adapter
// change.
func (s *Store) MarkAllDirty() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec("UPDATE files SET indexing_status = ?", StatusDirty); err != nil {
		return fmt.Errorf("mark all dirty: %w", err)
	}
	return nil
}
