package storage

// audit.go contains SQLiteStore methods for the remote access audit log.

import (
	"fmt"
	"time"

	apperrors "github.com/desksrv/host/internal/errors"
)

// AuditEntry is one durable audit record.
type AuditEntry struct {
	ID         int64
	Kind       string
	ConnID     string
	RemoteAddr string
	Detail     string
	At         time.Time
}

// AuditFilter narrows ListAudit. Zero values match everything.
type AuditFilter struct {
	Kind  string
	Limit int
}

// SaveAndPruneAudit inserts an entry and drops the oldest rows beyond
// maxRows in one transaction. maxRows <= 0 keeps everything.
func (s *SQLiteStore) SaveAndPruneAudit(entry *AuditEntry, maxRows int) error {
	if entry == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if entry.Kind == "" {
		return apperrors.New(apperrors.CodeStorageSaveFailed, "audit kind is required")
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO audit_log (kind, conn_id, remote_addr, detail, at)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insertQuery,
		entry.Kind,
		entry.ConnID,
		entry.RemoteAddr,
		entry.Detail,
		entry.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "insert audit", err)
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM audit_log
			WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, maxRows); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "prune audit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "commit audit", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListAudit returns entries newest first.
func (s *SQLiteStore) ListAudit(f AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, kind, conn_id, remote_addr, detail, at FROM audit_log`
	var args []interface{}
	if f.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query audit", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			entry AuditEntry
			atStr string
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.ConnID, &entry.RemoteAddr, &entry.Detail, &atStr); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan audit", err)
		}
		at, err := time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "parse audit time", err)
		}
		entry.At = at
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate audit", err)
	}
	return entries, nil
}

// CountAudit returns the number of stored entries.
func (s *SQLiteStore) CountAudit() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "count audit", err)
	}
	return n, nil
}
