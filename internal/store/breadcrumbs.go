package store

import (
	"context"
	"fmt"

	"github.com/statlight/statlight/internal/message"
)

// AppendBreadcrumb inserts a breadcrumb for the event's mpid and, when the
// per-mpid count exceeds limit, evicts the single oldest entry (lowest
// insertion id). Insert and eviction run in one transaction, so the count
// never observably exceeds limit.
func (s *Store) AppendBreadcrumb(ctx context.Context, ev *message.Event, limit int) error {
	if limit <= 0 {
		limit = message.DefaultBreadcrumbLimit
	}

	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("append breadcrumb: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append breadcrumb: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO breadcrumbs (mp_id, session_id, created_at, message)
		VALUES (?, ?, ?, ?)
	`, ev.MpID, ev.SessionID, ev.Timestamp, string(data))
	if err != nil {
		return fmt.Errorf("append breadcrumb: insert: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM breadcrumbs WHERE mp_id = ?
	`, ev.MpID).Scan(&count)
	if err != nil {
		return fmt.Errorf("append breadcrumb: count: %w", err)
	}

	if count > limit {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM breadcrumbs WHERE _id = (
				SELECT MIN(_id) FROM breadcrumbs WHERE mp_id = ?
			)
		`, ev.MpID)
		if err != nil {
			return fmt.Errorf("append breadcrumb: evict: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append breadcrumb: commit: %w", err)
	}

	return nil
}

// Breadcrumbs returns up to limit serialized breadcrumbs for an mpid,
// newest first. Used to attach error context to crash reports.
func (s *Store) Breadcrumbs(ctx context.Context, mpID int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = message.DefaultBreadcrumbLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message FROM breadcrumbs
		WHERE mp_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, mpID, limit)
	if err != nil {
		return nil, fmt.Errorf("query breadcrumbs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan breadcrumb: %w", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breadcrumbs: %w", err)
	}

	return out, nil
}

// BreadcrumbCount returns the number of stored breadcrumbs for an mpid.
func (s *Store) BreadcrumbCount(ctx context.Context, mpID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM breadcrumbs WHERE mp_id = ?
	`, mpID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count breadcrumbs: %w", err)
	}
	return n, nil
}
