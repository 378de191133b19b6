package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/statlight/statlight/internal/message"
)

// InsertReportingMessages stores a batch of reporting records for one mpid
// in a single transaction. Reporting records have their own lifecycle,
// independent from event records.
func (s *Store) InsertReportingMessages(ctx context.Context, msgs []message.ReportingMessage, mpID int64) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert reporting messages: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reporting_messages (mp_id, session_id, created_at, message)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert reporting messages: prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		data, err := json.Marshal(m.Body)
		if err != nil {
			return fmt.Errorf("insert reporting messages: marshal: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, mpID, m.SessionID, m.Timestamp, string(data)); err != nil {
			return fmt.Errorf("insert reporting messages: exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert reporting messages: commit: %w", err)
	}

	return nil
}

// ReportingMessageCount returns the number of stored reporting records.
// Diagnostic use only.
func (s *Store) ReportingMessageCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reporting_messages`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reporting messages: %w", err)
	}
	return n, nil
}

// InsertAliasRequest stores an identity alias request.
func (s *Store) InsertAliasRequest(ctx context.Context, req message.AliasRequest, now int64) error {
	data, err := json.Marshal(req.Document())
	if err != nil {
		return fmt.Errorf("insert alias request: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alias_requests (created_at, request) VALUES (?, ?)
	`, now, string(data))
	if err != nil {
		return fmt.Errorf("insert alias request: %w", err)
	}
	return nil
}
