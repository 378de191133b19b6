package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/statlight/statlight/internal/message"
)

// InsertMessage serializes and inserts an event record.
//
// first-run events are inserted as BatchReady so they are eligible for the
// very next upload; everything else starts Ready. Oversized payloads are
// rejected with message.OversizedError - the event is dropped, never
// truncated or split.
func (s *Store) InsertMessage(ctx context.Context, ev *message.Event, dataplanID string, dataplanVersion *int) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	status := message.StatusReady
	if ev.Kind == message.KindFirstRun {
		status = message.StatusBatchReady
	}

	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = message.NoSessionID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages
		(message, created_at, status, session_id, mp_id, dataplan_id, dataplan_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(data),
		ev.Timestamp,
		int(status),
		sessionID,
		ev.MpID,
		nullString(dataplanID),
		dataplanVersion,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// MessagesForUpload selects not-yet-uploaded messages in insertion order,
// capped at message.SelectLimit. Rows created at or after "now" are skipped
// (age gate against racing an in-flight write), as are rows belonging to
// excludeMpID (normally message.TemporaryMpID).
func (s *Store) MessagesForUpload(ctx context.Context, excludeMpID int64) ([]message.ReadyMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT _id, session_id, mp_id, message, dataplan_id, dataplan_version
		FROM messages
		WHERE status != ? AND created_at < ? AND mp_id != ?
		ORDER BY _id ASC
		LIMIT ?
	`,
		int(message.StatusUploaded),
		time.Now().UnixMilli(),
		excludeMpID,
		message.SelectLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for upload: %w", err)
	}
	defer rows.Close()

	return scanReadyMessages(rows)
}

// SessionHistory selects already-uploaded messages from sessions other than
// the current one, in insertion order, capped at message.SelectLimit. The
// history upload path replays these before DeleteSessionHistory purges them.
func (s *Store) SessionHistory(ctx context.Context, currentSessionID string, excludeMpID int64) ([]message.ReadyMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT _id, session_id, mp_id, message, dataplan_id, dataplan_version
		FROM messages
		WHERE status = ? AND session_id != ? AND mp_id != ?
		ORDER BY _id ASC
		LIMIT ?
	`,
		int(message.StatusUploaded),
		currentSessionID,
		excludeMpID,
		message.SelectLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	return scanReadyMessages(rows)
}

// MarkUploaded transitions all rows with id <= maxID to Uploaded, excluding
// excludeMpID. Idempotent: re-applying the same maxID is a no-op on rows
// already Uploaded (status only moves forward).
func (s *Store) MarkUploaded(ctx context.Context, maxID int64, excludeMpID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?
		WHERE _id <= ? AND mp_id != ? AND status != ?
	`,
		int(message.StatusUploaded),
		maxID,
		excludeMpID,
		int(message.StatusUploaded),
	)
	if err != nil {
		return 0, fmt.Errorf("mark uploaded: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMessages deletes all rows with id <= maxID, excluding excludeMpID.
// Used after a successful session-history upload. Idempotent.
func (s *Store) DeleteMessages(ctx context.Context, maxID int64, excludeMpID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE _id <= ? AND mp_id != ?
	`, maxID, excludeMpID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSessionHistory purges uploaded rows from sessions other than the
// current one. Mirrors the SessionHistory selection predicate.
func (s *Store) DeleteSessionHistory(ctx context.Context, currentSessionID string, excludeMpID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE status = ? AND session_id != ? AND mp_id != ?
	`,
		int(message.StatusUploaded),
		currentSessionID,
		excludeMpID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete session history: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOversized removes any stored payload larger than maxBytes.
// Safety net for rows written before the insert-time size check existed.
func (s *Store) DeleteOversized(ctx context.Context, maxBytes int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE length(message) > ?
	`, maxBytes)
	if err != nil {
		return 0, fmt.Errorf("delete oversized: %w", err)
	}
	return res.RowsAffected()
}

// MessageCount returns the total number of stored messages.
// Diagnostic use only.
func (s *Store) MessageCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanReadyMessages(rows *sql.Rows) ([]message.ReadyMessage, error) {
	var out []message.ReadyMessage
	for rows.Next() {
		var (
			m  message.ReadyMessage
			dp sql.NullString
			dv sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.MpID, &m.Message, &dp, &dv); err != nil {
			return nil, fmt.Errorf("scan ready message: %w", err)
		}
		if dp.Valid {
			m.DataplanID = dp.String
		}
		if dv.Valid {
			v := int(dv.Int64)
			m.DataplanVersion = &v
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ready messages: %w", err)
	}

	// Return empty slice instead of nil
	if out == nil {
		out = []message.ReadyMessage{}
	}

	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
