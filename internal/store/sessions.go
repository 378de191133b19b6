package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/session"
)

// ErrSessionNotFound is returned when a session id has no row.
// Callers treat it as a data-integrity warning, not a fatal error.
var ErrSessionNotFound = errors.New("store: session not found")

// InsertSessionStart atomically inserts the session row and its
// session-start message in one transaction. The session row must exist
// before any other record referencing it is queryable, and a crash between
// the two writes must not leave a start message without a session.
func (s *Store) InsertSessionStart(ctx context.Context, ev *message.Event, appInfo, deviceInfo map[string]any, dataplanID string, dataplanVersion *int) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("insert session start: %w", err)
	}

	appJSON, err := marshalDocument(appInfo)
	if err != nil {
		return fmt.Errorf("insert session start: app info: %w", err)
	}
	deviceJSON, err := marshalDocument(deviceInfo)
	if err != nil {
		return fmt.Errorf("insert session start: device info: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert session start: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions
		(session_id, mp_id, start_time, end_time, app_info, device_info, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`,
		ev.SessionID,
		ev.MpID,
		ev.Timestamp,
		ev.Timestamp,
		appJSON,
		deviceJSON,
		int(session.StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("insert session start: session row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages
		(message, created_at, status, session_id, mp_id, dataplan_id, dataplan_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(data),
		ev.Timestamp,
		int(message.StatusReady),
		ev.SessionID,
		ev.MpID,
		nullString(dataplanID),
		dataplanVersion,
	)
	if err != nil {
		return fmt.Errorf("insert session start: message row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert session start: commit: %w", err)
	}

	return nil
}

// UpdateSessionEnd advances a session's last-event time and, when positive,
// its accumulated foreground time.
func (s *Store) UpdateSessionEnd(ctx context.Context, sessionID string, endTime, foregroundTime int64) error {
	var err error
	if foregroundTime > 0 {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET end_time = ?, foreground_time = ?
			WHERE session_id = ?
		`, endTime, foregroundTime, sessionID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET end_time = ? WHERE session_id = ?
		`, endTime, sessionID)
	}
	if err != nil {
		return fmt.Errorf("update session end: %w", err)
	}
	return nil
}

// UpdateSessionAttributes replaces a session's attribute document.
func (s *Store) UpdateSessionAttributes(ctx context.Context, sessionID, attributesJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET attributes = ? WHERE session_id = ?
	`, attributesJSON, sessionID)
	if err != nil {
		return fmt.Errorf("update session attributes: %w", err)
	}
	return nil
}

// UpdateSessionStatus transitions a session's lifecycle status.
// StatusClosed is terminal; the pipeline never transitions back to Open.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status session.Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ? WHERE session_id = ?
	`, int(status), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// UpdateSessionInstallReferrer stores the install referrer on a session
// together with a refreshed app-info document.
func (s *Store) UpdateSessionInstallReferrer(ctx context.Context, sessionID, referrer string, appInfo map[string]any) error {
	appJSON, err := marshalDocument(appInfo)
	if err != nil {
		return fmt.Errorf("update install referrer: app info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET install_referrer = ?, app_info = ?
		WHERE session_id = ?
	`, referrer, appJSON, sessionID)
	if err != nil {
		return fmt.Errorf("update install referrer: %w", err)
	}
	return nil
}

// OrphanSessionIDs returns ids of sessions still Open that do not match the
// current session - sessions left behind by an unclean process exit.
func (s *Store) OrphanSessionIDs(ctx context.Context, currentSessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM sessions
		WHERE status = ? AND session_id != ?
		ORDER BY start_time ASC
	`, int(session.StatusOpen), currentSessionID)
	if err != nil {
		return nil, fmt.Errorf("query orphan sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan session: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan sessions: %w", err)
	}

	return ids, nil
}

// SessionForEndMessage synthesizes the session-end event for a session.
// The returned event has no ID; the serial processor assigns one before
// persisting. Returns ErrSessionNotFound if the session row is missing.
//
// mpids is the set of user identities observed during the session - used
// downstream to attribute orphan sessions.
func (s *Store) SessionForEndMessage(ctx context.Context, sessionID string, location map[string]any, mpids []int64) (*message.Event, error) {
	var (
		mpID       int64
		startTime  int64
		endTime    int64
		foreground int64
		attributes sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT mp_id, start_time, end_time, foreground_time, attributes
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&mpID, &startTime, &endTime, &foreground, &attributes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session for end message: %w", err)
	}

	extra := map[string]any{
		"sl":     foreground,          // foreground session length
		"slx":    endTime - startTime, // total session length
		"smpids": mpids,
	}
	if location != nil {
		extra["lc"] = location
	}
	if attributes.Valid && attributes.String != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(attributes.String), &doc); err == nil && len(doc) > 0 {
			extra["attrs"] = doc
		}
	}

	return &message.Event{
		Kind:         message.KindSessionEnd,
		Timestamp:    endTime,
		SessionID:    sessionID,
		SessionStart: startTime,
		MpID:         mpID,
		Extra:        extra,
	}, nil
}

// SessionInfo is a diagnostic view of a session row.
type SessionInfo struct {
	ID             string
	MpID           int64
	StartTime      int64
	EndTime        int64
	ForegroundTime int64
	Status         session.Status
}

// Sessions lists all session rows, oldest first. Diagnostic use only.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, mp_id, start_time, end_time, foreground_time, status
		FROM sessions ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info   SessionInfo
			status int
		)
		if err := rows.Scan(&info.ID, &info.MpID, &info.StartTime, &info.EndTime, &info.ForegroundTime, &status); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.Status = session.Status(status)
		out = append(out, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return out, nil
}

// SessionStatus returns a single session's lifecycle status.
func (s *Store) SessionStatus(ctx context.Context, sessionID string) (session.Status, error) {
	var status int
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("session status: %w", err)
	}
	return session.Status(status), nil
}

// marshalDocument serializes an optional JSON document, mapping nil to SQL NULL.
func marshalDocument(doc map[string]any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
