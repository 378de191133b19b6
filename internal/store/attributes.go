package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/statlight/statlight/internal/message"
)

// User attributes live in one table, one row per (mpid, key), with an
// is_list flag selecting the value encoding: plain text for singles, a JSON
// array for lists. The UNIQUE(mp_id, attribute_key) constraint enforces the
// invariant that a key exists in at most one of the two stores at a time.
//
// Keys are normalized to NFC before storage so logically equal keys hit the
// same row regardless of the producer's Unicode composition.

// NormalizeKey returns the NFC-normalized form of an attribute key,
// matching the normalization applied on every write.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}

// UserAttributeSingles returns all single-value attributes for an mpid.
func (s *Store) UserAttributeSingles(ctx context.Context, mpID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attribute_key, attribute_value FROM user_attributes
		WHERE mp_id = ? AND is_list = 0
	`, mpID)
	if err != nil {
		return nil, fmt.Errorf("query attribute singles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute single: %w", err)
		}
		out[k] = v.String
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribute singles: %w", err)
	}

	return out, nil
}

// UserAttributeLists returns all list attributes for an mpid.
func (s *Store) UserAttributeLists(ctx context.Context, mpID int64) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attribute_key, attribute_value FROM user_attributes
		WHERE mp_id = ? AND is_list = 1
	`, mpID)
	if err != nil {
		return nil, fmt.Errorf("query attribute lists: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute list: %w", err)
		}
		var list []string
		if v.Valid && v.String != "" {
			if err := json.Unmarshal([]byte(v.String), &list); err != nil {
				return nil, fmt.Errorf("decode attribute list %q: %w", k, err)
			}
		}
		out[k] = list
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribute lists: %w", err)
	}

	return out, nil
}

// SetUserAttributes upserts single and list attributes for an mpid and
// returns one AttributionChange per key, diffing old against new state.
// Change detection is part of the contract: observers need exact transition
// semantics (was the key new, what was replaced), not just final state.
//
// Writing a single over an existing list key (or vice versa) replaces the
// row, preserving the one-store-per-key invariant.
func (s *Store) SetUserAttributes(ctx context.Context, mpID int64, singles map[string]string, lists map[string][]string, now int64) ([]message.AttributionChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("set user attributes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var changes []message.AttributionChange

	for key, value := range singles {
		key = norm.NFC.String(key)
		old, existed, err := readAttribute(ctx, tx, mpID, key)
		if err != nil {
			return nil, fmt.Errorf("set user attributes: %w", err)
		}
		if err := upsertAttribute(ctx, tx, mpID, key, value, false, now); err != nil {
			return nil, fmt.Errorf("set user attributes: %w", err)
		}
		changes = append(changes, message.AttributionChange{
			Key:          key,
			OldValue:     old,
			NewValue:     value,
			NewAttribute: !existed,
			Time:         now,
			MpID:         mpID,
		})
	}

	for key, list := range lists {
		key = norm.NFC.String(key)
		old, existed, err := readAttribute(ctx, tx, mpID, key)
		if err != nil {
			return nil, fmt.Errorf("set user attributes: %w", err)
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("set user attributes: encode list %q: %w", key, err)
		}
		if err := upsertAttribute(ctx, tx, mpID, key, string(encoded), true, now); err != nil {
			return nil, fmt.Errorf("set user attributes: %w", err)
		}
		changes = append(changes, message.AttributionChange{
			Key:          key,
			OldValue:     old,
			NewValue:     list,
			NewAttribute: !existed,
			Time:         now,
			MpID:         mpID,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("set user attributes: commit: %w", err)
	}

	return changes, nil
}

// RemoveUserAttribute deletes an attribute and returns the change record.
// Removing an absent key still emits a change (old value nil) so observers
// see every removal request.
func (s *Store) RemoveUserAttribute(ctx context.Context, mpID int64, key string, now int64) (message.AttributionChange, error) {
	key = norm.NFC.String(key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return message.AttributionChange{}, fmt.Errorf("remove user attribute: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	old, _, err := readAttribute(ctx, tx, mpID, key)
	if err != nil {
		return message.AttributionChange{}, fmt.Errorf("remove user attribute: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM user_attributes WHERE mp_id = ? AND attribute_key = ?
	`, mpID, key)
	if err != nil {
		return message.AttributionChange{}, fmt.Errorf("remove user attribute: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return message.AttributionChange{}, fmt.Errorf("remove user attribute: commit: %w", err)
	}

	return message.AttributionChange{
		Key:      key,
		OldValue: old,
		Deleted:  true,
		Time:     now,
		MpID:     mpID,
	}, nil
}

// readAttribute returns the current value for a key in either store:
// string for singles, []string for lists, nil when absent.
func readAttribute(ctx context.Context, tx *sql.Tx, mpID int64, key string) (any, bool, error) {
	var (
		value  sql.NullString
		isList bool
	)
	err := tx.QueryRowContext(ctx, `
		SELECT attribute_value, is_list FROM user_attributes
		WHERE mp_id = ? AND attribute_key = ?
	`, mpID, key).Scan(&value, &isList)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read attribute %q: %w", key, err)
	}

	if !isList {
		return value.String, true, nil
	}

	var list []string
	if value.Valid && value.String != "" {
		if err := json.Unmarshal([]byte(value.String), &list); err != nil {
			return nil, false, fmt.Errorf("decode attribute list %q: %w", key, err)
		}
	}
	return list, true, nil
}

func upsertAttribute(ctx context.Context, tx *sql.Tx, mpID int64, key, value string, isList bool, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_attributes (mp_id, attribute_key, attribute_value, is_list, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mp_id, attribute_key) DO UPDATE SET
			attribute_value = excluded.attribute_value,
			is_list = excluded.is_list,
			created_at = excluded.created_at
	`, mpID, key, value, isList, now)
	if err != nil {
		return fmt.Errorf("upsert attribute %q: %w", key, err)
	}
	return nil
}
