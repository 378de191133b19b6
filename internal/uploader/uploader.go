// Package uploader selects ready batches from the store and applies upload
// outcomes.
//
// The selector is read-only relative to producers: it never touches event
// payloads, only their status. The actual network transport is the host's
// concern, expressed by the Uploader interface.
package uploader

import (
	"context"
	"fmt"

	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/store"
)

// Uploader is the external transport collaborator. Upload attempts a single
// delivery of the batch; the caller decides what to do with the outcome.
type Uploader interface {
	Upload(ctx context.Context, batch *Batch) error
}

// Batch is a bounded set of not-yet-uploaded messages selected together.
// MaxID is the highest insertion id in the batch and defines the boundary
// for MarkUploaded/Delete.
type Batch struct {
	Messages []message.ReadyMessage
	MaxID    int64
}

// Selector builds upload batches over the persistent store.
type Selector struct {
	store *store.Store
}

// NewSelector creates a Selector over the given store.
func NewSelector(s *store.Store) *Selector {
	return &Selector{store: s}
}

// NextBatch selects the next batch of ready messages in insertion order,
// capped at message.SelectLimit rows. excludeMpID (normally
// message.TemporaryMpID) is never included. Returns an empty batch when
// nothing is ready; callers loop while batches are non-empty.
func (s *Selector) NextBatch(ctx context.Context, excludeMpID int64) (*Batch, error) {
	msgs, err := s.store.MessagesForUpload(ctx, excludeMpID)
	if err != nil {
		return nil, fmt.Errorf("next batch: %w", err)
	}
	return newBatch(msgs), nil
}

// SessionHistory selects already-uploaded messages from sessions other than
// currentSessionID for the history upload path.
func (s *Selector) SessionHistory(ctx context.Context, currentSessionID string, excludeMpID int64) (*Batch, error) {
	msgs, err := s.store.SessionHistory(ctx, currentSessionID, excludeMpID)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	return newBatch(msgs), nil
}

// MarkUploaded records a successful upload of everything up to the batch
// boundary. Idempotent: re-applying the same boundary is a no-op on rows
// already marked.
func (s *Selector) MarkUploaded(ctx context.Context, batch *Batch, excludeMpID int64) error {
	if batch.MaxID == 0 {
		return nil
	}
	if _, err := s.store.MarkUploaded(ctx, batch.MaxID, excludeMpID); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	return nil
}

// Delete removes everything up to the batch boundary. Used after a
// successful session-history upload. Idempotent.
func (s *Selector) Delete(ctx context.Context, batch *Batch, excludeMpID int64) error {
	if batch.MaxID == 0 {
		return nil
	}
	if _, err := s.store.DeleteMessages(ctx, batch.MaxID, excludeMpID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// Process drains ready batches through the uploader until the store has
// nothing left or an upload fails. Each successful upload marks its batch;
// a failed upload leaves the batch untouched for a later attempt
// (at-least-once upload).
func (s *Selector) Process(ctx context.Context, u Uploader, excludeMpID int64) error {
	for {
		batch, err := s.NextBatch(ctx, excludeMpID)
		if err != nil {
			return err
		}
		if len(batch.Messages) == 0 {
			return nil
		}
		if err := u.Upload(ctx, batch); err != nil {
			return fmt.Errorf("upload batch: %w", err)
		}
		if err := s.MarkUploaded(ctx, batch, excludeMpID); err != nil {
			return err
		}
	}
}

func newBatch(msgs []message.ReadyMessage) *Batch {
	b := &Batch{Messages: msgs}
	for _, m := range msgs {
		if m.ID > b.MaxID {
			b.MaxID = m.ID
		}
	}
	return b
}
