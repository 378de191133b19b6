package message

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an event's wire type code.
type Kind string

const (
	// KindSessionStart opens a session. The event's ID equals its SessionID;
	// every other kind gets a fresh UUID when persisted.
	KindSessionStart Kind = "ss"
	// KindSessionEnd closes a session. Synthesized by the pipeline, never
	// submitted by producers.
	KindSessionEnd Kind = "se"
	// KindEvent is an application analytics event.
	KindEvent Kind = "e"
	// KindError is an error/crash report. Also appended to the breadcrumb
	// trail for later error context.
	KindError Kind = "x"
	// KindFirstRun marks the first launch after install. Persisted directly
	// as BatchReady so it is eligible for the very next upload.
	KindFirstRun Kind = "fr"
	// KindBreadcrumb is a lightweight diagnostic trail entry.
	KindBreadcrumb Kind = "bc"
)

// Status is the upload lifecycle of a persisted event.
// The ordering Ready < BatchReady < Uploaded is monotonic: a row's status
// never regresses.
type Status int

const (
	StatusReady      Status = 1
	StatusBatchReady Status = 2
	StatusUploaded   Status = 3
)

const (
	// TemporaryMpID is the reserved identity for events logged before a real
	// user identity is known. Excluded from all upload selection.
	TemporaryMpID int64 = 0

	// NoSessionID marks events logged outside any session.
	NoSessionID = "NO-SESSION"

	// MaxMessageSize is the maximum serialized payload size in bytes.
	// Oversized events are dropped, never truncated or split.
	MaxMessageSize = 100 * 1024

	// SelectLimit caps every batch/history selection. Callers loop if more
	// rows remain.
	SelectLimit = 100

	// DefaultBreadcrumbLimit is the per-mpid breadcrumb ring buffer size.
	DefaultBreadcrumbLimit = 50
)

// Wire keys for serialized event documents.
const (
	keyKind         = "dt"
	keyID           = "id"
	keyTimestamp    = "ct"
	keySessionID    = "sid"
	keySessionStart = "sct"
	keyName         = "n"
	keyAttributes   = "attrs"
	keyStateInfo    = "stat"
)

// Event is a single pipeline record.
//
// ID is assigned by the serial processor when the event is persisted, except
// for session-start events, whose ID is the session id itself. Extra holds
// kind-specific fields (session length, location, ...) that are merged into
// the serialized document as-is.
type Event struct {
	ID           string
	Kind         Kind
	Timestamp    int64 // unix milliseconds
	SessionID    string
	SessionStart int64 // session start time, zero outside a session
	MpID         int64
	Name         string
	Attributes   map[string]string
	StateInfo    map[string]any
	Extra        map[string]any
}

// Document builds the serializable payload for the event.
// Empty fields are omitted. Events outside a session carry no session id key
// even though the row itself is keyed by NoSessionID.
func (e *Event) Document() map[string]any {
	doc := make(map[string]any, 8+len(e.Extra))
	doc[keyKind] = string(e.Kind)
	doc[keyTimestamp] = e.Timestamp
	if e.ID != "" {
		doc[keyID] = e.ID
	}
	if e.SessionID != "" && e.SessionID != NoSessionID {
		doc[keySessionID] = e.SessionID
	}
	if e.SessionStart > 0 {
		doc[keySessionStart] = e.SessionStart
	}
	if e.Name != "" {
		doc[keyName] = e.Name
	}
	if len(e.Attributes) > 0 {
		doc[keyAttributes] = e.Attributes
	}
	if len(e.StateInfo) > 0 {
		doc[keyStateInfo] = e.StateInfo
	}
	for k, v := range e.Extra {
		doc[k] = v
	}
	return doc
}

// Marshal serializes the event document to compact JSON.
// Returns an OversizedError if the result exceeds MaxMessageSize.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e.Document())
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, &OversizedError{Size: len(data)}
	}
	return data, nil
}

// OversizedError reports a serialized payload exceeding MaxMessageSize.
// The event is dropped; callers log and continue.
type OversizedError struct {
	Size int
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("message of size %d exceeds maximum safe size of %d bytes", e.Size, MaxMessageSize)
}

// ReadyMessage is a persisted event selected for upload.
// ID is the monotonic insertion id; batch boundaries are defined by the
// maximum ID in a batch.
type ReadyMessage struct {
	ID              int64
	SessionID       string
	MpID            int64
	Message         string
	DataplanID      string
	DataplanVersion *int
}

// AttributionChange describes a single user attribute mutation for observer
// notification. It is ephemeral: emitted, never persisted.
//
// OldValue and NewValue are either string (single attribute), []string (list
// attribute), or nil (absent/deleted).
type AttributionChange struct {
	Key          string
	OldValue     any
	NewValue     any
	Deleted      bool
	NewAttribute bool
	Time         int64
	MpID         int64
}

// ReportingMessage is a record for the secondary reporting sink.
// Its lifecycle is independent from event records.
type ReportingMessage struct {
	SessionID string
	Timestamp int64
	Body      map[string]any
}

// AliasRequest asks the backend to alias one identity's history to another.
type AliasRequest struct {
	RequestID       string
	SourceMpID      int64
	DestinationMpID int64
	StartTime       int64
	EndTime         int64
}

// Document builds the serializable payload for the alias request.
func (r *AliasRequest) Document() map[string]any {
	return map[string]any{
		"request_id":       r.RequestID,
		"source_mpid":      r.SourceMpID,
		"destination_mpid": r.DestinationMpID,
		"start_time":       r.StartTime,
		"end_time":         r.EndTime,
	}
}
