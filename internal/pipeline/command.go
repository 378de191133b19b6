package pipeline

import (
	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/session"
)

// CommandKind distinguishes between command kinds.
// Every kind is handled explicitly in the processor's dispatch switch.
type CommandKind int

const (
	// CommandStoreEvent persists an analytics event. Session-start events
	// also create their session row; error events also append a breadcrumb.
	CommandStoreEvent CommandKind = iota + 1
	// CommandUpdateSessionAttributes replaces a session's attribute document.
	CommandUpdateSessionAttributes
	// CommandUpdateSessionEnd advances a session's last-event and
	// foreground times from a tracker snapshot.
	CommandUpdateSessionEnd
	// CommandCreateSessionEnd synthesizes and persists the session-end
	// message and transitions the session to Closed.
	CommandCreateSessionEnd
	// CommandEndOrphanSessions sweeps sessions left Open by an unclean
	// prior shutdown, enqueuing a CommandCreateSessionEnd for each.
	CommandEndOrphanSessions
	// CommandStoreBreadcrumb appends a standalone breadcrumb.
	CommandStoreBreadcrumb
	// CommandStoreReportingBatch persists records for the reporting sink.
	CommandStoreReportingBatch
	// CommandRemoveUserAttribute deletes a user attribute.
	CommandRemoveUserAttribute
	// CommandSetUserAttributes upserts single and list user attributes.
	CommandSetUserAttributes
	// CommandIncrementUserAttribute adds a delta to a numeric single
	// attribute.
	CommandIncrementUserAttribute
	// CommandClearForUpload is a barrier signal: all commands enqueued
	// before it are persisted when the callback fires.
	CommandClearForUpload
	// CommandStoreAliasRequest persists an identity alias request and
	// nudges the uploader.
	CommandStoreAliasRequest
	// CommandUpdateInstallReferrer stores the install referrer on the
	// current session.
	CommandUpdateInstallReferrer
)

// Command wraps typed payloads for the command queue.
// Exactly one payload field is set, selected by Kind.
type Command struct {
	Kind CommandKind

	Event             *message.Event           // StoreEvent, StoreBreadcrumb
	SessionUpdate     *session.Snapshot        // UpdateSessionEnd
	SessionAttributes *SessionAttributesUpdate // UpdateSessionAttributes
	SessionEnd        *SessionEndRequest       // CreateSessionEnd
	Attribute         *AttributeRequest        // Set/Remove/IncrementUserAttribute
	Reporting         *ReportingBatch          // StoreReportingBatch
	Alias             *message.AliasRequest    // StoreAliasRequest
	Referrer          *ReferrerUpdate          // UpdateInstallReferrer
	MpID              int64                    // EndOrphanSessions attribution
}

// SessionAttributesUpdate carries a session's replacement attribute document.
type SessionAttributesUpdate struct {
	SessionID  string
	Attributes string // JSON document
}

// SessionEndRequest identifies the session to close and the mpids observed
// during it. EndingSession is true when the request comes from normal
// session teardown (vs. the orphan sweep or a periodic flush); it triggers
// the end-upload-loop callback afterward.
type SessionEndRequest struct {
	SessionID     string
	MpIDs         []int64
	EndingSession bool
}

// AttributeRequest carries a user attribute mutation.
// Set uses Singles/Lists; Remove uses Key; Increment uses Key and Delta.
type AttributeRequest struct {
	MpID      int64
	Timestamp int64
	Key       string
	Delta     int64
	Singles   map[string]string
	Lists     map[string][]string
}

// ReportingBatch carries reporting records for one mpid.
type ReportingBatch struct {
	MpID     int64
	Messages []message.ReportingMessage
}

// ReferrerUpdate carries a new install referrer value.
type ReferrerUpdate struct {
	Referrer string
}

// String returns the command kind's name for logging.
func (k CommandKind) String() string {
	switch k {
	case CommandStoreEvent:
		return "store_event"
	case CommandUpdateSessionAttributes:
		return "update_session_attributes"
	case CommandUpdateSessionEnd:
		return "update_session_end"
	case CommandCreateSessionEnd:
		return "create_session_end"
	case CommandEndOrphanSessions:
		return "end_orphan_sessions"
	case CommandStoreBreadcrumb:
		return "store_breadcrumb"
	case CommandStoreReportingBatch:
		return "store_reporting_batch"
	case CommandRemoveUserAttribute:
		return "remove_user_attribute"
	case CommandSetUserAttributes:
		return "set_user_attributes"
	case CommandIncrementUserAttribute:
		return "increment_user_attribute"
	case CommandClearForUpload:
		return "clear_for_upload"
	case CommandStoreAliasRequest:
		return "store_alias_request"
	case CommandUpdateInstallReferrer:
		return "update_install_referrer"
	default:
		return "unknown"
	}
}
