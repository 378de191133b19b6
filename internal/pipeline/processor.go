package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/statlight/statlight/internal/device"
	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/session"
	"github.com/statlight/statlight/internal/store"
)

// Callbacks is the host SDK's side of the pipeline.
//
// All methods are invoked from the worker goroutine; implementations must
// not block for long or they will stall command processing.
type Callbacks interface {
	// APIKey returns the upload credentials, or ErrNoCredentials when none
	// are configured.
	APIKey() (string, error)

	// DelayedStart fires before each command once the store is reachable.
	// Hosts use the first invocation after idle as a lazy-init signal.
	DelayedStart()

	// CheckForTrigger fires after each successfully persisted event, e.g.
	// for push-to-upload-now policies.
	CheckForTrigger(ev *message.Event)

	// EndUploadLoop fires after a session-end message created as part of
	// session teardown (vs. a periodic flush).
	EndUploadLoop()

	// MessagesClearedForUpload fires when a ClearForUpload barrier command
	// is reached: every command enqueued before it has been processed.
	MessagesClearedForUpload()

	// UploadRequested asks the host to start an upload pass immediately.
	UploadRequested()

	// OnAttributeChanged fires once per user attribute mutation with exact
	// transition semantics.
	OnAttributeChanged(change message.AttributionChange)
}

// Processor is the single-writer serial command processor.
//
// Producers on arbitrary goroutines call Enqueue and return immediately;
// Run drains the queue in strict FIFO order on one goroutine, which is the
// sole writer of the store.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// Commands are not cancellable once enqueued: durability wins over
// responsiveness for an analytics pipeline.
type Processor struct {
	store     *store.Store
	queue     *commandQueue
	tracker   *session.Tracker
	device    device.InfoProvider
	callbacks Callbacks
	ids       IDGenerator
	now       func() int64

	dataplanID      string
	dataplanVersion *int
	breadcrumbLimit int
}

// Option configures a Processor.
type Option func(*Processor)

// WithIDGenerator overrides the event id generator. Tests use
// FixedGenerator for deterministic persisted payloads.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Processor) { p.ids = g }
}

// WithDataplan tags every persisted event with a dataplan id and version.
// The tag is opaque to the pipeline; the backend validates against it.
func WithDataplan(id string, version *int) Option {
	return func(p *Processor) {
		p.dataplanID = id
		p.dataplanVersion = version
	}
}

// WithBreadcrumbLimit sets the per-mpid breadcrumb ring buffer size.
// Default: message.DefaultBreadcrumbLimit.
func WithBreadcrumbLimit(n int) Option {
	return func(p *Processor) { p.breadcrumbLimit = n }
}

// WithClock overrides the wall clock (unix milliseconds). Used in tests.
func WithClock(now func() int64) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor. The tracker is the explicit session context:
// the worker reads an immutable snapshot per command instead of sharing
// mutable session state with producers.
func New(s *store.Store, tracker *session.Tracker, dev device.InfoProvider, cb Callbacks, opts ...Option) *Processor {
	p := &Processor{
		store:           s,
		queue:           newCommandQueue(),
		tracker:         tracker,
		device:          dev,
		callbacks:       cb,
		ids:             UUIDv7Generator{},
		now:             func() int64 { return time.Now().UnixMilli() },
		breadcrumbLimit: message.DefaultBreadcrumbLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue submits a command for processing by the Run loop.
// Thread-safe, non-blocking: producers are fire-and-forget and never see
// command failures synchronously.
//
// Returns false if the processor has been stopped.
func (p *Processor) Enqueue(c Command) bool {
	return p.queue.Enqueue(c)
}

// Run starts the single-writer command loop.
// Blocks until context is cancelled or Stop() is called.
//
// Must be called from exactly ONE goroutine. All store writes happen here.
//
// ERROR HANDLING: on command failure the error is logged with command
// context and processing continues. A handler error never terminates the
// worker. If the store is unreachable, the command is dropped, not retried.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("pipeline starting")

	for {
		cmd, ok := p.queue.TryDequeue()
		if ok {
			p.process(ctx, cmd)
			continue
		}

		// No command ready - wait for signal or context cancellation
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping: context cancelled")
			p.queue.Close()
			return ctx.Err()

		case <-p.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately.
			if p.queue.Len() == 0 {
				slog.Info("pipeline stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the processor.
// Closes the command queue, which will cause Run() to return once drained.
func (p *Processor) Stop() {
	p.queue.Close()
}

// process runs one command with the store-reachability gate and the
// log-and-continue failure policy.
func (p *Processor) process(ctx context.Context, cmd Command) {
	if err := p.store.Ping(ctx); err != nil {
		// At-most-once on failure: the command is dropped, not retried.
		slog.Error("store unreachable, dropping command",
			"kind", cmd.Kind.String(),
			"error", err,
		)
		return
	}

	p.callbacks.DelayedStart()

	if err := p.handleCommand(ctx, cmd); err != nil {
		slog.Error("command failed",
			"kind", cmd.Kind.String(),
			"error", err,
		)
	}
}

// handleCommand routes a command to its handler.
// Called only from the Run() goroutine - single-writer guarantee.
func (p *Processor) handleCommand(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandStoreEvent:
		if cmd.Event == nil {
			return fmt.Errorf("store event command missing event data")
		}
		return p.handleStoreEvent(ctx, cmd.Event)

	case CommandUpdateSessionAttributes:
		if cmd.SessionAttributes == nil {
			return fmt.Errorf("session attributes command missing data")
		}
		return p.store.UpdateSessionAttributes(ctx, cmd.SessionAttributes.SessionID, cmd.SessionAttributes.Attributes)

	case CommandUpdateSessionEnd:
		if cmd.SessionUpdate == nil {
			return fmt.Errorf("session end update command missing snapshot")
		}
		return p.store.UpdateSessionEnd(ctx, cmd.SessionUpdate.ID, cmd.SessionUpdate.LastEventTime, cmd.SessionUpdate.ForegroundTime)

	case CommandCreateSessionEnd:
		if cmd.SessionEnd == nil {
			return fmt.Errorf("session end command missing request")
		}
		return p.handleCreateSessionEnd(ctx, cmd.SessionEnd)

	case CommandEndOrphanSessions:
		return p.handleEndOrphanSessions(ctx, cmd.MpID)

	case CommandStoreBreadcrumb:
		if cmd.Event == nil {
			return fmt.Errorf("breadcrumb command missing event data")
		}
		return p.handleStoreBreadcrumb(ctx, cmd.Event)

	case CommandStoreReportingBatch:
		if cmd.Reporting == nil {
			return fmt.Errorf("reporting command missing batch")
		}
		return p.store.InsertReportingMessages(ctx, cmd.Reporting.Messages, cmd.Reporting.MpID)

	case CommandRemoveUserAttribute:
		if cmd.Attribute == nil {
			return fmt.Errorf("remove attribute command missing request")
		}
		return p.handleRemoveUserAttribute(ctx, cmd.Attribute)

	case CommandSetUserAttributes:
		if cmd.Attribute == nil {
			return fmt.Errorf("set attributes command missing request")
		}
		return p.handleSetUserAttributes(ctx, cmd.Attribute)

	case CommandIncrementUserAttribute:
		if cmd.Attribute == nil {
			return fmt.Errorf("increment attribute command missing request")
		}
		return p.handleIncrementUserAttribute(ctx, cmd.Attribute)

	case CommandClearForUpload:
		p.callbacks.MessagesClearedForUpload()
		return nil

	case CommandStoreAliasRequest:
		if cmd.Alias == nil {
			return fmt.Errorf("alias command missing request")
		}
		return p.handleStoreAliasRequest(ctx, cmd.Alias)

	case CommandUpdateInstallReferrer:
		if cmd.Referrer == nil {
			return fmt.Errorf("install referrer command missing update")
		}
		return p.handleUpdateInstallReferrer(ctx, cmd.Referrer)

	default:
		return fmt.Errorf("unknown command kind: %d", cmd.Kind)
	}
}

// handleStoreEvent persists one event.
//
// Session-start events create their session row and event row in one
// transaction - the session must exist before any event referencing it.
// Every other kind first advances the session's last-event time, then gets
// a fresh id. Error events are additionally appended to the breadcrumb
// ring buffer. Missing credentials abort the insert: the event is dropped,
// not queued.
func (p *Processor) handleStoreEvent(ctx context.Context, ev *message.Event) error {
	ev.StateInfo = p.device.StateInfo()

	if ev.Kind == message.KindSessionStart {
		if _, err := p.callbacks.APIKey(); err != nil {
			return fmt.Errorf("store event: %w", err)
		}
		err := p.store.InsertSessionStart(ctx, ev, p.device.AppInfo(false), p.device.DeviceInfo(), p.dataplanID, p.dataplanVersion)
		if err != nil {
			return fmt.Errorf("store event: %w", err)
		}
		p.callbacks.CheckForTrigger(ev)
		return nil
	}

	// Session bookkeeping happens before the event row is written so the
	// session already reflects this event's timestamp when it lands.
	if ev.SessionID != "" && ev.SessionID != message.NoSessionID {
		if err := p.store.UpdateSessionEnd(ctx, ev.SessionID, ev.Timestamp, 0); err != nil {
			return fmt.Errorf("store event: %w", err)
		}
	}
	ev.ID = p.ids.NewID()

	if ev.Kind == message.KindError {
		if err := p.store.AppendBreadcrumb(ctx, ev, p.breadcrumbLimit); err != nil {
			return fmt.Errorf("store event: %w", err)
		}
	}

	if _, err := p.callbacks.APIKey(); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	if err := p.store.InsertMessage(ctx, ev, p.dataplanID, p.dataplanVersion); err != nil {
		return fmt.Errorf("store event: %w", err)
	}

	p.callbacks.CheckForTrigger(ev)
	return nil
}

// handleCreateSessionEnd synthesizes the session-end message and closes the
// session. A missing session row is a data-integrity warning, not a fatal
// error: the orphan sweep must survive inconsistent leftovers.
func (p *Processor) handleCreateSessionEnd(ctx context.Context, req *SessionEndRequest) error {
	// Missing credentials abort before any teardown signal fires.
	if _, err := p.callbacks.APIKey(); err != nil {
		return fmt.Errorf("create session end: %w", err)
	}

	// From here the end-upload-loop signal fires whether or not the message
	// could be created; session teardown must not hang on a missing row.
	if req.EndingSession {
		defer p.callbacks.EndUploadLoop()
	}

	ev, err := p.store.SessionForEndMessage(ctx, req.SessionID, p.device.Location(), req.MpIDs)
	if errors.Is(err, store.ErrSessionNotFound) {
		slog.Warn("no entry for session in store, skipping session end message",
			"session_id", req.SessionID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create session end: %w", err)
	}

	ev.ID = p.ids.NewID()
	slog.Debug("creating session end message", "session_id", req.SessionID)

	if err := p.store.InsertMessage(ctx, ev, p.dataplanID, p.dataplanVersion); err != nil {
		return fmt.Errorf("create session end: %w", err)
	}
	if err := p.store.UpdateSessionStatus(ctx, req.SessionID, session.StatusClosed); err != nil {
		return fmt.Errorf("create session end: %w", err)
	}

	return nil
}

// handleEndOrphanSessions finds sessions left Open by an unclean prior
// shutdown and enqueues a session-end command for each, attributed to the
// given mpid. Runs once at startup before normal traffic.
func (p *Processor) handleEndOrphanSessions(ctx context.Context, mpID int64) error {
	current := ""
	if snap, ok := p.tracker.Snapshot(); ok {
		current = snap.ID
	}

	ids, err := p.store.OrphanSessionIDs(ctx, current)
	if err != nil {
		return fmt.Errorf("end orphan sessions: %w", err)
	}

	slog.Debug("ending orphaned sessions", "count", len(ids))
	for _, id := range ids {
		p.Enqueue(Command{
			Kind: CommandCreateSessionEnd,
			SessionEnd: &SessionEndRequest{
				SessionID: id,
				MpIDs:     []int64{mpID},
			},
		})
	}

	return nil
}

func (p *Processor) handleStoreBreadcrumb(ctx context.Context, ev *message.Event) error {
	ev.ID = p.ids.NewID()
	if _, err := p.callbacks.APIKey(); err != nil {
		return fmt.Errorf("store breadcrumb: %w", err)
	}
	if err := p.store.AppendBreadcrumb(ctx, ev, p.breadcrumbLimit); err != nil {
		return fmt.Errorf("store breadcrumb: %w", err)
	}
	return nil
}

func (p *Processor) handleSetUserAttributes(ctx context.Context, req *AttributeRequest) error {
	changes, err := p.store.SetUserAttributes(ctx, req.MpID, req.Singles, req.Lists, p.timestamp(req))
	if err != nil {
		return fmt.Errorf("set user attributes: %w", err)
	}
	for _, change := range changes {
		p.callbacks.OnAttributeChanged(change)
	}
	return nil
}

func (p *Processor) handleRemoveUserAttribute(ctx context.Context, req *AttributeRequest) error {
	change, err := p.store.RemoveUserAttribute(ctx, req.MpID, req.Key, p.timestamp(req))
	if err != nil {
		return fmt.Errorf("remove user attribute: %w", err)
	}
	p.callbacks.OnAttributeChanged(change)
	return nil
}

// handleIncrementUserAttribute adds a delta to a numeric single attribute.
//
// Fails without mutation when the key exists only as a list attribute
// (numeric increment is undefined for lists) or when the existing value is
// not an integer. An absent value counts as 0. The write goes through the
// same path as a plain set, so observers see a normal change record.
func (p *Processor) handleIncrementUserAttribute(ctx context.Context, req *AttributeRequest) error {
	key := store.NormalizeKey(req.Key)

	singles, err := p.store.UserAttributeSingles(ctx, req.MpID)
	if err != nil {
		return fmt.Errorf("increment user attribute: %w", err)
	}

	current, exists := singles[key]
	if !exists {
		lists, err := p.store.UserAttributeLists(ctx, req.MpID)
		if err != nil {
			return fmt.Errorf("increment user attribute: %w", err)
		}
		if _, isList := lists[key]; isList {
			return newListAttributeError(key, req.MpID)
		}
	}

	newValue := req.Delta
	if exists {
		parsed, err := strconv.ParseInt(current, 10, 64)
		if err != nil {
			return newNotNumericError(key, req.MpID)
		}
		newValue = parsed + req.Delta
	}

	changes, err := p.store.SetUserAttributes(ctx, req.MpID,
		map[string]string{key: strconv.FormatInt(newValue, 10)}, nil, p.timestamp(req))
	if err != nil {
		return fmt.Errorf("increment user attribute: %w", err)
	}
	for _, change := range changes {
		p.callbacks.OnAttributeChanged(change)
	}
	return nil
}

func (p *Processor) handleStoreAliasRequest(ctx context.Context, req *message.AliasRequest) error {
	if _, err := p.callbacks.APIKey(); err != nil {
		return fmt.Errorf("store alias request: %w", err)
	}
	if err := p.store.InsertAliasRequest(ctx, *req, p.now()); err != nil {
		return fmt.Errorf("store alias request: %w", err)
	}
	p.callbacks.UploadRequested()
	return nil
}

// handleUpdateInstallReferrer stores the referrer on the current session
// with a refreshed app-info document. No active session means nothing to
// update.
func (p *Processor) handleUpdateInstallReferrer(ctx context.Context, upd *ReferrerUpdate) error {
	snap, ok := p.tracker.Snapshot()
	if !ok {
		slog.Debug("install referrer updated with no active session, skipping")
		return nil
	}
	err := p.store.UpdateSessionInstallReferrer(ctx, snap.ID, upd.Referrer, p.device.AppInfo(true))
	if err != nil {
		return fmt.Errorf("update install referrer: %w", err)
	}
	return nil
}

func (p *Processor) timestamp(req *AttributeRequest) int64 {
	if req.Timestamp > 0 {
		return req.Timestamp
	}
	return p.now()
}
