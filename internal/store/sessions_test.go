package store

import (
	"context"
	"errors"
	"testing"

	"github.com/statlight/statlight/internal/message"
	"github.com/statlight/statlight/internal/session"
)

func startEvent(sessionID string, ts int64, mpID int64) *message.Event {
	return &message.Event{
		ID:           sessionID,
		Kind:         message.KindSessionStart,
		Timestamp:    ts,
		SessionID:    sessionID,
		SessionStart: ts,
		MpID:         mpID,
	}
}

func TestInsertSessionStart_Atomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := startEvent("sess-1", pastMillis(0), 7)
	app := map[string]any{"apn": "com.example.app"}
	device := map[string]any{"dp": "phone"}
	if err := s.InsertSessionStart(ctx, ev, app, device, "", nil); err != nil {
		t.Fatalf("InsertSessionStart() failed: %v", err)
	}

	// Session row and message row exist together.
	status, err := s.SessionStatus(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionStatus() failed: %v", err)
	}
	if status != session.StatusOpen {
		t.Errorf("new session status = %d, want %d", status, session.StatusOpen)
	}

	count, err := s.MessageCount(ctx)
	if err != nil {
		t.Fatalf("MessageCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d message rows, want 1", count)
	}
}

func TestInsertSessionStart_DuplicateSessionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := startEvent("sess-1", pastMillis(0), 7)
	if err := s.InsertSessionStart(ctx, ev, nil, nil, "", nil); err != nil {
		t.Fatalf("first InsertSessionStart() failed: %v", err)
	}
	// Duplicate session ids keep the original row; the message still lands.
	if err := s.InsertSessionStart(ctx, ev, nil, nil, "", nil); err != nil {
		t.Fatalf("second InsertSessionStart() failed: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d session rows, want 1", len(sessions))
	}
}

func TestUpdateSessionEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := pastMillis(0)
	if err := s.InsertSessionStart(ctx, startEvent("sess-1", start, 7), nil, nil, "", nil); err != nil {
		t.Fatalf("InsertSessionStart() failed: %v", err)
	}

	if err := s.UpdateSessionEnd(ctx, "sess-1", start+5000, 3000); err != nil {
		t.Fatalf("UpdateSessionEnd() failed: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if sessions[0].EndTime != start+5000 {
		t.Errorf("end time = %d, want %d", sessions[0].EndTime, start+5000)
	}
	if sessions[0].ForegroundTime != 3000 {
		t.Errorf("foreground time = %d, want 3000", sessions[0].ForegroundTime)
	}

	// Zero foreground time leaves the accumulated value alone.
	if err := s.UpdateSessionEnd(ctx, "sess-1", start+6000, 0); err != nil {
		t.Fatalf("UpdateSessionEnd() failed: %v", err)
	}
	sessions, err = s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if sessions[0].ForegroundTime != 3000 {
		t.Errorf("foreground time was clobbered: %d, want 3000", sessions[0].ForegroundTime)
	}
}

func TestOrphanSessionIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"sess-a", "sess-b", "sess-cur"} {
		if err := s.InsertSessionStart(ctx, startEvent(id, pastMillis(int64(i)), 7), nil, nil, "", nil); err != nil {
			t.Fatalf("InsertSessionStart(%s) failed: %v", id, err)
		}
	}
	// A closed session is never an orphan.
	if err := s.UpdateSessionStatus(ctx, "sess-b", session.StatusClosed); err != nil {
		t.Fatalf("UpdateSessionStatus() failed: %v", err)
	}

	ids, err := s.OrphanSessionIDs(ctx, "sess-cur")
	if err != nil {
		t.Fatalf("OrphanSessionIDs() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sess-a" {
		t.Errorf("got orphans %v, want [sess-a]", ids)
	}
}

func TestSessionForEndMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := pastMillis(0)
	if err := s.InsertSessionStart(ctx, startEvent("sess-1", start, 7), nil, nil, "", nil); err != nil {
		t.Fatalf("InsertSessionStart() failed: %v", err)
	}
	if err := s.UpdateSessionEnd(ctx, "sess-1", start+5000, 3000); err != nil {
		t.Fatalf("UpdateSessionEnd() failed: %v", err)
	}
	if err := s.UpdateSessionAttributes(ctx, "sess-1", `{"color":"red"}`); err != nil {
		t.Fatalf("UpdateSessionAttributes() failed: %v", err)
	}

	ev, err := s.SessionForEndMessage(ctx, "sess-1", nil, []int64{7, 9})
	if err != nil {
		t.Fatalf("SessionForEndMessage() failed: %v", err)
	}

	if ev.Kind != message.KindSessionEnd {
		t.Errorf("kind = %q, want %q", ev.Kind, message.KindSessionEnd)
	}
	if ev.ID != "" {
		t.Errorf("end message should carry no id before persistence, got %q", ev.ID)
	}
	if ev.Timestamp != start+5000 {
		t.Errorf("timestamp = %d, want %d", ev.Timestamp, start+5000)
	}
	if ev.SessionStart != start {
		t.Errorf("session start = %d, want %d", ev.SessionStart, start)
	}
	if got := ev.Extra["sl"]; got != int64(3000) {
		t.Errorf("foreground length = %v, want 3000", got)
	}
	if got := ev.Extra["slx"]; got != int64(5000) {
		t.Errorf("total length = %v, want 5000", got)
	}
	mpids, ok := ev.Extra["smpids"].([]int64)
	if !ok || len(mpids) != 2 {
		t.Errorf("smpids = %v, want [7 9]", ev.Extra["smpids"])
	}
	attrs, ok := ev.Extra["attrs"].(map[string]any)
	if !ok || attrs["color"] != "red" {
		t.Errorf("attrs = %v, want color=red", ev.Extra["attrs"])
	}
}

func TestSessionForEndMessage_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SessionForEndMessage(context.Background(), "missing", nil, nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got err %v, want ErrSessionNotFound", err)
	}
}

func TestUpdateSessionInstallReferrer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertSessionStart(ctx, startEvent("sess-1", pastMillis(0), 7), nil, nil, "", nil); err != nil {
		t.Fatalf("InsertSessionStart() failed: %v", err)
	}

	app := map[string]any{"apn": "com.example.app", "ir": "utm_source=ads"}
	if err := s.UpdateSessionInstallReferrer(ctx, "sess-1", "utm_source=ads", app); err != nil {
		t.Fatalf("UpdateSessionInstallReferrer() failed: %v", err)
	}

	var referrer string
	err := s.db.QueryRow(`SELECT install_referrer FROM sessions WHERE session_id = ?`, "sess-1").Scan(&referrer)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if referrer != "utm_source=ads" {
		t.Errorf("install referrer = %q, want utm_source=ads", referrer)
	}
}
