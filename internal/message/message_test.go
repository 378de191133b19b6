package message

import (
	"errors"
	"strings"
	"testing"
)

func TestDocument_OmitsEmptyFields(t *testing.T) {
	ev := &Event{
		Kind:      KindEvent,
		Timestamp: 1000,
	}

	doc := ev.Document()
	if doc["dt"] != "e" {
		t.Errorf("dt = %v, want e", doc["dt"])
	}
	if doc["ct"] != int64(1000) {
		t.Errorf("ct = %v, want 1000", doc["ct"])
	}
	for _, key := range []string{"id", "sid", "sct", "n", "attrs", "stat"} {
		if _, ok := doc[key]; ok {
			t.Errorf("empty field %q should be omitted", key)
		}
	}
}

func TestDocument_StripsNoSessionID(t *testing.T) {
	ev := &Event{
		Kind:      KindEvent,
		Timestamp: 1000,
		SessionID: NoSessionID,
	}

	if _, ok := ev.Document()["sid"]; ok {
		t.Error("NO-SESSION sentinel leaked into the wire document")
	}
}

func TestDocument_MergesExtra(t *testing.T) {
	ev := &Event{
		Kind:      KindSessionEnd,
		Timestamp: 5000,
		SessionID: "sess-1",
		Extra: map[string]any{
			"sl":  int64(3000),
			"slx": int64(4000),
		},
	}

	doc := ev.Document()
	if doc["sl"] != int64(3000) || doc["slx"] != int64(4000) {
		t.Errorf("extra fields not merged: %v", doc)
	}
}

func TestMarshal_Oversized(t *testing.T) {
	ev := &Event{
		Kind:      KindEvent,
		Timestamp: 1000,
		Attributes: map[string]string{
			"payload": strings.Repeat("x", MaxMessageSize),
		},
	}

	_, err := ev.Marshal()
	var oversized *OversizedError
	if !errors.As(err, &oversized) {
		t.Fatalf("got err %v, want OversizedError", err)
	}
	if oversized.Size <= MaxMessageSize {
		t.Errorf("reported size %d should exceed the limit", oversized.Size)
	}
}

func TestMarshal_WithinLimit(t *testing.T) {
	ev := &Event{
		ID:        "ev-1",
		Kind:      KindEvent,
		Timestamp: 1000,
		SessionID: "sess-1",
		Name:      "screen_view",
	}

	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty payload")
	}
}
