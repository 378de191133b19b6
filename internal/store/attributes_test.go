package store

import (
	"context"
	"reflect"
	"testing"
)

func TestSetUserAttributes_NewAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	changes, err := s.SetUserAttributes(ctx, 7, map[string]string{"color": "red"}, nil, 1000)
	if err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	if !changes[0].NewAttribute {
		t.Error("first write should be flagged as a new attribute")
	}
	if changes[0].OldValue != nil {
		t.Errorf("old value = %v, want nil", changes[0].OldValue)
	}
	if changes[0].NewValue != "red" {
		t.Errorf("new value = %v, want red", changes[0].NewValue)
	}

	changes, err = s.SetUserAttributes(ctx, 7, map[string]string{"color": "blue"}, nil, 2000)
	if err != nil {
		t.Fatalf("second SetUserAttributes() failed: %v", err)
	}
	if changes[0].NewAttribute {
		t.Error("replacement should not be flagged as a new attribute")
	}
	if changes[0].OldValue != "red" {
		t.Errorf("old value = %v, want red", changes[0].OldValue)
	}

	singles, err := s.UserAttributeSingles(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeSingles() failed: %v", err)
	}
	if singles["color"] != "blue" {
		t.Errorf("stored value = %q, want blue", singles["color"])
	}
}

func TestSetUserAttributes_Lists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetUserAttributes(ctx, 7, nil, map[string][]string{"tags": {"a", "b"}}, 1000)
	if err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}

	lists, err := s.UserAttributeLists(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeLists() failed: %v", err)
	}
	if !reflect.DeepEqual(lists["tags"], []string{"a", "b"}) {
		t.Errorf("stored list = %v, want [a b]", lists["tags"])
	}

	// A key lives in exactly one store. The list key is invisible to the
	// singles view.
	singles, err := s.UserAttributeSingles(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeSingles() failed: %v", err)
	}
	if _, ok := singles["tags"]; ok {
		t.Error("list key leaked into singles store")
	}
}

func TestSetUserAttributes_SingleReplacesList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SetUserAttributes(ctx, 7, nil, map[string][]string{"pref": {"x"}}, 1000); err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}

	changes, err := s.SetUserAttributes(ctx, 7, map[string]string{"pref": "y"}, nil, 2000)
	if err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}
	if !reflect.DeepEqual(changes[0].OldValue, []string{"x"}) {
		t.Errorf("old value = %v, want [x]", changes[0].OldValue)
	}

	lists, err := s.UserAttributeLists(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeLists() failed: %v", err)
	}
	if _, ok := lists["pref"]; ok {
		t.Error("key remained in list store after single write")
	}
	singles, err := s.UserAttributeSingles(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeSingles() failed: %v", err)
	}
	if singles["pref"] != "y" {
		t.Errorf("stored value = %q, want y", singles["pref"])
	}
}

func TestRemoveUserAttribute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SetUserAttributes(ctx, 7, map[string]string{"color": "red"}, nil, 1000); err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}

	change, err := s.RemoveUserAttribute(ctx, 7, "color", 2000)
	if err != nil {
		t.Fatalf("RemoveUserAttribute() failed: %v", err)
	}
	if !change.Deleted {
		t.Error("change should be flagged deleted")
	}
	if change.OldValue != "red" {
		t.Errorf("old value = %v, want red", change.OldValue)
	}

	singles, err := s.UserAttributeSingles(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeSingles() failed: %v", err)
	}
	if len(singles) != 0 {
		t.Errorf("got %d attributes after removal, want 0", len(singles))
	}
}

func TestRemoveUserAttribute_Absent(t *testing.T) {
	s := newTestStore(t)

	// Removing a key that was never set still reports the removal.
	change, err := s.RemoveUserAttribute(context.Background(), 7, "ghost", 1000)
	if err != nil {
		t.Fatalf("RemoveUserAttribute() failed: %v", err)
	}
	if !change.Deleted {
		t.Error("change should be flagged deleted")
	}
	if change.OldValue != nil {
		t.Errorf("old value = %v, want nil", change.OldValue)
	}
}

func TestSetUserAttributes_NormalizesKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// "é" as a precomposed rune and as "e" plus a combining accent.
	composed := "café"
	decomposed := "café"

	if _, err := s.SetUserAttributes(ctx, 7, map[string]string{composed: "one"}, nil, 1000); err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}
	changes, err := s.SetUserAttributes(ctx, 7, map[string]string{decomposed: "two"}, nil, 2000)
	if err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}
	if changes[0].NewAttribute {
		t.Error("normalized keys should hit the same row")
	}

	singles, err := s.UserAttributeSingles(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeSingles() failed: %v", err)
	}
	if len(singles) != 1 {
		t.Fatalf("got %d rows, want 1", len(singles))
	}
	if singles[NormalizeKey(decomposed)] != "two" {
		t.Errorf("stored value = %q, want two", singles[NormalizeKey(decomposed)])
	}
}

func TestUserAttributes_PerIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SetUserAttributes(ctx, 7, map[string]string{"color": "red"}, nil, 1000); err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}
	if _, err := s.SetUserAttributes(ctx, 9, map[string]string{"color": "green"}, nil, 1000); err != nil {
		t.Fatalf("SetUserAttributes() failed: %v", err)
	}

	singles, err := s.UserAttributeSingles(ctx, 7)
	if err != nil {
		t.Fatalf("UserAttributeSingles() failed: %v", err)
	}
	if singles["color"] != "red" {
		t.Errorf("mpid 7 value = %q, want red", singles["color"])
	}
}
