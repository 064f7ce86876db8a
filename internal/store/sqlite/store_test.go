package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rashmirrout/pilotdesk/internal/store"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := open(t)

	in := store.SessionMeta{ID: "panel-abc", Kind: "panel", Turns: 7}
	if err := s.Put(store.BucketSessions, in.ID, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out store.SessionMeta
	if err := s.Get(store.BucketSessions, in.ID, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.ID != in.ID || out.Kind != in.Kind || out.Turns != in.Turns {
		t.Errorf("Get = %+v, want %+v", out, in)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := open(t)

	var out store.SessionMeta
	if err := s.Get(store.BucketSessions, "nope", &out); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestPutUpsertsAndListsOrdered(t *testing.T) {
	s := open(t)

	for _, k := range []string{"b", "a", "c"} {
		if err := s.Put("sessions", k, map[string]int{"n": 1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put("sessions", "a", map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}

	keys, err := s.List("sessions")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("List = %v, want [a b c]", keys)
	}

	var out map[string]int
	if err := s.Get("sessions", "a", &out); err != nil {
		t.Fatal(err)
	}
	if out["n"] != 2 {
		t.Errorf("upsert lost: n = %d, want 2", out["n"])
	}
}

func TestBucketsAreIsolated(t *testing.T) {
	s := open(t)

	if err := s.Put("one", "k", "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("two", "k", "y"); err != nil {
		t.Fatal(err)
	}

	var out string
	if err := s.Get("one", "k", &out); err != nil || out != "x" {
		t.Errorf("bucket one: (%q, %v), want (x, nil)", out, err)
	}
	if err := s.Get("two", "k", &out); err != nil || out != "y" {
		t.Errorf("bucket two: (%q, %v), want (y, nil)", out, err)
	}
}

func TestDelete(t *testing.T) {
	s := open(t)

	if err := s.Put("sessions", "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("sessions", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var out string
	if err := s.Get("sessions", "k", &out); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete("sessions", "k"); err != nil {
		t.Errorf("Delete missing = %v, want nil", err)
	}
}
