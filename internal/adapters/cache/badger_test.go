package cache

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(Options{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "products:1", []byte(`{"id":1}`), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, found, err := s.Get(ctx, "products:1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if string(value) != `{"id":1}` {
		t.Errorf("unexpected value %s", value)
	}

	_, found, err = s.Get(ctx, "products:2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found {
		t.Error("absent key should not be found")
	}
}

func TestDeleteMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"inventory:1", "inventory:2", "products:1"} {
		if err := s.Set(ctx, key, []byte("x"), 0); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	count, err := s.DeleteMatching(ctx, "inventory:*")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 deletions, got %d", count)
	}

	// Second run with no new writes removes nothing.
	count, err = s.DeleteMatching(ctx, "inventory:*")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 deletions on repeat, got %d", count)
	}

	if _, found, _ := s.Get(ctx, "products:1"); !found {
		t.Error("non-matching key must survive")
	}
}

func TestDeleteMatchingInteriorWildcard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "trends:color:eu", []byte("x"), 0)
	s.Set(ctx, "trends:color:us", []byte("x"), 0)
	s.Set(ctx, "trends:fabric:eu", []byte("x"), 0)

	count, err := s.DeleteMatching(ctx, "trends:*:eu")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 deletions, got %d", count)
	}
}

func TestExtendMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "api:resp:1", []byte("x"), 100*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	count, err := s.ExtendMatching(ctx, "api:resp:*", time.Hour)
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 key extended, got %d", count)
	}

	time.Sleep(150 * time.Millisecond)
	if _, found, _ := s.Get(ctx, "api:resp:1"); !found {
		t.Error("extended key should have outlived its original TTL")
	}
}
