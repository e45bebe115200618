package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{URL: filepath.Join(dir, "kernel.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVScoping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.StoreValue(ctx, "p1", "k", 42); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreValue(ctx, "p2", "k", 99); err != nil {
		t.Fatal(err)
	}

	keys, err := s.ListKeys(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("expected exactly [\"k\"] for p1, got %v", keys)
	}

	v1, err := s.Get(ctx, "p1", "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(v1) != "42" {
		t.Fatalf("expected 42, got %s", v1)
	}

	v2, err := s.Get(ctx, "p2", "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(v2) != "99" {
		t.Fatalf("expected 99, got %s", v2)
	}

	if _, err := s.Delete(ctx, "p1", "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "p1", "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if v2again, err := s.Get(ctx, "p2", "k"); err != nil || string(v2again) != "99" {
		t.Fatalf("p2's key must be unaffected by p1's delete: %v, %v", v2again, err)
	}
}

func TestRoundTripPersistence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.StoreValue(ctx, "p", "key", map[string]interface{}{"a": 1}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "p", "key")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected round-tripped value: %s", got)
	}

	ok, err := s.Delete(ctx, "p", "key")
	if err != nil || !ok {
		t.Fatalf("expected delete to report existing key: ok=%v err=%v", ok, err)
	}
	if _, err := s.Get(ctx, "p", "key"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageLogStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.LogMessage(ctx, "m1", "alice", "bob", []byte("hi"), "greeting"); err != nil {
		t.Fatal(err)
	}

	history, err := s.GetHistory(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != StatusPending {
		t.Fatalf("expected one pending entry, got %+v", history)
	}

	if err := s.UpdateStatus(ctx, "m1", StatusDelivered); err != nil {
		t.Fatal(err)
	}
	history, err = s.GetHistory(ctx, "bob", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != StatusDelivered || history[0].DeliveredAt == nil {
		t.Fatalf("expected delivered entry with timestamp, got %+v", history)
	}
}

func TestSubscriptionTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddSub(ctx, "p1", "news"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSub(ctx, "p2", "news"); err != nil {
		t.Fatal(err)
	}

	subs, err := s.Subscribers(ctx, "news")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %v", subs)
	}

	removed, err := s.RemoveSub(ctx, "p1", "news")
	if err != nil || !removed {
		t.Fatalf("expected removal to report true: %v %v", removed, err)
	}

	subs, err = s.Subscribers(ctx, "news")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0] != "p2" {
		t.Fatalf("expected only p2 left subscribed, got %v", subs)
	}
}
