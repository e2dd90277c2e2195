package session

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreRecentReturnsLastN(t *testing.T) {
	store := NewMemoryStore(time.Hour, 10)
	for i := 0; i < 5; i++ {
		err := store.Append(context.Background(), "sess-1", Turn{
			Question: fmt.Sprintf("q%d", i),
			Action:   "explain",
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	turns, err := store.Recent(context.Background(), "sess-1", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[0].Question != "q2" || turns[2].Question != "q4" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestMemoryStoreCapsTurns(t *testing.T) {
	store := NewMemoryStore(time.Hour, 2)
	for i := 0; i < 4; i++ {
		if err := store.Append(context.Background(), "sess-1", Turn{Question: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	turns, err := store.Recent(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Question != "q2" {
		t.Fatalf("oldest retained = %q", turns[0].Question)
	}
}

func TestMemoryStoreExpiresSessions(t *testing.T) {
	store := NewMemoryStore(time.Minute, 10)
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }

	if err := store.Append(context.Background(), "sess-1", Turn{Question: "q1"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(context.Background(), "sess-2", Turn{Question: "q2"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	current = current.Add(2 * time.Minute)
	turns, err := store.Recent(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("turns = %d, want 0 after expiry", len(turns))
	}
	if _, lingering := store.sessions["sess-1"]; lingering {
		t.Fatal("expired session must be evicted on read")
	}

	removed, err := store.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
}

func TestMemoryStoreIsolatesSessions(t *testing.T) {
	store := NewMemoryStore(time.Hour, 10)
	if err := store.Append(context.Background(), "a", Turn{Question: "qa"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(context.Background(), "b", Turn{Question: "qb"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	turns, err := store.Recent(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Question != "qa" {
		t.Fatalf("turns = %+v", turns)
	}
}
