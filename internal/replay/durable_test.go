package replay

import (
	"context"
	"path/filepath"
	"testing"

	"chatty/internal/durable"
	"chatty/internal/protocol"
)

func openTestStore(t *testing.T) *durable.Store {
	t.Helper()
	// A real file rather than ":memory:": database/sql's connection pool
	// would otherwise hand out a fresh, empty in-memory database per
	// connection instead of sharing one.
	path := filepath.Join(t.TempDir(), "replay.db")
	store, err := durable.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDurableBackendCursorsMonotonic(t *testing.T) {
	store := openTestStore(t)
	b := NewDurableBackend(store)
	cfg := Config{PerTopicCapacity: 10}
	ctx := context.Background()

	var last uint64
	for i := 0; i < 4; i++ {
		out, err := b.PushEvent(ctx, "client-a", "room:twitch/1", &protocol.EventEnvelope{}, cfg)
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if out.Cursor <= last {
			t.Fatalf("cursor %d did not increase from %d", out.Cursor, last)
		}
		last = out.Cursor
	}
}

func TestDurableBackendFreshSubscribeReturnsBuffered(t *testing.T) {
	store := openTestStore(t)
	b := NewDurableBackend(store)
	cfg := Config{PerTopicCapacity: 10}
	ctx := context.Background()

	for _, text := range []string{"hello", "world"} {
		env := &protocol.EventEnvelope{
			Topic: "room:twitch/foo", Kind: protocol.EventChatMessage,
			ChatMessage: &protocol.ChatMessage{Text: text, Author: protocol.Author{ID: "1", Login: "a"}},
		}
		if _, err := b.PushEvent(ctx, "client-a", "room:twitch/foo", env, cfg); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	out, err := b.Replay(ctx, "client-a", "room:twitch/foo", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Status != protocol.SubOk || out.CurrentCursor != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.Events) != 2 || out.Events[0].ChatMessage.Text != "hello" || out.Events[1].ChatMessage.Text != "world" {
		t.Fatalf("unexpected events: %+v", out.Events)
	}
}

func TestDurableBackendCapacityTrimsOldest(t *testing.T) {
	store := openTestStore(t)
	b := NewDurableBackend(store)
	cfg := Config{PerTopicCapacity: 2}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := b.PushEvent(ctx, "c", "room:twitch/y", &protocol.EventEnvelope{}, cfg); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	out, err := b.Replay(ctx, "c", "room:twitch/y", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(out.Events) != 2 {
		t.Fatalf("want 2 surviving events after trim, got %d", len(out.Events))
	}
	if out.Events[0].Cursor != 4 || out.Events[1].Cursor != 5 {
		t.Fatalf("expected cursors 4,5 to survive, got %d,%d", out.Events[0].Cursor, out.Events[1].Cursor)
	}
}

func TestDurableBackendResumeBeyondTrimmedHistoryIsNotAvailable(t *testing.T) {
	store := openTestStore(t)
	b := NewDurableBackend(store)
	cfg := Config{PerTopicCapacity: 2}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := b.PushEvent(ctx, "c", "room:twitch/y", &protocol.EventEnvelope{}, cfg); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	out, err := b.Replay(ctx, "c", "room:twitch/y", 1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Status != protocol.SubReplayNotAvailable {
		t.Fatalf("status = %v, want ReplayNotAvailable", out.Status)
	}
	if out.CurrentCursor != 5 {
		t.Fatalf("current cursor = %d, want 5", out.CurrentCursor)
	}
}

func TestDurableBackendUnknownTopicFreshIsOk(t *testing.T) {
	store := openTestStore(t)
	b := NewDurableBackend(store)
	out, err := b.Replay(context.Background(), "c", "room:twitch/never", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Status != protocol.SubOk || len(out.Events) != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
