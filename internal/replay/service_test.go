package replay

import (
	"context"
	"testing"

	"chatty/internal/protocol"
)

func TestServiceDisabledModeFreshIsOk(t *testing.T) {
	s := New(NewMemoryBackend(), Config{PerTopicCapacity: 0})
	out, err := s.Replay(context.Background(), "c", "room:twitch/1", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Status != protocol.SubOk || len(out.Events) != 0 {
		t.Fatalf("disabled-mode fresh subscribe should be Ok/empty, got %+v", out)
	}
}

func TestServiceDisabledModeStaleIsNotAvailable(t *testing.T) {
	s := New(NewMemoryBackend(), Config{PerTopicCapacity: 0})
	out, err := s.Replay(context.Background(), "c", "room:twitch/1", 3)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Status != protocol.SubReplayNotAvailable {
		t.Fatalf("status = %v, want ReplayNotAvailable", out.Status)
	}
}

func TestServiceEnabledModeDelegatesToBackend(t *testing.T) {
	s := New(NewMemoryBackend(), Config{PerTopicCapacity: 5})
	ctx := context.Background()

	env, err := s.PushEvent(ctx, "c", "room:twitch/1", &protocol.EventEnvelope{})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if env.Cursor != 1 {
		t.Fatalf("cursor = %d, want 1", env.Cursor)
	}

	out, err := s.Replay(ctx, "c", "room:twitch/1", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(out.Events) != 1 {
		t.Fatalf("want 1 event, got %d", len(out.Events))
	}
}
