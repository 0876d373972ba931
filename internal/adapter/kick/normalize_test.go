package kick

import (
	"encoding/json"
	"testing"

	"chatty/internal/protocol"
)

func newTestAdapter(slug string, chatroomID int64) *Adapter {
	a := New(DefaultConfig())
	a.chatroomID[slug] = chatroomID
	return a
}

func TestHandleChatMessageEmitsNormalizedEvent(t *testing.T) {
	a := newTestAdapter("streamer1", 42)
	events := make(chan *protocol.IngestEvent, 1)

	ev := pusherEvent{
		Channel: "chatroom_42",
		Data: json.RawMessage(`{
			"id": "m1", "content": "hello", "chatroom_id": 42,
			"sender": {"id": 7, "username": "Bob", "slug": "bob"}
		}`),
	}
	a.handleChatMessage(ev, events)

	select {
	case ingest := <-events:
		if ingest.Platform != protocol.PlatformKick || ingest.Room.RoomID != "streamer1" {
			t.Fatalf("unexpected room/platform: %+v", ingest)
		}
		if ingest.Payload.Kind != protocol.PayloadChatMessage {
			t.Fatalf("expected a chat message payload, got %+v", ingest.Payload)
		}
		if ingest.Payload.ChatMessage.Author.ID != "7" || ingest.Payload.ChatMessage.Text != "hello" {
			t.Fatalf("unexpected chat message: %+v", ingest.Payload.ChatMessage)
		}
	default:
		t.Fatal("expected an event to be emitted")
	}
}

func TestHandleChatMessageUnknownChatroomIsDropped(t *testing.T) {
	a := New(DefaultConfig()) // no chatroomID mapping registered
	events := make(chan *protocol.IngestEvent, 1)

	ev := pusherEvent{
		Channel: "chatroom_99",
		Data:    json.RawMessage(`{"id": "m1", "content": "hi", "sender": {"id": 1}}`),
	}
	a.handleChatMessage(ev, events)

	select {
	case got := <-events:
		t.Fatalf("expected no event for an unmapped chatroom, got %+v", got)
	default:
	}
}

func TestHandleChatMessageMalformedDataIsDropped(t *testing.T) {
	a := newTestAdapter("streamer1", 42)
	events := make(chan *protocol.IngestEvent, 1)
	a.handleChatMessage(pusherEvent{Channel: "chatroom_42", Data: json.RawMessage(`not json`)}, events)

	select {
	case got := <-events:
		t.Fatalf("expected no event for malformed payload, got %+v", got)
	default:
	}
}

func TestHandleMessageDeletedEmitsModeration(t *testing.T) {
	a := newTestAdapter("streamer1", 42)
	events := make(chan *protocol.IngestEvent, 1)

	ev := pusherEvent{Channel: "chatroom_42", Data: json.RawMessage(`{"message": {"id": "m1"}}`)}
	a.handleMessageDeleted(ev, events)

	select {
	case ingest := <-events:
		if ingest.Payload.Kind != protocol.PayloadModeration {
			t.Fatalf("expected a moderation payload, got %+v", ingest.Payload)
		}
		if ingest.Payload.Moderation.Action.DeleteMessageID != "m1" {
			t.Fatalf("unexpected delete target: %+v", ingest.Payload.Moderation.Action)
		}
	default:
		t.Fatal("expected a moderation event to be emitted")
	}
}

func TestHandleBanPermanentAndTimedAndUnban(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		banned  bool
		wantKind protocol.ModerationActionKind
	}{
		{"permanent", `{"user": {"id": 1, "username": "bad"}, "permanent": true}`, true, protocol.ActionBan},
		{"timed", `{"user": {"id": 1}, "expires_at": "2026-01-01T00:00:00Z"}`, true, protocol.ActionTimeout},
		{"unban", `{"user": {"id": 1}}`, false, protocol.ActionUnban},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter("streamer1", 42)
			events := make(chan *protocol.IngestEvent, 1)
			a.handleBan(pusherEvent{Channel: "chatroom_42", Data: json.RawMessage(tc.raw)}, events, tc.banned)

			select {
			case ingest := <-events:
				if ingest.Payload.Moderation.Action.Kind != tc.wantKind {
					t.Fatalf("action kind = %v, want %v", ingest.Payload.Moderation.Action.Kind, tc.wantKind)
				}
			default:
				t.Fatal("expected a ban/unban event to be emitted")
			}
		})
	}
}

func TestRoomFromChannelRoundTrip(t *testing.T) {
	a := newTestAdapter("streamer1", 42)
	room, ok := a.roomFromChannel("chatroom_42")
	if !ok || room.RoomID != "streamer1" || room.Platform != protocol.PlatformKick {
		t.Fatalf("roomFromChannel = %+v, %v", room, ok)
	}
}

func TestRoomFromChannelRejectsNonChatroomChannel(t *testing.T) {
	a := newTestAdapter("streamer1", 42)
	if _, ok := a.roomFromChannel("some_other_channel"); ok {
		t.Fatal("expected a non-chatroom channel to be rejected")
	}
}

func TestScanChatroomIDRejectsGarbage(t *testing.T) {
	if _, err := scanChatroomID("chatroom_abc"); err == nil {
		t.Fatal("expected an error for a non-numeric chatroom id")
	}
	if _, err := scanChatroomID("notachatroom"); err == nil {
		t.Fatal("expected an error for a non-chatroom-prefixed channel")
	}
}
