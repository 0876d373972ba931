package twitch

import (
	"encoding/json"
	"testing"

	"chatty/internal/protocol"
)

func TestNormalizeChatMessageDedupesBadgesAndLocatesEmotes(t *testing.T) {
	raw := json.RawMessage(`{
		"chatter_user_id": "u1", "chatter_user_login": "alice", "chatter_user_name": "Alice",
		"message_id": "m1",
		"message": {
			"text": "hi",
			"fragments": [{"type": "emote", "text": "hi", "emote": {"id": "e1"}}]
		},
		"badges": [
			{"set_id": "moderator", "id": "1"},
			{"set_id": "moderator", "id": "1"}
		],
		"reply": {"parent_message_id": "p1", "parent_message_body": "hey", "parent_user_login": "bob"}
	}`)

	msg, err := normalizeChatMessage(raw)
	if err != nil {
		t.Fatalf("normalizeChatMessage: %v", err)
	}
	if msg.Author.ID != "u1" || msg.Author.Login != "alice" {
		t.Fatalf("unexpected author: %+v", msg.Author)
	}
	if len(msg.Badges) != 1 {
		t.Fatalf("expected duplicate badges deduped, got %v", msg.Badges)
	}
	if len(msg.EmoteRefs) != 1 || msg.EmoteRefs[0].ID != "e1" {
		t.Fatalf("expected one emote ref, got %+v", msg.EmoteRefs)
	}
	if msg.ReplyPreview == nil || msg.ReplyPreview.ParentMsgID != "p1" {
		t.Fatalf("expected a reply preview, got %+v", msg.ReplyPreview)
	}
}

func TestNormalizeChatMessageMalformedJSON(t *testing.T) {
	_, err := normalizeChatMessage(json.RawMessage(`not json`))
	if err == nil {
		t.Fatal("expected an error decoding malformed chat message JSON")
	}
}

func TestNormalizeBanPermanent(t *testing.T) {
	raw := json.RawMessage(`{"user_id": "u1", "user_login": "bad", "moderator_user_id": "m1", "is_permanent": true, "reason": "spam"}`)
	mod, err := normalizeBan(raw)
	if err != nil {
		t.Fatalf("normalizeBan: %v", err)
	}
	if mod.Action.Kind != protocol.ActionBan || !mod.Action.Ban.IsPermanent {
		t.Fatalf("expected a permanent ban action, got %+v", mod.Action)
	}
}

func TestNormalizeBanTimed(t *testing.T) {
	raw := json.RawMessage(`{"user_id": "u1", "moderator_user_id": "m1", "ends_at": "2026-01-01T00:00:00Z", "reason": "spam"}`)
	mod, err := normalizeBan(raw)
	if err != nil {
		t.Fatalf("normalizeBan: %v", err)
	}
	if mod.Action.Kind != protocol.ActionTimeout {
		t.Fatalf("expected a timeout action for a non-permanent ban with ends_at, got %+v", mod.Action)
	}
}

func TestNormalizeRoomState(t *testing.T) {
	raw := json.RawMessage(`{"emote_mode": true, "slow_mode": true, "slow_mode_wait_time_seconds": 30}`)
	rs, err := normalizeRoomState(raw)
	if err != nil {
		t.Fatalf("normalizeRoomState: %v", err)
	}
	if !rs.EmoteOnly || rs.SlowModeSeconds != 30 {
		t.Fatalf("unexpected room state: %+v", rs)
	}
}

func TestNormalizeRaid(t *testing.T) {
	raw := json.RawMessage(`{"from_broadcaster_user_id": "u1", "from_broadcaster_user_login": "raider", "viewers": 50}`)
	mod, err := normalizeRaid(raw)
	if err != nil {
		t.Fatalf("normalizeRaid: %v", err)
	}
	if mod.Kind != "raid" || mod.Actor.Login != "raider" {
		t.Fatalf("unexpected raid moderation: %+v", mod)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	raw := json.RawMessage(`{"user_id": "u1", "user_login": "fan", "tier": "1000"}`)
	mod, err := normalizeSubscribe(raw)
	if err != nil {
		t.Fatalf("normalizeSubscribe: %v", err)
	}
	if mod.Kind != "subscribe" || mod.Actor.Login != "fan" {
		t.Fatalf("unexpected subscribe moderation: %+v", mod)
	}
}

func TestNormalizeModerateTimeoutDeleteClear(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind protocol.ModerationActionKind
	}{
		{"timeout", `{"moderator_user_id":"m1","action":"timeout","timeout":{"user_id":"u1","reason":"spam","expires_at":"2026-01-01T00:00:00Z"}}`, protocol.ActionTimeout},
		{"delete", `{"moderator_user_id":"m1","action":"delete","delete":{"message_id":"msg1"}}`, protocol.ActionDeleteMessage},
		{"clear", `{"moderator_user_id":"m1","action":"clear"}`, protocol.ActionClearChat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mod, err := normalizeModerate(json.RawMessage(tc.raw))
			if err != nil {
				t.Fatalf("normalizeModerate: %v", err)
			}
			if mod.Action == nil || mod.Action.Kind != tc.kind {
				t.Fatalf("unexpected action: %+v", mod.Action)
			}
		})
	}
}

func TestAdapterNormalizeDispatchesBySubscriptionType(t *testing.T) {
	a := &Adapter{}
	room := protocol.RoomKey{Platform: protocol.PlatformTwitch, RoomID: "1"}

	n := &eventSubNotification{}
	n.Metadata.SubscriptionType = "channel.chat.message"
	n.Payload.Event = json.RawMessage(`{"chatter_user_id":"u1","message_id":"m1","message":{"text":"hi"}}`)

	ev, err := a.normalize(room, n)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Payload.Kind != protocol.PayloadChatMessage {
		t.Fatalf("expected a chat message payload, got %+v", ev.Payload)
	}
	if ev.Platform != protocol.PlatformTwitch || ev.Room != room {
		t.Fatalf("unexpected envelope fields: %+v", ev)
	}
}

func TestAdapterNormalizeUnknownSubscriptionTypeBecomesUserNotice(t *testing.T) {
	a := &Adapter{}
	room := protocol.RoomKey{Platform: protocol.PlatformTwitch, RoomID: "1"}
	n := &eventSubNotification{}
	n.Metadata.SubscriptionType = "channel.some_new_thing"
	n.Payload.Event = json.RawMessage(`{}`)

	ev, err := a.normalize(room, n)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Payload.Kind != protocol.PayloadUserNotice || ev.Payload.UserNotice.Kind != "channel.some_new_thing" {
		t.Fatalf("unexpected fallback payload: %+v", ev.Payload)
	}
}
