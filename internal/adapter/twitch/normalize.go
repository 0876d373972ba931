package twitch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatty/internal/protocol"
)

// eventSubNotification is the metadata+payload envelope EventSub-shaped
// transports use to wrap one subscription's event.
type eventSubNotification struct {
	Metadata struct {
		MessageID        string `json:"message_id"`
		SubscriptionType string `json:"subscription_type"`
	} `json:"metadata"`
	Payload struct {
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}

type wireUser struct {
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	UserName    string `json:"user_name"`
}

func (u wireUser) author() protocol.Author {
	return protocol.Author{ID: u.UserID, Login: u.UserLogin, DisplayName: u.UserName}
}

type chatMessageEvent struct {
	ChatterUserID    string `json:"chatter_user_id"`
	ChatterUserLogin string `json:"chatter_user_login"`
	ChatterUserName  string `json:"chatter_user_name"`
	MessageID        string `json:"message_id"`
	Message          struct {
		Text     string `json:"text"`
		Fragments []struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			Emote *struct {
				ID string `json:"id"`
			} `json:"emote"`
		} `json:"fragments"`
	} `json:"message"`
	Badges []struct {
		SetID string `json:"set_id"`
		ID    string `json:"id"`
	} `json:"badges"`
	Reply *struct {
		ParentMessageID   string `json:"parent_message_id"`
		ParentMessageBody string `json:"parent_message_body"`
		ParentUserLogin   string `json:"parent_user_login"`
	} `json:"reply"`
}

func normalizeChatMessage(raw json.RawMessage) (*protocol.ChatMessage, error) {
	var ev chatMessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode chat message event: %w", err)
	}

	badges := make([]string, 0, len(ev.Badges))
	seen := make(map[string]bool, len(ev.Badges))
	for _, b := range ev.Badges {
		tag := fmt.Sprintf("twitch:%s:%s", b.SetID, b.ID)
		if !seen[tag] {
			seen[tag] = true
			badges = append(badges, tag)
		}
	}

	var emotes []protocol.EmoteRef
	offset := 0
	for _, frag := range ev.Message.Fragments {
		if frag.Type == "emote" && frag.Emote != nil {
			start := offset
			end := offset + len(frag.Text)
			emotes = append(emotes, protocol.EmoteRef{ID: frag.Emote.ID, Name: frag.Text, Position: [2]int{start, end}})
		}
		offset += len(frag.Text)
	}

	var reply *protocol.ReplyPreview
	if ev.Reply != nil {
		reply = &protocol.ReplyPreview{
			ParentMsgID: ev.Reply.ParentMessageID,
			ParentText:  ev.Reply.ParentMessageBody,
			ParentLogin: ev.Reply.ParentUserLogin,
		}
	}

	return &protocol.ChatMessage{
		ServerID:   uuid.NewString(),
		PlatformID: ev.MessageID,
		Author: protocol.Author{
			ID:          ev.ChatterUserID,
			Login:       ev.ChatterUserLogin,
			DisplayName: ev.ChatterUserName,
		},
		Text:         ev.Message.Text,
		ReplyPreview: reply,
		Badges:       badges,
		EmoteRefs:    emotes,
	}, nil
}

type banEvent struct {
	wireUser
	ModeratorUserID    string `json:"moderator_user_id"`
	ModeratorUserLogin string `json:"moderator_user_login"`
	Reason             string `json:"reason"`
	EndsAt             string `json:"ends_at"`
	IsPermanent        bool   `json:"is_permanent"`
}

func normalizeBan(raw json.RawMessage) (*protocol.Moderation, error) {
	var ev banEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode ban event: %w", err)
	}
	target := ev.author()
	actor := protocol.Author{ID: ev.ModeratorUserID, Login: ev.ModeratorUserLogin}

	var action *protocol.ModerationAction
	if ev.IsPermanent || ev.EndsAt == "" {
		action = &protocol.ModerationAction{Kind: protocol.ActionBan, Ban: &protocol.BanAction{IsPermanent: true, Reason: ev.Reason}}
	} else {
		expires, _ := time.Parse(time.RFC3339, ev.EndsAt)
		action = &protocol.ModerationAction{Kind: protocol.ActionTimeout, Timeout: &protocol.TimeoutAction{
			ExpiresAtUnix: expires.Unix(),
			Reason:        ev.Reason,
		}}
	}
	return &protocol.Moderation{Kind: "ban", Actor: &actor, Target: &target, Action: action}, nil
}

type roomStateEvent struct {
	EmoteMode          bool `json:"emote_mode"`
	SubscriberMode     bool `json:"subscriber_mode"`
	UniqueChatMode     bool `json:"unique_chat_mode"`
	FollowerMode       bool `json:"follower_mode"`
	FollowerModeDuration int `json:"follower_mode_duration_minutes"`
	SlowMode           bool `json:"slow_mode"`
	SlowModeWaitTime   int  `json:"slow_mode_wait_time_seconds"`
}

func normalizeRoomState(raw json.RawMessage) (*protocol.RoomState, error) {
	var ev roomStateEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode room state event: %w", err)
	}
	return &protocol.RoomState{
		EmoteOnly:        ev.EmoteMode,
		SubscribersOnly:  ev.SubscriberMode,
		UniqueChat:       ev.UniqueChatMode,
		SlowModeSeconds:  ev.SlowModeWaitTime,
		FollowersOnly:    ev.FollowerMode,
		FollowersMinutes: ev.FollowerModeDuration,
	}, nil
}

type raidEvent struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	Viewers                  int    `json:"viewers"`
}

func normalizeRaid(raw json.RawMessage) (*protocol.Moderation, error) {
	var ev raidEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode raid event: %w", err)
	}
	actor := protocol.Author{ID: ev.FromBroadcasterUserID, Login: ev.FromBroadcasterUserLogin}
	return &protocol.Moderation{Kind: "raid", Actor: &actor}, nil
}

type subscribeEvent struct {
	wireUser
	Tier string `json:"tier"`
}

func normalizeSubscribe(raw json.RawMessage) (*protocol.Moderation, error) {
	var ev subscribeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode subscribe event: %w", err)
	}
	actor := ev.author()
	return &protocol.Moderation{Kind: "subscribe", Actor: &actor}, nil
}

// normalize converts one EventSub-shaped notification frame into an
// IngestEvent, per spec.md §4.6.4's table-driven mapping.
func (a *Adapter) normalize(room protocol.RoomKey, n *eventSubNotification) (*protocol.IngestEvent, error) {
	subType := n.Metadata.SubscriptionType
	trace := protocol.TraceMeta{
		SessionID:      a.sessionID,
		SubscriptionID: n.Payload.Subscription.ID,
		UpstreamMsgID:  n.Metadata.MessageID,
	}

	base := &protocol.IngestEvent{
		Platform: protocol.PlatformTwitch,
		Room:     room,
		IngestTS: time.Now().UnixMilli(),
		Trace:    trace,
	}

	switch {
	case subType == "channel.chat.message":
		msg, err := normalizeChatMessage(n.Payload.Event)
		if err != nil {
			return nil, err
		}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadChatMessage, ChatMessage: msg}
	case subType == "channel.ban":
		mod, err := normalizeBan(n.Payload.Event)
		if err != nil {
			return nil, err
		}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadModeration, Moderation: mod}
	case subType == "channel.update" || strings.HasPrefix(subType, "channel.chat_settings"):
		rs, err := normalizeRoomState(n.Payload.Event)
		if err != nil {
			return nil, err
		}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadRoomState, RoomState: rs}
	case subType == "channel.raid":
		mod, err := normalizeRaid(n.Payload.Event)
		if err != nil {
			return nil, err
		}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadModeration, Moderation: mod}
	case subType == "channel.subscribe" || subType == "channel.subscription.gift":
		mod, err := normalizeSubscribe(n.Payload.Event)
		if err != nil {
			return nil, err
		}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadModeration, Moderation: mod}
	case subType == "channel.moderate":
		mod, err := normalizeModerate(n.Payload.Event)
		if err != nil {
			return nil, err
		}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadModeration, Moderation: mod}
	default:
		un := &protocol.UserNotice{Kind: subType}
		base.Payload = protocol.IngestPayload{Kind: protocol.PayloadUserNotice, UserNotice: un}
	}

	return base, nil
}

type moderateEvent struct {
	ModeratorUserID    string `json:"moderator_user_id"`
	ModeratorUserLogin string `json:"moderator_user_login"`
	Action             string `json:"action"`
	Timeout            *struct {
		UserID   string `json:"user_id"`
		UserLogin string `json:"user_login"`
		Reason   string `json:"reason"`
		ExpiresAt string `json:"expires_at"`
	} `json:"timeout"`
	Delete *struct {
		MessageID string `json:"message_id"`
	} `json:"delete"`
}

func normalizeModerate(raw json.RawMessage) (*protocol.Moderation, error) {
	var ev moderateEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode moderate event: %w", err)
	}
	actor := protocol.Author{ID: ev.ModeratorUserID, Login: ev.ModeratorUserLogin}

	var action *protocol.ModerationAction
	switch ev.Action {
	case "timeout":
		if ev.Timeout != nil {
			expires, _ := time.Parse(time.RFC3339, ev.Timeout.ExpiresAt)
			action = &protocol.ModerationAction{Kind: protocol.ActionTimeout, Timeout: &protocol.TimeoutAction{
				ExpiresAtUnix: expires.Unix(), Reason: ev.Timeout.Reason,
			}}
		}
	case "delete":
		if ev.Delete != nil {
			action = &protocol.ModerationAction{Kind: protocol.ActionDeleteMessage, DeleteMessageID: ev.Delete.MessageID}
		}
	case "clear":
		action = &protocol.ModerationAction{Kind: protocol.ActionClearChat}
	}

	return &protocol.Moderation{Kind: protocol.ModerationKind(ev.Action), Actor: &actor, Action: action}, nil
}
