package kick

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"chatty/internal/protocol"
)

type kickChatMessagePayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	ChatroomID int64 `json:"chatroom_id"`
	Sender  struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Slug     string `json:"slug"`
	} `json:"sender"`
	Metadata struct {
		OriginalMessageID string `json:"original_message_id"`
		OriginalSender    struct {
			Username string `json:"username"`
		} `json:"original_sender"`
	} `json:"metadata"`
}

func (a *Adapter) handleChatMessage(ev pusherEvent, events chan<- *protocol.IngestEvent) {
	var p kickChatMessagePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return
	}
	room, ok := a.roomFromChannel(ev.Channel)
	if !ok {
		return
	}

	var reply *protocol.ReplyPreview
	if p.Metadata.OriginalMessageID != "" {
		reply = &protocol.ReplyPreview{
			ParentMsgID: p.Metadata.OriginalMessageID,
			ParentLogin: p.Metadata.OriginalSender.Username,
		}
	}

	msg := &protocol.ChatMessage{
		ServerID:   uuid.NewString(),
		PlatformID: p.ID,
		Author: protocol.Author{
			ID:          strconv.FormatInt(p.Sender.ID, 10),
			Login:       p.Sender.Slug,
			DisplayName: p.Sender.Username,
		},
		Text:         p.Content,
		ReplyPreview: reply,
	}

	ingest := &protocol.IngestEvent{
		Platform: protocol.PlatformKick,
		Room:     room,
		IngestTS: time.Now().UnixMilli(),
		Trace:    protocol.TraceMeta{UpstreamMsgID: p.ID},
		Payload:  protocol.IngestPayload{Kind: protocol.PayloadChatMessage, ChatMessage: msg},
	}
	a.tryEmit(events, ingest)
}

type kickMessageDeletedPayload struct {
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

func (a *Adapter) handleMessageDeleted(ev pusherEvent, events chan<- *protocol.IngestEvent) {
	var p kickMessageDeletedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return
	}
	room, ok := a.roomFromChannel(ev.Channel)
	if !ok {
		return
	}
	mod := &protocol.Moderation{
		Kind:            "delete_message",
		TargetMessageID: p.Message.ID,
		Action:          &protocol.ModerationAction{Kind: protocol.ActionDeleteMessage, DeleteMessageID: p.Message.ID},
	}
	ingest := &protocol.IngestEvent{
		Platform: protocol.PlatformKick,
		Room:     room,
		IngestTS: time.Now().UnixMilli(),
		Payload:  protocol.IngestPayload{Kind: protocol.PayloadModeration, Moderation: mod},
	}
	a.tryEmit(events, ingest)
}

type kickBanPayload struct {
	User struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Slug     string `json:"slug"`
	} `json:"user"`
	BannedBy struct {
		Username string `json:"username"`
	} `json:"banned_by"`
	Permanent bool   `json:"permanent"`
	ExpiresAt string `json:"expires_at"`
}

func (a *Adapter) handleBan(ev pusherEvent, events chan<- *protocol.IngestEvent, banned bool) {
	var p kickBanPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return
	}
	room, ok := a.roomFromChannel(ev.Channel)
	if !ok {
		return
	}
	target := protocol.Author{ID: strconv.FormatInt(p.User.ID, 10), Login: p.User.Slug, DisplayName: p.User.Username}
	actor := protocol.Author{Login: p.BannedBy.Username}

	var action *protocol.ModerationAction
	if !banned {
		action = &protocol.ModerationAction{Kind: protocol.ActionUnban}
	} else if p.Permanent || p.ExpiresAt == "" {
		action = &protocol.ModerationAction{Kind: protocol.ActionBan, Ban: &protocol.BanAction{IsPermanent: true}}
	} else {
		expires, _ := time.Parse(time.RFC3339, p.ExpiresAt)
		action = &protocol.ModerationAction{Kind: protocol.ActionTimeout, Timeout: &protocol.TimeoutAction{ExpiresAtUnix: expires.Unix()}}
	}

	mod := &protocol.Moderation{Kind: "ban", Actor: &actor, Target: &target, Action: action}
	ingest := &protocol.IngestEvent{
		Platform: protocol.PlatformKick,
		Room:     room,
		IngestTS: time.Now().UnixMilli(),
		Payload:  protocol.IngestPayload{Kind: protocol.PayloadModeration, Moderation: mod},
	}
	a.tryEmit(events, ingest)
}
