package twitch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatty/internal/adapter"
	"chatty/internal/protocol"
)

func (a *Adapter) reconcileAll(ctx context.Context) {
	a.mu.Lock()
	rooms := make([]protocol.RoomKey, 0, len(a.rooms))
	for r := range a.rooms {
		rooms = append(rooms, r)
	}
	a.mu.Unlock()

	for _, r := range rooms {
		a.reconcileRoom(ctx, r)
	}
}

// reconcileRoom implements spec.md §4.6.2: resolve ids, then ensure
// exactly one active subscription per required type tied to the current
// session.
func (a *Adapter) reconcileRoom(ctx context.Context, room protocol.RoomKey) {
	broadcasterID, err := a.resolveBroadcasterID(ctx, room.RoomID)
	if err != nil {
		slog.Warn("twitch adapter: broadcaster id resolution failed", "room", room.RoomID, "err", err)
		return
	}
	if a.tokenUserID == "" {
		uid, err := a.rest.whoAmI(ctx)
		if err != nil {
			slog.Warn("twitch adapter: whoami failed", "err", err)
			return
		}
		a.tokenUserID = uid
	}

	isMod := a.permissionsFor(room).IsModerator || a.permissionsFor(room).IsBroadcaster

	for _, subType := range requiredSubTypes {
		if moderationOnlySubTypes[subType] && !isMod {
			continue
		}
		a.reconcileSubscription(ctx, room, broadcasterID, subType)
	}
}

func (a *Adapter) resolveBroadcasterID(ctx context.Context, login string) (string, error) {
	a.mu.Lock()
	id, ok := a.broadcasterID[login]
	a.mu.Unlock()
	if ok {
		return id, nil
	}
	id, err := a.rest.resolveBroadcasterID(ctx, login)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.broadcasterID[login] = id
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) reconcileSubscription(ctx context.Context, room protocol.RoomKey, broadcasterID, subType string) {
	key := subKey{room: room.RoomID, subType: subType}
	condition := map[string]string{"broadcaster_user_id": broadcasterID}
	if subType == "channel.chat.message" || subType == "channel.chat.notification" {
		condition["user_id"] = a.tokenUserID
	}
	if subType == "channel.moderate" {
		condition["moderator_user_id"] = a.tokenUserID
	}

	id, err := a.rest.createSubscription(ctx, subType, condition, a.sessionID)
	if err == nil {
		a.mu.Lock()
		a.subIDs[key] = id
		a.mu.Unlock()
		return
	}

	var rerr *restError
	if !errors.As(err, &rerr) {
		slog.Warn("twitch adapter: subscription create failed", "room", room.RoomID, "type", subType, "err", err)
		return
	}

	switch rerr.Kind {
	case "conflict":
		a.resolveConflict(ctx, room, broadcasterID, subType, condition, key)
	case "auth":
		a.invalidateAuth()
	case "rate_limit":
		if rerr.RetryAfter > 0 {
			time.Sleep(time.Duration(rerr.RetryAfter) * time.Second)
		}
		if id, err := a.rest.createSubscription(ctx, subType, condition, a.sessionID); err == nil {
			a.mu.Lock()
			a.subIDs[key] = id
			a.mu.Unlock()
		}
	case "server_error":
		time.Sleep(500 * time.Millisecond)
		if id, err := a.rest.createSubscription(ctx, subType, condition, a.sessionID); err == nil {
			a.mu.Lock()
			a.subIDs[key] = id
			a.mu.Unlock()
		}
	default:
		slog.Warn("twitch adapter: subscription create failed", "room", room.RoomID, "type", subType, "err", err)
	}
}

func (a *Adapter) resolveConflict(ctx context.Context, room protocol.RoomKey, broadcasterID, subType string, condition map[string]string, key subKey) {
	existing, err := a.rest.listSubscriptionsByType(ctx, subType)
	if err != nil {
		slog.Warn("twitch adapter: list subscriptions after conflict failed", "err", err)
		return
	}

	var matching []helixSubscription
	for _, s := range existing {
		if s.Condition["broadcaster_user_id"] == broadcasterID {
			matching = append(matching, s)
		}
	}

	for _, s := range matching {
		if s.Transport.SessionID == a.sessionID {
			a.mu.Lock()
			a.subIDs[key] = s.ID
			a.mu.Unlock()
			return
		}
	}

	for _, s := range matching {
		if err := a.rest.deleteSubscription(ctx, s.ID); err != nil {
			slog.Warn("twitch adapter: failed deleting stale subscription", "id", s.ID, "err", err)
		}
	}

	id, err := a.rest.createSubscription(ctx, subType, condition, a.sessionID)
	if err != nil {
		slog.Warn("twitch adapter: subscription create failed after conflict resolution", "room", room.RoomID, "type", subType, "err", err)
		return
	}
	a.mu.Lock()
	a.subIDs[key] = id
	a.mu.Unlock()
}

func (a *Adapter) invalidateAuth() {
	a.mu.Lock()
	a.expiresAt = time.Now()
	a.mu.Unlock()
	slog.Warn("twitch adapter: auth invalidated by upstream 401/403")
}

func (a *Adapter) unsubscribeRoom(ctx context.Context, room protocol.RoomKey) {
	a.mu.Lock()
	var toDelete []string
	for k, id := range a.subIDs {
		if k.room == room.RoomID {
			toDelete = append(toDelete, id)
			delete(a.subIDs, k)
		}
	}
	a.mu.Unlock()

	for _, id := range toDelete {
		if err := a.rest.deleteSubscription(ctx, id); err != nil {
			slog.Warn("twitch adapter: failed deleting subscription on leave", "id", id, "err", err)
		}
	}
}

// maybeRefreshToken implements spec.md §4.6.3.
func (a *Adapter) maybeRefreshToken(ctx context.Context) {
	a.mu.Lock()
	creds := a.auth.PlatformCreds
	expiresAt := a.expiresAt
	lastAttempt := a.lastRefresh
	a.mu.Unlock()

	if creds == nil || creds.RefreshToken == "" || a.cfg.ClientSecret == "" {
		return
	}
	if expiresAt.IsZero() {
		return
	}
	buffer := time.Duration(a.cfg.RefreshBufferSeconds) * time.Second
	if time.Until(expiresAt) > buffer {
		return
	}
	if time.Since(lastAttempt) < 30*time.Second {
		return
	}

	a.mu.Lock()
	a.lastRefresh = time.Now()
	a.mu.Unlock()

	resp, err := a.rest.refreshToken(ctx, "https://id.twitch.tv/oauth2", creds.RefreshToken)
	if err != nil {
		slog.Warn("twitch adapter: token refresh failed", "err", err)
		return
	}

	a.mu.Lock()
	a.rest.userAccessToken = resp.AccessToken
	if a.auth.PlatformCreds != nil {
		a.auth.PlatformCreds.AccessToken = resp.AccessToken
		if resp.RefreshToken != "" {
			a.auth.PlatformCreds.RefreshToken = resp.RefreshToken
		}
	}
	a.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	a.mu.Unlock()
}

// refreshModStanding implements the background mod_status_refresh_interval
// sweep from spec.md §4.6.2.
func (a *Adapter) refreshModStanding(ctx context.Context) {
	a.mu.Lock()
	rooms := make([]protocol.RoomKey, 0, len(a.rooms))
	for r := range a.rooms {
		rooms = append(rooms, r)
	}
	a.mu.Unlock()

	for _, room := range rooms {
		broadcasterID, err := a.resolveBroadcasterID(ctx, room.RoomID)
		if err != nil {
			continue
		}
		status, err := a.rest.modStatus(ctx, broadcasterID, a.tokenUserID)
		if err != nil {
			continue
		}
		a.mu.Lock()
		a.modStanding[room] = status.IsModerator || status.IsBroadcaster
		a.mu.Unlock()
	}
}

func (a *Adapter) permissionsFor(room protocol.RoomKey) protocol.PermissionsInfo {
	a.mu.Lock()
	isMod := a.modStanding[room]
	a.mu.Unlock()

	return protocol.PermissionsInfo{
		CanSend:       true,
		CanReply:      true,
		CanDelete:     isMod,
		CanTimeout:    isMod,
		CanBan:        isMod,
		IsModerator:   isMod,
		IsBroadcaster: isMod,
	}
}

func (a *Adapter) executeCommand(ctx context.Context, msg adapter.ControlMsg) {
	if msg.CommandResp == nil || msg.Command == nil {
		return
	}
	req := msg.Command

	room, err := protocol.ParseTopic(req.Topic)
	if err != nil {
		sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidTopic})
		return
	}

	broadcasterID, err := a.resolveBroadcasterID(ctx, room.RoomID)
	if err != nil {
		sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInternal, Detail: err.Error()})
		return
	}

	switch req.Kind {
	case protocol.CmdSendChat:
		if req.Text == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		body := map[string]any{
			"broadcaster_id": broadcasterID,
			"sender_id":      a.tokenUserID,
			"message":        req.Text,
		}
		if req.ReplyToPlatformMsgID != "" {
			body["reply_parent_message_id"] = req.ReplyToPlatformMsgID
		}
		if err := a.rest.do(ctx, "POST", "/chat/messages", body, nil); err != nil {
			sendOutcome(msg.CommandResp, classifyCommandErr(err))
			return
		}
	case protocol.CmdDeleteMessage:
		if req.PlatformMessageID == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		path := "/moderation/chat?broadcaster_id=" + broadcasterID + "&moderator_id=" + a.tokenUserID + "&message_id=" + req.PlatformMessageID
		if err := a.rest.do(ctx, "DELETE", path, nil, nil); err != nil {
			sendOutcome(msg.CommandResp, classifyCommandErr(err))
			return
		}
	case protocol.CmdTimeoutUser, protocol.CmdBanUser:
		if req.UserID == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		banBody := map[string]any{
			"data": map[string]any{
				"user_id": req.UserID,
				"reason":  req.Reason,
			},
		}
		if req.Kind == protocol.CmdTimeoutUser {
			banBody["data"].(map[string]any)["duration"] = req.DurationSeconds
		}
		path := "/moderation/bans?broadcaster_id=" + broadcasterID + "&moderator_id=" + a.tokenUserID
		if err := a.rest.do(ctx, "POST", path, banBody, nil); err != nil {
			sendOutcome(msg.CommandResp, classifyCommandErr(err))
			return
		}
	default:
		sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrNotSupported})
		return
	}

	sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrNone})
}

func sendOutcome(ch chan<- adapter.CommandOutcome, out adapter.CommandOutcome) {
	select {
	case ch <- out:
	default:
	}
}

func classifyCommandErr(err error) adapter.CommandOutcome {
	var rerr *restError
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case "auth":
			return adapter.CommandOutcome{Err: adapter.CmdErrNotAuthorized}
		case "not_found":
			return adapter.CommandOutcome{Err: adapter.CmdErrInvalidTopic}
		case "bad_request":
			return adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand}
		}
	}
	return adapter.CommandOutcome{Err: adapter.CmdErrInternal, Detail: err.Error()}
}
