// Package kick implements the P-WS2 (Pusher-style) adapter: subscribes to
// chatroom_<id> channels over a Pusher-protocol WebSocket, answers
// pusher:ping with pusher:pong, and dispatches moderation/send commands
// over REST. Simpler than twitch's EventSub state machine per spec.md
// §4.7, so it is built as a single reconnecting loop rather than an
// explicit state-machine type.
package kick

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"chatty/internal/adapter"
	"chatty/internal/protocol"
)

// Config holds the adapter's tunables.
type Config struct {
	PusherWSURL  string // e.g. wss://ws-us2.pusher.com/app/<key>?protocol=7
	RESTBaseURL  string // e.g. https://kick.com/api/v2
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinReconnectDelay: time.Second,
		MaxReconnectDelay: time.Minute,
	}
}

// Adapter is the P-WS2 platform adapter.
type Adapter struct {
	cfg  Config
	rest *restClient

	mu    sync.Mutex
	rooms map[protocol.RoomKey]struct{}
	auth  adapter.Auth
	scopes map[string]bool

	chatroomID map[string]int64 // slug -> chatroom id

	dropped atomic.Uint64
}

func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:        cfg,
		rest:       newRestClient(cfg),
		rooms:      make(map[protocol.RoomKey]struct{}),
		scopes:     make(map[string]bool),
		chatroomID: make(map[string]int64),
	}
}

func (a *Adapter) Platform() protocol.Platform { return protocol.PlatformKick }

type pusherEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (a *Adapter) Run(ctx context.Context, control <-chan adapter.ControlMsg, events chan<- *protocol.IngestEvent) {
	frames := make(chan []byte, 32)
	var conn *websocket.Conn
	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = a.cfg.MinReconnectDelay
	reconnect.MaxInterval = a.cfg.MaxReconnectDelay
	reconnect.MaxElapsedTime = 0
	dropTicker := time.NewTicker(5 * time.Second)
	defer dropTicker.Stop()

	subscribedChannels := make(map[string]bool)

	dial := func() {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, a.cfg.PusherWSURL, nil)
		if err != nil {
			slog.Warn("kick adapter: dial failed", "err", err)
			conn = nil
			return
		}
		// Each connection gets its own frames channel: readLoop closes it
		// when that connection dies.
		frames = make(chan []byte, 32)
		go a.readLoop(conn, frames)
		subscribedChannels = make(map[string]bool)
		a.resubscribeAll(conn, subscribedChannels)
	}

	dial()
	reconnectTimer := time.NewTimer(time.Hour)
	reconnectTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return

		case msg, ok := <-control:
			if !ok {
				if conn != nil {
					conn.Close()
				}
				return
			}
			if a.handleControl(ctx, msg, conn, subscribedChannels) {
				if conn != nil {
					conn.Close()
				}
				return
			}

		case raw, ok := <-frames:
			if !ok {
				frames = nil
				delay := reconnect.NextBackOff()
				if delay == backoff.Stop || delay <= 0 {
					delay = a.cfg.MaxReconnectDelay
				}
				reconnectTimer.Reset(delay)
				continue
			}
			a.handleFrame(conn, raw, events)

		case <-reconnectTimer.C:
			dial()
			if conn != nil {
				reconnect.Reset()
			} else if delay := reconnect.NextBackOff(); delay != backoff.Stop && delay > 0 {
				reconnectTimer.Reset(delay)
			} else {
				reconnectTimer.Reset(a.cfg.MaxReconnectDelay)
			}

		case <-dropTicker.C:
			if d := a.dropped.Swap(0); d > 0 {
				slog.Warn("kick adapter: dropped ingest events (events channel full)", "dropped", d)
			}
		}
	}
}

func (a *Adapter) readLoop(conn *websocket.Conn, frames chan<- []byte) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			close(frames)
			return
		}
		frames <- raw
	}
}

func (a *Adapter) resubscribeAll(conn *websocket.Conn, subscribed map[string]bool) {
	if conn == nil {
		return
	}
	a.mu.Lock()
	rooms := make([]protocol.RoomKey, 0, len(a.rooms))
	for r := range a.rooms {
		rooms = append(rooms, r)
	}
	a.mu.Unlock()

	for _, r := range rooms {
		a.subscribeRoom(conn, r, subscribed)
	}
}

func (a *Adapter) subscribeRoom(conn *websocket.Conn, room protocol.RoomKey, subscribed map[string]bool) {
	id, err := a.resolveChatroomID(context.Background(), room.RoomID)
	if err != nil {
		slog.Warn("kick adapter: chatroom id resolution failed", "room", room.RoomID, "err", err)
		return
	}
	channel := chatroomChannel(id)
	if subscribed[channel] {
		return
	}
	msg := pusherEvent{
		Event: "pusher:subscribe",
		Data:  marshalSubscribeData(channel),
	}
	if err := conn.WriteJSON(msg); err != nil {
		slog.Warn("kick adapter: subscribe write failed", "channel", channel, "err", err)
		return
	}
	subscribed[channel] = true
}

func marshalSubscribeData(channel string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"channel": channel})
	return b
}

func chatroomChannel(id int64) string {
	return "chatroom_" + strconv.FormatInt(id, 10)
}

func (a *Adapter) handleControl(ctx context.Context, msg adapter.ControlMsg, conn *websocket.Conn, subscribed map[string]bool) (shutdown bool) {
	switch msg.Kind {
	case adapter.CtrlJoin:
		a.mu.Lock()
		a.rooms[msg.Room] = struct{}{}
		a.mu.Unlock()
		a.subscribeRoom(conn, msg.Room, subscribed)
	case adapter.CtrlLeave:
		a.mu.Lock()
		delete(a.rooms, msg.Room)
		a.mu.Unlock()
	case adapter.CtrlUpdateAuth:
		a.mu.Lock()
		a.auth = msg.Auth
		if msg.Auth.PlatformCreds != nil {
			a.rest.accessToken = msg.Auth.PlatformCreds.AccessToken
		} else if msg.Auth.Kind == adapter.AuthUserAccessToken {
			a.rest.accessToken = msg.Auth.UserAccessToken
		}
		a.mu.Unlock()
		a.refreshScopes(ctx)
	case adapter.CtrlCommand:
		a.executeCommand(ctx, msg)
	case adapter.CtrlQueryPermissions:
		info := a.permissionsFor(msg.PermissionsRoom)
		if msg.PermissionsResp != nil {
			select {
			case msg.PermissionsResp <- info:
			default:
			}
		}
	case adapter.CtrlShutdown:
		return true
	}
	return false
}

func (a *Adapter) resolveChatroomID(ctx context.Context, slug string) (int64, error) {
	a.mu.Lock()
	id, ok := a.chatroomID[slug]
	a.mu.Unlock()
	if ok {
		return id, nil
	}
	id, err := a.rest.resolveChatroomID(ctx, slug)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.chatroomID[slug] = id
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) refreshScopes(ctx context.Context) {
	scopes, err := a.rest.introspectScopes(ctx)
	if err != nil {
		slog.Warn("kick adapter: token introspection failed", "err", err)
		return
	}
	a.mu.Lock()
	a.scopes = scopes
	a.mu.Unlock()
}

func (a *Adapter) permissionsFor(room protocol.RoomKey) protocol.PermissionsInfo {
	a.mu.Lock()
	isMod := a.scopes["channel:moderate"] || a.scopes["chat:moderate"]
	a.mu.Unlock()
	return protocol.PermissionsInfo{
		CanSend:     true,
		CanReply:    true,
		CanDelete:   isMod,
		CanTimeout:  isMod,
		CanBan:      isMod,
		IsModerator: isMod,
	}
}

func (a *Adapter) handleFrame(conn *websocket.Conn, raw []byte, events chan<- *protocol.IngestEvent) {
	var ev pusherEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	switch ev.Event {
	case "pusher:ping":
		if conn != nil {
			_ = conn.WriteJSON(pusherEvent{Event: "pusher:pong"})
		}
	case "App\\Events\\ChatMessageEvent":
		a.handleChatMessage(ev, events)
	case "App\\Events\\MessageDeletedEvent":
		a.handleMessageDeleted(ev, events)
	case "App\\Events\\UserBannedEvent":
		a.handleBan(ev, events, true)
	case "App\\Events\\UserUnbannedEvent":
		a.handleBan(ev, events, false)
	}
}

func (a *Adapter) roomFromChannel(channel string) (protocol.RoomKey, bool) {
	target, err := scanChatroomID(channel)
	if err != nil {
		return protocol.RoomKey{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for slug, id := range a.chatroomID {
		if id == target {
			return protocol.RoomKey{Platform: protocol.PlatformKick, RoomID: slug}, true
		}
	}
	return protocol.RoomKey{}, false
}

func scanChatroomID(channel string) (int64, error) {
	const prefix = "chatroom_"
	rest, ok := strings.CutPrefix(channel, prefix)
	if !ok || rest == "" {
		return 0, errors.New("not a chatroom channel")
	}
	v, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, errors.New("invalid chatroom id")
	}
	return v, nil
}

func (a *Adapter) tryEmit(events chan<- *protocol.IngestEvent, ev *protocol.IngestEvent) {
	select {
	case events <- ev:
	default:
		a.dropped.Add(1)
	}
}
