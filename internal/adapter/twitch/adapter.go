package twitch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"chatty/internal/adapter"
	"chatty/internal/protocol"
)

// Adapter is the P-WS1 (EventSub-style) platform adapter.
type Adapter struct {
	cfg  Config
	rest *restClient

	mu    sync.Mutex
	rooms map[protocol.RoomKey]struct{}

	auth        adapter.Auth
	expiresAt   time.Time
	lastRefresh time.Time

	state     State
	conn      *websocket.Conn
	sessionID string
	keepalive time.Duration

	subIDs        map[subKey]string
	broadcasterID map[string]string // login -> id
	tokenUserID   string
	modStanding   map[protocol.RoomKey]bool

	reconnect      *backoff.ExponentialBackOff
	reconnectDelay time.Duration
	lastReadyAt    time.Time

	dropped atomic.Uint64
}

// New constructs an idle adapter; call Run to start its loop.
func New(cfg Config) *Adapter {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.MinReconnectDelay
	bo.MaxInterval = cfg.MaxReconnectDelay
	bo.MaxElapsedTime = 0 // never gives up; the caller decides when to stop reconnecting
	return &Adapter{
		cfg:           cfg,
		rest:          newRestClient(cfg),
		rooms:         make(map[protocol.RoomKey]struct{}),
		subIDs:        make(map[subKey]string),
		broadcasterID: make(map[string]string),
		modStanding:   make(map[protocol.RoomKey]bool),
		state:         StateWaitingForAuth,
		reconnect:     bo,
	}
}

func (a *Adapter) Platform() protocol.Platform { return protocol.PlatformTwitch }

type wsFrame struct {
	msgType string
	raw     []byte
	err     error
}

type welcomePayload struct {
	Metadata struct {
		MessageType string `json:"message_type"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID                      string `json:"id"`
			KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
			ReconnectURL            string `json:"reconnect_url"`
		} `json:"session"`
	} `json:"payload"`
}

// Run is the adapter's event loop, implementing the state machine from
// spec.md §4.6.1. It never blocks forever on events: see tryEmit.
func (a *Adapter) Run(ctx context.Context, control <-chan adapter.ControlMsg, events chan<- *protocol.IngestEvent) {
	frames := make(chan wsFrame, 32)
	reconnectTimer := time.NewTimer(time.Hour)
	reconnectTimer.Stop()
	modTicker := time.NewTicker(a.cfg.ModStatusRefreshInterval)
	defer modTicker.Stop()
	dropTicker := time.NewTicker(a.cfg.DropReportInterval)
	defer dropTicker.Stop()
	refreshTicker := time.NewTicker(15 * time.Second)
	defer refreshTicker.Stop()

	armReconnect := func() {
		if a.state == StateReconnecting {
			reconnectTimer.Reset(a.reconnectDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return

		case msg, ok := <-control:
			if !ok {
				a.teardown()
				return
			}
			if a.handleControl(ctx, msg, events) {
				a.teardown()
				return
			}
			a.maybeAdvance(ctx, frames)
			armReconnect()

		case f := <-frames:
			a.handleFrame(ctx, f, events, frames)
			a.maybeAdvance(ctx, frames)
			armReconnect()

		case <-reconnectTimer.C:
			a.connect(ctx, frames)
			armReconnect()

		case <-refreshTicker.C:
			a.maybeRefreshToken(ctx)

		case <-modTicker.C:
			a.refreshModStanding(ctx)

		case <-dropTicker.C:
			if d := a.dropped.Swap(0); d > 0 {
				slog.Warn("twitch adapter: dropped ingest events (events channel full)", "dropped", d)
			}
		}
	}
}

func (a *Adapter) handleControl(ctx context.Context, msg adapter.ControlMsg, events chan<- *protocol.IngestEvent) (shutdown bool) {
	switch msg.Kind {
	case adapter.CtrlJoin:
		a.mu.Lock()
		a.rooms[msg.Room] = struct{}{}
		a.mu.Unlock()
		if a.state == StateReady {
			a.reconcileRoom(ctx, msg.Room)
		}
	case adapter.CtrlLeave:
		a.mu.Lock()
		delete(a.rooms, msg.Room)
		delete(a.modStanding, msg.Room)
		a.mu.Unlock()
		a.unsubscribeRoom(ctx, msg.Room)
	case adapter.CtrlUpdateAuth:
		a.mu.Lock()
		a.auth = msg.Auth
		if msg.Auth.PlatformCreds != nil {
			a.rest.userAccessToken = msg.Auth.PlatformCreds.AccessToken
			if msg.Auth.PlatformCreds.ExpiresIn > 0 {
				a.expiresAt = time.Now().Add(time.Duration(msg.Auth.PlatformCreds.ExpiresIn) * time.Second)
			}
		} else if msg.Auth.Kind == adapter.AuthUserAccessToken {
			a.rest.userAccessToken = msg.Auth.UserAccessToken
		} else if msg.Auth.Kind == adapter.AuthAppAccessToken {
			a.rest.appAccessToken = msg.Auth.AppAccessToken
		}
		a.mu.Unlock()
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

// maybeAdvance re-evaluates the top-level state given current auth and
// room-set, kicking off connect/reconcile transitions as needed.
func (a *Adapter) maybeAdvance(ctx context.Context, frames chan wsFrame) {
	a.mu.Lock()
	hasAuth := a.auth.Kind != adapter.AuthNone && (a.expiresAt.IsZero() || time.Now().Before(a.expiresAt))
	hasRooms := len(a.rooms) > 0
	state := a.state
	a.mu.Unlock()

	switch state {
	case StateWaitingForAuth:
		if !hasAuth {
			return
		}
		a.state = StateNoRooms
		if hasRooms {
			a.state = StateConnecting
			a.connect(ctx, frames)
		}
	case StateNoRooms:
		if hasRooms {
			a.state = StateConnecting
			a.connect(ctx, frames)
		}
	default:
		if !hasAuth {
			a.state = StateWaitingForAuth
		}
	}
}

func (a *Adapter) connect(ctx context.Context, frames chan wsFrame) {
	a.state = StateConnecting
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.EventSubWSURL, nil)
	if err != nil {
		a.scheduleReconnect()
		return
	}
	a.conn = conn
	a.state = StateAwaitingWelcome
	go a.readLoop(conn, frames)
}

func (a *Adapter) readLoop(conn *websocket.Conn, frames chan<- wsFrame) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			frames <- wsFrame{err: err}
			return
		}
		var meta struct {
			Metadata struct {
				MessageType string `json:"message_type"`
			} `json:"metadata"`
		}
		_ = json.Unmarshal(raw, &meta)
		frames <- wsFrame{msgType: meta.Metadata.MessageType, raw: raw}
	}
}

func (a *Adapter) handleFrame(ctx context.Context, f wsFrame, events chan<- *protocol.IngestEvent, frames chan wsFrame) {
	if f.err != nil {
		a.scheduleReconnect()
		return
	}
	switch f.msgType {
	case "session_welcome":
		var w welcomePayload
		if err := json.Unmarshal(f.raw, &w); err != nil {
			a.scheduleReconnect()
			return
		}
		a.sessionID = w.Payload.Session.ID
		a.keepalive = time.Duration(w.Payload.Session.KeepaliveTimeoutSeconds) * time.Second
		a.state = StateReady
		a.lastReadyAt = time.Now()
		a.reconnect.Reset()
		a.reconcileAll(ctx)
	case "session_keepalive":
		// liveness only; nothing to do beyond having read the frame.
	case "session_reconnect":
		a.migrate(ctx, f.raw, events, frames)
	case "notification":
		a.handleNotification(f.raw, events)
	case "session_disconnect":
		a.scheduleReconnect()
	}
}

func (a *Adapter) handleNotification(raw []byte, events chan<- *protocol.IngestEvent) {
	var n eventSubNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		slog.Warn("twitch adapter: malformed notification", "err", err)
		return
	}

	room := a.roomForSubscription(n.Payload.Subscription.ID)
	if room == (protocol.RoomKey{}) {
		return
	}

	ev, err := a.normalize(room, &n)
	if err != nil {
		slog.Warn("twitch adapter: failed to normalize notification", "err", err, "type", n.Metadata.SubscriptionType)
		return
	}
	a.tryEmit(events, ev)
}

// tryEmit never blocks: a full events channel increments the drop
// counter instead, per spec.md §4.6.5.
func (a *Adapter) tryEmit(events chan<- *protocol.IngestEvent, ev *protocol.IngestEvent) {
	select {
	case events <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) roomForSubscription(subID string) protocol.RoomKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, id := range a.subIDs {
		if id == subID {
			return protocol.RoomKey{Platform: protocol.PlatformTwitch, RoomID: k.room}
		}
	}
	return protocol.RoomKey{}
}

// migrate implements the Ready -> Migrating -> Ready transition from
// spec.md §4.6.1: dial the secondary URL, wait for its welcome while
// buffering notifications, then atomically swap sockets and drain the
// buffer through normal notification handling.
//
// Before any of that, it drains notifications already queued on the
// primary's frames channel: they arrived before the reconnect signal was
// acted on, so they must be emitted before anything the secondary session
// buffers (spec.md §8 scenario 6 and §5's per-session ordering guarantee).
func (a *Adapter) migrate(ctx context.Context, raw []byte, events chan<- *protocol.IngestEvent, frames chan wsFrame) {
	var w welcomePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return
	}
	url := w.Payload.Session.ReconnectURL
	if url == "" {
		return
	}
	a.state = StateMigrating

drainPrimary:
	for {
		select {
		case f := <-frames:
			if f.err == nil && f.msgType == "notification" {
				a.handleNotification(f.raw, events)
			}
		default:
			break drainPrimary
		}
	}

	newConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		a.scheduleReconnect()
		return
	}

	var buffered [][]byte
	newWelcome := make(chan []byte, 1)
	go func() {
		for {
			_, raw, err := newConn.ReadMessage()
			if err != nil {
				close(newWelcome)
				return
			}
			var meta struct {
				Metadata struct {
					MessageType string `json:"message_type"`
				} `json:"metadata"`
			}
			_ = json.Unmarshal(raw, &meta)
			if meta.Metadata.MessageType == "session_welcome" {
				newWelcome <- raw
				return
			}
			if meta.Metadata.MessageType == "notification" {
				if len(buffered) >= a.cfg.MigrationBufferCapacity {
					buffered = buffered[1:]
				}
				buffered = append(buffered, raw)
			}
		}
	}()

	welcomeRaw, ok := <-newWelcome
	if !ok {
		newConn.Close()
		a.scheduleReconnect()
		return
	}
	var w2 welcomePayload
	_ = json.Unmarshal(welcomeRaw, &w2)

	old := a.conn
	a.conn = newConn
	a.sessionID = w2.Payload.Session.ID
	a.keepalive = time.Duration(w2.Payload.Session.KeepaliveTimeoutSeconds) * time.Second
	if old != nil {
		old.Close()
	}
	a.state = StateReady

	for _, raw := range buffered {
		a.handleNotification(raw, events)
	}
}

func (a *Adapter) scheduleReconnect() {
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.state = StateReconnecting
	if time.Since(a.lastReadyAt) > a.cfg.ReconnectResetAfter {
		a.reconnect.Reset()
	}
	delay := a.reconnect.NextBackOff()
	if delay == backoff.Stop || delay <= 0 {
		delay = a.cfg.MaxReconnectDelay
	}
	a.reconnectDelay = delay
}

func (a *Adapter) teardown() {
	if a.conn != nil {
		a.conn.Close()
	}
}
