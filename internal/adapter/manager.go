package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatty/internal/protocol"
)

// Manager owns a Platform -> Handle table, spawning each adapter's Run
// loop on Register and fanning its events into a shared channel the
// ingest router drains.
type Manager struct {
	mu       sync.RWMutex
	handles  map[protocol.Platform]*Handle
	eventsFanout chan *protocol.IngestEvent
}

// New returns a Manager whose aggregate events channel has the given
// capacity (it is the channel ingest.Router.Run drains).
func New(eventsFanoutCapacity int) *Manager {
	if eventsFanoutCapacity <= 0 {
		eventsFanoutCapacity = DefaultEventsCapacity
	}
	return &Manager{
		handles:      make(map[protocol.Platform]*Handle),
		eventsFanout: make(chan *protocol.IngestEvent, eventsFanoutCapacity),
	}
}

// Events returns the channel the ingest router should drain; it carries
// every adapter's normalized output.
func (m *Manager) Events() <-chan *protocol.IngestEvent {
	return m.eventsFanout
}

// Register spawns a adapter's Run loop under ctx and makes it reachable
// by its Platform() for the lifetime of the manager (or until Shutdown).
func (m *Manager) Register(ctx context.Context, a Adapter) {
	adapterCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		Platform: a.Platform(),
		Control:  make(chan ControlMsg, DefaultControlCapacity),
		Events:   make(chan *protocol.IngestEvent, DefaultEventsCapacity),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.handles[h.Platform] = h
	m.mu.Unlock()

	go func() {
		defer close(h.done)
		a.Run(adapterCtx, h.Control, h.Events)
	}()

	go m.pump(adapterCtx, h)
}

// pump relays one adapter's private events channel into the shared
// fanout, so the ingest router only ever needs to drain one channel.
func (m *Manager) pump(ctx context.Context, h *Handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.Events:
			if !ok {
				return
			}
			select {
			case m.eventsFanout <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) handle(platform protocol.Platform) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[platform]
	return h, ok
}

// ApplyGlobalJoinsLeaves parses each topic, resolves its adapter, and
// sends Join/Leave. Best-effort: a send failure (adapter absent, or its
// control channel unexpectedly full) is logged, not returned.
func (m *Manager) ApplyGlobalJoinsLeaves(toJoin, toLeave []string) {
	apply := func(topics []string, kind ControlKind) {
		for _, topic := range topics {
			room, err := protocol.ParseTopic(topic)
			if err != nil {
				slog.Warn("adapter manager: skipping malformed topic", "topic", topic, "err", err)
				continue
			}
			h, ok := m.handle(room.Platform)
			if !ok {
				slog.Warn("adapter manager: no adapter for platform", "platform", room.Platform, "topic", topic)
				continue
			}
			msg := ControlMsg{Kind: kind, Room: room}
			select {
			case h.Control <- msg:
			default:
				slog.Warn("adapter manager: control channel full, dropping join/leave", "platform", room.Platform, "topic", topic, "kind", kind)
			}
		}
	}
	apply(toJoin, CtrlJoin)
	apply(toLeave, CtrlLeave)
}

// UpdateAuth forwards auth to platform's adapter. Returns false if no
// adapter is registered for that platform.
func (m *Manager) UpdateAuth(platform protocol.Platform, auth Auth) bool {
	h, ok := m.handle(platform)
	if !ok {
		return false
	}
	select {
	case h.Control <- ControlMsg{Kind: CtrlUpdateAuth, Auth: auth}:
	default:
		slog.Warn("adapter manager: control channel full, dropping update_auth", "platform", platform)
	}
	return true
}

// ExecuteCommand resolves the adapter for req.Topic's platform and
// round-trips a Command control message. Timeout is the caller's
// responsibility via ctx.
func (m *Manager) ExecuteCommand(ctx context.Context, req *protocol.CommandReq, auth Auth) (string, CommandError) {
	room, err := protocol.ParseTopic(req.Topic)
	if err != nil {
		return "", CmdErrInvalidTopic
	}
	h, ok := m.handle(room.Platform)
	if !ok {
		return "", CmdErrNotSupported
	}

	resp := make(chan CommandOutcome, 1)
	msg := ControlMsg{Kind: CtrlCommand, Auth: auth, Command: req, CommandResp: resp}
	select {
	case h.Control <- msg:
	case <-ctx.Done():
		return "", CmdErrInternal
	default:
		return "", CmdErrInternal
	}

	select {
	case out := <-resp:
		return out.Detail, out.Err
	case <-ctx.Done():
		return "", CmdErrInternal
	}
}

// QueryPermissions round-trips a permissions snapshot request. On
// timeout or adapter absence it returns the zero-value (all-false)
// PermissionsInfo, matching spec.md §4.5's "default-false" contract.
func (m *Manager) QueryPermissions(ctx context.Context, room protocol.RoomKey, auth Auth) protocol.PermissionsInfo {
	h, ok := m.handle(room.Platform)
	if !ok {
		return protocol.PermissionsInfo{}
	}

	resp := make(chan protocol.PermissionsInfo, 1)
	msg := ControlMsg{Kind: CtrlQueryPermissions, Auth: auth, PermissionsRoom: room, PermissionsResp: resp}
	select {
	case h.Control <- msg:
	default:
		return protocol.PermissionsInfo{}
	}

	select {
	case info := <-resp:
		return info
	case <-ctx.Done():
		return protocol.PermissionsInfo{}
	case <-time.After(2 * time.Second):
		return protocol.PermissionsInfo{}
	}
}

// Shutdown signals every adapter to stop and waits (bounded by ctx) for
// their Run loops to return.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		select {
		case h.Control <- ControlMsg{Kind: CtrlShutdown}:
		default:
		}
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return
		}
	}
}
