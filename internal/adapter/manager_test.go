package adapter

import (
	"context"
	"testing"
	"time"

	"chatty/internal/protocol"
)

// fakeAdapter is a minimal Adapter used to drive Manager without any real
// upstream platform connection. It echoes commands back with a
// caller-chosen outcome and answers permission queries with a fixed value.
type fakeAdapter struct {
	platform    protocol.Platform
	cmdOutcome  CommandOutcome
	permissions protocol.PermissionsInfo
	answerPerms bool

	joined  chan protocol.RoomKey
	left    chan protocol.RoomKey
	authed  chan Auth
}

func newFakeAdapter(platform protocol.Platform) *fakeAdapter {
	return &fakeAdapter{
		platform: platform,
		joined:   make(chan protocol.RoomKey, 8),
		left:     make(chan protocol.RoomKey, 8),
		authed:   make(chan Auth, 8),
	}
}

func (f *fakeAdapter) Platform() protocol.Platform { return f.platform }

func (f *fakeAdapter) Run(ctx context.Context, control <-chan ControlMsg, events chan<- *protocol.IngestEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-control:
			if !ok {
				return
			}
			switch msg.Kind {
			case CtrlJoin:
				f.joined <- msg.Room
			case CtrlLeave:
				f.left <- msg.Room
			case CtrlUpdateAuth:
				f.authed <- msg.Auth
			case CtrlCommand:
				msg.CommandResp <- f.cmdOutcome
			case CtrlQueryPermissions:
				if f.answerPerms {
					msg.PermissionsResp <- f.permissions
				}
			case CtrlShutdown:
				return
			}
		}
	}
}

func TestManagerRegisterAndApplyGlobalJoinsLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(0)
	fa := newFakeAdapter(protocol.PlatformTwitch)
	m.Register(ctx, fa)

	m.ApplyGlobalJoinsLeaves([]string{"room:twitch/1"}, nil)
	select {
	case room := <-fa.joined:
		if room.RoomID != "1" {
			t.Fatalf("joined room = %+v, want RoomID 1", room)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a join to be dispatched to the twitch adapter")
	}

	m.ApplyGlobalJoinsLeaves(nil, []string{"room:twitch/1"})
	select {
	case room := <-fa.left:
		if room.RoomID != "1" {
			t.Fatalf("left room = %+v, want RoomID 1", room)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a leave to be dispatched to the twitch adapter")
	}
}

func TestManagerApplyGlobalJoinsLeavesSkipsUnknownPlatform(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(0)
	// No adapters registered at all; this must not panic or block.
	m.ApplyGlobalJoinsLeaves([]string{"room:kick/1"}, []string{"room:twitch/2"})
}

func TestManagerApplyGlobalJoinsLeavesSkipsMalformedTopic(t *testing.T) {
	m := New(0)
	m.ApplyGlobalJoinsLeaves([]string{"not-a-topic"}, nil)
}

func TestManagerUpdateAuthKnownPlatform(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(0)
	fa := newFakeAdapter(protocol.PlatformKick)
	m.Register(ctx, fa)

	ok := m.UpdateAuth(protocol.PlatformKick, Auth{Kind: AuthUserAccessToken, UserAccessToken: "tok"})
	if !ok {
		t.Fatal("UpdateAuth should return true for a registered platform")
	}

	select {
	case auth := <-fa.authed:
		if auth.UserAccessToken != "tok" {
			t.Fatalf("unexpected auth forwarded: %+v", auth)
		}
	case <-time.After(time.Second):
		t.Fatal("expected auth update to reach the adapter")
	}
}

func TestManagerUpdateAuthUnknownPlatformReturnsFalse(t *testing.T) {
	m := New(0)
	if m.UpdateAuth(protocol.PlatformTwitch, Auth{}) {
		t.Fatal("UpdateAuth for an unregistered platform should return false")
	}
}

func TestManagerExecuteCommandRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(0)
	fa := newFakeAdapter(protocol.PlatformTwitch)
	fa.cmdOutcome = CommandOutcome{Detail: "ok", Err: CmdErrNone}
	m.Register(ctx, fa)

	detail, cmdErr := m.ExecuteCommand(context.Background(), &protocol.CommandReq{
		Topic: "room:twitch/1", Kind: protocol.CmdSendChat, Text: "hi",
	}, Auth{})
	if cmdErr != CmdErrNone || detail != "ok" {
		t.Fatalf("ExecuteCommand = %q, %v; want ok, CmdErrNone", detail, cmdErr)
	}
}

func TestManagerExecuteCommandInvalidTopic(t *testing.T) {
	m := New(0)
	_, cmdErr := m.ExecuteCommand(context.Background(), &protocol.CommandReq{Topic: "garbage"}, Auth{})
	if cmdErr != CmdErrInvalidTopic {
		t.Fatalf("cmdErr = %v, want CmdErrInvalidTopic", cmdErr)
	}
}

func TestManagerExecuteCommandUnregisteredPlatform(t *testing.T) {
	m := New(0)
	_, cmdErr := m.ExecuteCommand(context.Background(), &protocol.CommandReq{Topic: "room:kick/1"}, Auth{})
	if cmdErr != CmdErrNotSupported {
		t.Fatalf("cmdErr = %v, want CmdErrNotSupported", cmdErr)
	}
}

func TestManagerQueryPermissionsDefaultsFalseOnTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(0)
	fa := newFakeAdapter(protocol.PlatformTwitch)
	fa.answerPerms = false // adapter never responds
	m.Register(ctx, fa)

	qctx, qcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer qcancel()
	info := m.QueryPermissions(qctx, protocol.RoomKey{Platform: protocol.PlatformTwitch, RoomID: "1"}, Auth{})
	if info != (protocol.PermissionsInfo{}) {
		t.Fatalf("expected the zero-value PermissionsInfo on timeout, got %+v", info)
	}
}

func TestManagerQueryPermissionsUnknownPlatformDefaultsFalse(t *testing.T) {
	m := New(0)
	info := m.QueryPermissions(context.Background(), protocol.RoomKey{Platform: protocol.PlatformKick, RoomID: "1"}, Auth{})
	if info != (protocol.PermissionsInfo{}) {
		t.Fatalf("expected the zero-value PermissionsInfo for an unregistered platform, got %+v", info)
	}
}

func TestManagerEventsFanoutMergesAdapterEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(4)
	fa := newFakeAdapter(protocol.PlatformTwitch)
	m.Register(ctx, fa)

	// Write straight into the adapter's private Events channel (reachable
	// through the manager's handle lookup) and expect the pump goroutine
	// to relay it onto the shared fanout channel.
	h, ok := m.handle(protocol.PlatformTwitch)
	if !ok {
		t.Fatal("expected the registered adapter to have a handle")
	}
	ev := &protocol.IngestEvent{Platform: protocol.PlatformTwitch}
	h.Events <- ev
	select {
	case got := <-m.Events():
		if got != ev {
			t.Fatalf("fanout delivered %+v, want the adapter's event", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the adapter's event on the manager's Events channel")
	}
}

func TestManagerShutdownSignalsAllAdapters(t *testing.T) {
	m := New(0)
	fa1 := newFakeAdapter(protocol.PlatformTwitch)
	fa2 := newFakeAdapter(protocol.PlatformKick)
	m.Register(context.Background(), fa1)
	m.Register(context.Background(), fa2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(ctx)
}
