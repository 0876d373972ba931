// Package connection implements the per-client session: the Hello/Welcome
// handshake, the three concurrent tasks spec.md §4.8/§5 require (control
// reader, control writer, events writer), subscribe/unsubscribe and command
// handling, and teardown. Grounded on the teacher's per-client goroutine
// trio in _examples/rustyguts-bken/client/transport.go (readControl /
// writeCtrl / the session's outbound loop), generalized from WebTransport's
// single control stream to this protocol's control+events split.
package connection

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatty/internal/adapter"
	"chatty/internal/assets"
	"chatty/internal/audit"
	"chatty/internal/chattyerr"
	"chatty/internal/protocol"
	"chatty/internal/ratelimit"
	"chatty/internal/replay"
	"chatty/internal/roomhub"
)

// Stream is the minimal surface Conn needs from a QUIC stream, satisfied
// by *quic.Stream. Kept as an interface so tests can drive a Conn over
// net.Pipe/io.Pipe without a real QUIC connection.
type Stream interface {
	io.Reader
	io.Writer
}

// Config holds the per-server settings a Conn needs that aren't shared
// process-wide state (those live on Deps).
type Config struct {
	ServerName       string
	ServerInstanceID string
	MaxFrameBytes    uint32
	AuthToken        string // static shared-secret form; empty disables
	AuthHMACSecret   string // HMAC form: auth_token is "<claims>.<hex hmac>"; empty disables
	ConnBurst        int
	ConnPerMinute    int
	EventsChanCap    int
}

// Deps is the process-wide state every connection shares, constructed once
// in cmd/chattyd and passed to each New call.
type Deps struct {
	Hub       *roomhub.Hub
	Replay    *replay.Service
	Adapters  *adapter.Manager
	Audit     audit.Service
	Assets    *assets.Cache
	TopicRefs *TopicRefCounts
	Topics    *ratelimit.TopicLimiters
}

// Conn runs one client's session end to end.
type Conn struct {
	cfg  Config
	deps Deps

	control Stream
	events  Stream

	clientID string
	auth     adapter.Auth
	codec    string

	connLimiter *ratelimit.ConnLimiter

	queue      *controlQueue
	ctrlReader *frameReader

	subsMu sync.Mutex
	subs   map[string]roomhub.Subscription

	pending    chan *protocol.EventEnvelope
	eventsIn   chan topicItem
	writerOnce sync.Once

	maxFrameBytes uint32
}

// New constructs a Conn ready for Run. control and events must be the two
// bidirectional streams accepted in that order (transport.Session.Streams
// already consumes the events stream's keepalive byte).
func New(cfg Config, deps Deps, control, events Stream) *Conn {
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	if cfg.EventsChanCap <= 0 {
		cfg.EventsChanCap = 256
	}
	return &Conn{
		cfg:           cfg,
		deps:          deps,
		control:       control,
		events:        events,
		subs:          make(map[string]roomhub.Subscription),
		pending:       make(chan *protocol.EventEnvelope, 64),
		eventsIn:      make(chan topicItem, cfg.EventsChanCap),
		maxFrameBytes: cfg.MaxFrameBytes,
	}
}

// Run drives the connection until ctx is cancelled, the transport errors,
// or the client disconnects. It always tears down subscriptions before
// returning.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown(ctx)

	if err := c.handshake(ctx); err != nil {
		return err
	}

	c.connLimiter = ratelimit.NewConnLimiter(c.cfg.ConnBurst, c.cfg.ConnPerMinute)

	var wg sync.WaitGroup
	readerErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		readerErr <- c.runControlReader(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runControlWriter(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-readerErr:
		cancel()
	}

	c.queue.Close()
	wg.Wait()
	return err
}

// handshake reads the client's Hello, validates auth, negotiates a codec,
// and replies with Welcome, per spec.md §4.8.
func (c *Conn) handshake(ctx context.Context) error {
	c.ctrlReader = newFrameReader(c.control, c.maxFrameBytes)
	env, err := c.ctrlReader.Next()
	if err != nil {
		return chattyerr.New(chattyerr.CategoryFraming, "handshake", err)
	}
	if env.Type != protocol.MsgHello || env.Hello == nil {
		return chattyerr.New(chattyerr.CategoryProtocol, "handshake", fmt.Errorf("expected hello, got %s", env.Type))
	}
	hello := env.Hello

	if env.Version != protocol.ProtocolVersion {
		c.sendError(env.RequestID, "unsupported protocol version")
		return chattyerr.New(chattyerr.CategoryProtocol, "handshake", fmt.Errorf("unsupported protocol version %d", env.Version))
	}

	if !c.authorize(hello) {
		c.sendError(env.RequestID, "unauthorized")
		return chattyerr.New(chattyerr.CategoryAuth, "handshake", chattyerr.ErrUnauthorized)
	}

	codec, err := negotiateCodec(hello)
	if err != nil {
		c.sendError(env.RequestID, err.Error())
		return chattyerr.New(chattyerr.CategoryProtocol, "handshake", err)
	}
	c.codec = codec

	// Hello.InstanceID is the durable client_id replay/cursor state keys
	// on, per SPEC_FULL.md's resolution of the client-identity open
	// question: a fresh InstanceID means fresh replay state, by design.
	c.clientID = hello.InstanceID
	if c.clientID == "" {
		c.clientID = uuid.NewString()
	}

	if hello.PlatformCreds != nil {
		c.auth = adapter.Auth{Kind: adapter.AuthPlatformUserCreds, PlatformCreds: hello.PlatformCreds}
		c.deps.Adapters.UpdateAuth(hello.PlatformCreds.Platform, c.auth)
	}

	c.queue = newControlQueue()

	welcome := &protocol.Envelope{
		Version:   protocol.ProtocolVersion,
		RequestID: env.RequestID,
		Type:      protocol.MsgWelcome,
		Welcome: &protocol.Welcome{
			ServerName:       c.cfg.ServerName,
			ServerInstanceID: c.cfg.ServerInstanceID,
			ServerTimeUnixMS: time.Now().UnixMilli(),
			MaxFrameBytes:    c.maxFrameBytes,
			SelectedCodec:    codec,
		},
	}
	return c.writeControl(welcome)
}

// authorize checks hello's credentials against whichever scheme is
// configured. Absent both AuthToken and AuthHMACSecret, every Hello is
// accepted (open/dev mode).
func (c *Conn) authorize(hello *protocol.Hello) bool {
	if c.cfg.AuthToken == "" && c.cfg.AuthHMACSecret == "" {
		return true
	}
	if c.cfg.AuthToken != "" && hmac.Equal([]byte(hello.AuthToken), []byte(c.cfg.AuthToken)) {
		return true
	}
	if c.cfg.AuthHMACSecret != "" {
		return verifyHMACToken(hello.AuthToken, c.cfg.AuthHMACSecret)
	}
	return false
}

// verifyHMACToken checks tokens of the form "<claims>.<hex hmac-sha256>",
// where the mac covers the claims segment. The claims payload itself is
// opaque to this server; only the signature is verified.
func verifyHMACToken(token, secret string) bool {
	i := lastDot(token)
	if i < 0 {
		return false
	}
	claims, sig := token[:i], token[i+1:]
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(claims))
	return hmac.Equal(mac.Sum(nil), want)
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// negotiateCodec implements spec.md §6's codec negotiation: this server
// only ever selects "json". An empty preference or list is fine; a
// non-empty list that omits "json" is a hard error.
func negotiateCodec(hello *protocol.Hello) (string, error) {
	const json = "json"
	if hello.PreferredCodec != "" && hello.PreferredCodec != json {
		return "", chattyerr.ErrUnsupportedCodec
	}
	if len(hello.SupportedCodecs) == 0 {
		return json, nil
	}
	for _, codec := range hello.SupportedCodecs {
		if codec == json {
			return json, nil
		}
	}
	return "", chattyerr.ErrUnsupportedCodec
}

func (c *Conn) sendError(requestID, detail string) {
	_ = c.writeControl(&protocol.Envelope{
		Version:   protocol.ProtocolVersion,
		RequestID: requestID,
		Type:      protocol.MsgError,
		Error:     &protocol.ErrorMsg{Detail: detail},
	})
}

func (c *Conn) writeControl(env *protocol.Envelope) error {
	frame, err := protocol.Encode(env, c.maxFrameBytes)
	if err != nil {
		return chattyerr.New(chattyerr.CategoryFraming, "write_control", err)
	}
	if _, err := c.control.Write(frame); err != nil {
		return chattyerr.New(chattyerr.CategoryTransport, "write_control", err)
	}
	return nil
}

// runControlReader decodes frames off the control stream and pushes them
// onto the unbounded queue, never blocking on dispatch. A duplicate Hello
// is logged and ignored per spec.md §4.8; any other decode failure is
// stream-fatal.
func (c *Conn) runControlReader(ctx context.Context) error {
	for {
		env, err := c.ctrlReader.Next()
		if err != nil {
			return chattyerr.New(chattyerr.CategoryFraming, "control_reader", err)
		}
		if env.Type == protocol.MsgHello {
			slog.Warn("connection: ignoring duplicate hello", "client_id", c.clientID)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.queue.Push(env)
	}
}

// runControlWriter is the connection's main loop: it pops queued requests
// and dispatches them, and owns all control-stream writes so they never
// interleave.
func (c *Conn) runControlWriter(ctx context.Context) {
	for {
		env, ok := c.queue.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.dispatch(ctx, env)
	}
}

func (c *Conn) dispatch(ctx context.Context, env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgPing:
		ts := int64(0)
		if env.Ping != nil {
			ts = env.Ping.TS
		}
		_ = c.writeControl(&protocol.Envelope{
			Version: protocol.ProtocolVersion, RequestID: env.RequestID,
			Type: protocol.MsgPong, Pong: &protocol.Pong{TS: ts},
		})
	case protocol.MsgSubscribe:
		if env.Subscribe != nil {
			c.handleSubscribe(ctx, env.RequestID, env.Subscribe)
		}
	case protocol.MsgUnsubscribe:
		if env.Unsubscribe != nil {
			c.handleUnsubscribe(env.RequestID, env.Unsubscribe)
		}
	case protocol.MsgCommand:
		if env.Command != nil {
			c.handleCommand(ctx, env.RequestID, env.Command)
		}
	default:
		slog.Warn("connection: unexpected control message type", "client_id", c.clientID, "type", env.Type)
	}
}

// ensureEventsWriter starts the single events-writer goroutine the first
// time a connection actually subscribes to anything; connections that
// never subscribe never need one.
func (c *Conn) ensureEventsWriter(ctx context.Context) {
	c.writerOnce.Do(func() {
		go c.runEventsWriter(ctx)
	})
}

// teardown releases every subscription, decrements global topic refcounts,
// and dispatches any resulting Leave, per spec.md §8 invariant 7.
func (c *Conn) teardown(ctx context.Context) {
	c.subsMu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic, sub := range c.subs {
		sub.Unsubscribe()
		topics = append(topics, topic)
	}
	c.subs = make(map[string]roomhub.Subscription)
	c.subsMu.Unlock()

	if len(topics) == 0 {
		return
	}
	toLeave := c.deps.TopicRefs.Leave(topics)
	if len(toLeave) > 0 {
		c.deps.Adapters.ApplyGlobalJoinsLeaves(nil, toLeave)
	}
	slog.Debug("connection: torn down", "client_id", c.clientID, "topics", topics)
}
