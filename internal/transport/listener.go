package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// quicConfig tunes idle/keepalive behavior for the single long-lived
// connection each client holds open, per spec.md §2's "single long-lived
// encrypted transport".
func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	}
}

// Listener accepts one QUIC connection per client on ALPN "chatty-v1".
type Listener struct {
	ln *quic.Listener
}

// Listen binds addr (host:port, no scheme) and starts accepting.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	cfg := tlsConf.Clone()
	cfg.NextProtos = []string{ALPN}

	ln, err := quic.ListenAddr(addr, cfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr reports the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks for the next client connection and opens its two streams.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}

// Session wraps one client's QUIC connection and exposes the control and
// events streams spec.md §6 defines: "Control stream is the first accepted
// bidirectional stream. Events stream is a second bidirectional stream
// accepted by the server (the client writes an initial keepalive byte
// then closes write direction; the server only writes)."
type Session struct {
	conn *quic.Conn
}

// RemoteAddr identifies the client for logging.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Context is cancelled when the underlying QUIC connection closes.
func (s *Session) Context() context.Context { return s.conn.Context() }

// Close tears down the connection with an application error code.
func (s *Session) Close(code uint64, reason string) error {
	return s.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// Streams accepts the control stream, then the events stream, in that
// order. It reads (and discards) the events stream's single keepalive
// byte so the stream is ready for server-only writes afterward.
func (s *Session) Streams(ctx context.Context) (control *quic.Stream, events *quic.Stream, err error) {
	control, err = s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("accept control stream: %w", err)
	}
	events, err = s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("accept events stream: %w", err)
	}

	var keepalive [1]byte
	if _, err := events.Read(keepalive[:]); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("read events stream keepalive: %w", err)
	}
	return control, events, nil
}
