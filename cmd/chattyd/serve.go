package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatty/internal/adapter"
	"chatty/internal/adapter/kick"
	"chatty/internal/adapter/twitch"
	"chatty/internal/assets"
	"chatty/internal/audit"
	"chatty/internal/config"
	"chatty/internal/connection"
	"chatty/internal/durable"
	"chatty/internal/healthsrv"
	"chatty/internal/ingest"
	"chatty/internal/ratelimit"
	"chatty/internal/replay"
	"chatty/internal/roomhub"
	"chatty/internal/transport"
)

// serve wires every component and runs until ctx is cancelled, mirroring
// the teacher's main.go: build the stores, build the listener, start
// background tickers, run until signalled, shut down with a bounded
// timeout. See _examples/rustyguts-bken/server/main.go.
func serve(ctx context.Context, cfg *config.Config) error {
	var store *durable.Store
	if cfg.Persistence.Durable {
		var err error
		store, err = durable.Open(cfg.Persistence.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
		defer store.Close()
	}

	var replayBackend replay.Backend
	var auditSvc audit.Service
	if store != nil {
		replayBackend = replay.NewDurableBackend(store)
		auditSvc = audit.NewDurableService(store)
	} else {
		replayBackend = replay.NewMemoryBackend()
		auditSvc = audit.NewMemoryService(1000)
	}
	replaySvc := replay.New(replayBackend, replay.Config{
		PerTopicCapacity: cfg.Replay.Capacity,
		RetentionSecs:    cfg.Replay.RetentionMinutes * 60,
	})

	hub := roomhub.New(64)
	mgr := adapter.New(adapter.DefaultEventsCapacity)

	mgr.Register(ctx, twitch.New(twitch.Config{
		ClientID:      cfg.Twitch.ClientID,
		ClientSecret:  cfg.Twitch.ClientSecret.Reveal(),
		EventSubWSURL: cfg.Twitch.EventSubWSURL,
		HelixBaseURL:  cfg.Twitch.HelixBaseURL,
		MinReconnectDelay:   500 * time.Millisecond,
		MaxReconnectDelay:   30 * time.Second,
		ReconnectResetAfter: 90 * time.Second,
	}))
	mgr.Register(ctx, kick.New(kick.Config{
		PusherWSURL:       cfg.Kick.PusherWSURL,
		RESTBaseURL:       cfg.Kick.RESTBaseURL,
		MinReconnectDelay: time.Second,
		MaxReconnectDelay: time.Minute,
	}))

	router := ingest.New(hub)
	go router.Run(ctx, "", mgr.Events())

	assetCache := assets.NewCache(10*time.Minute,
		assets.NewTwitchBadgeProvider(cfg.Twitch.ClientID, ""),
		assets.NewSevenTVProvider(),
	)

	deps := connection.Deps{
		Hub:       hub,
		Replay:    replaySvc,
		Adapters:  mgr,
		Audit:     auditSvc,
		Assets:    assetCache,
		TopicRefs: connection.NewTopicRefCounts(),
		Topics:    ratelimit.NewTopicLimiters(cfg.RateLimit.PerConnBurst, cfg.RateLimit.PerConnPerMinute),
	}

	tlsConf, fingerprint, err := transport.LoadTLSConfig(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath, hostFromBind(cfg.Server.Bind))
	if err != nil {
		return fmt.Errorf("load tls config: %w", err)
	}
	slog.Info("chattyd: tls certificate ready", "fingerprint", fingerprint)

	ln, err := transport.Listen(hostPort(cfg.Server.Bind), tlsConf)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	slog.Info("chattyd: listening", "addr", ln.Addr().String())

	serverInstanceID := uuid.NewString()
	connCfg := connection.Config{
		ServerName:       "chattyd",
		ServerInstanceID: serverInstanceID,
		MaxFrameBytes:    cfg.Server.MaxFrameBytes,
		AuthToken:        cfg.Server.AuthToken.Reveal(),
		AuthHMACSecret:   cfg.Server.AuthHMACSecret.Reveal(),
		ConnBurst:        cfg.RateLimit.PerConnBurst,
		ConnPerMinute:    cfg.RateLimit.PerConnPerMinute,
	}

	if cfg.HealthBind != "" {
		snapshot := func() healthsrv.Snapshot {
			return healthsrv.Snapshot{
				AdapterCount:      2,
				ReplayBackend:     replayBackendName(store),
				IngestDropped:     router.InvalidCount(),
				AuditFailureCount: auditSvc.FailureCount(),
			}
		}
		e := healthsrv.New(snapshot)
		go func() {
			if err := healthsrv.Run(ctx, cfg.HealthBind, e); err != nil {
				slog.Warn("chattyd: healthsrv exited", "err", err)
			}
		}()
	}

	go acceptLoop(ctx, ln, connCfg, deps)

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
	return nil
}

func acceptLoop(ctx context.Context, ln *transport.Listener, connCfg connection.Config, deps connection.Deps) {
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("chattyd: accept failed", "err", err)
			continue
		}
		go handleSession(ctx, sess, connCfg, deps)
	}
}

func handleSession(ctx context.Context, sess *transport.Session, connCfg connection.Config, deps connection.Deps) {
	defer sess.Close(0, "")

	control, events, err := sess.Streams(ctx)
	if err != nil {
		slog.Warn("chattyd: failed to open streams", "remote", sess.RemoteAddr(), "err", err)
		return
	}

	conn := connection.New(connCfg, deps, control, events)
	if err := conn.Run(sess.Context()); err != nil {
		slog.Debug("chattyd: connection ended", "remote", sess.RemoteAddr(), "err", err)
	}
}

func replayBackendName(store *durable.Store) string {
	if store != nil {
		return "durable"
	}
	return "memory"
}

func hostFromBind(bind string) string {
	addr := hostPort(bind)
	host, _, err := splitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}

func hostPort(bind string) string {
	return strings.TrimPrefix(bind, "quic://")
}

func splitHostPort(addr string) (host, port string, err error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, "", nil
	}
	return addr[:i], addr[i+1:], nil
}
