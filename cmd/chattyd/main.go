// Command chattyd runs the chat aggregation server: one QUIC listener per
// process, fanning Twitch and Kick chat into per-room subscriptions with
// replay, asset bundling, and a moderation command pipeline.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"chatty/internal/config"
)

// version is the server's reported build identity; overridden at build
// time the same way the teacher's main.go does via -ldflags, if desired.
var version = "dev"

func main() {
	if runCLI(os.Args[1:]) {
		return
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("chattyd: config", "err", err)
		os.Exit(2)
	}

	if cfg.Server.LogJSON {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("chattyd: shutting down")
		cancel()
	}()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("chattyd: serve", "err", err)
		os.Exit(1)
	}
}
