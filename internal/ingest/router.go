// Package ingest drains normalized events from every adapter and publishes
// them into the room hub, enforcing the one invariant the rest of the
// pipeline depends on: an event's platform must match its room's platform.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatty/internal/protocol"
	"chatty/internal/roomhub"
)

// Router validates and fans out IngestEvents. It never panics on a bad
// event; invalid events are dropped and counted.
type Router struct {
	hub          *roomhub.Hub
	invalidCount atomic.Uint64
}

// New wires a Router to publish accepted events into hub.
func New(hub *roomhub.Hub) *Router {
	return &Router{hub: hub}
}

// Run drains events until ctx is cancelled or the channel is closed by its
// adapter. Call it once per adapter events channel with that adapter's
// platform, or once with an empty platform over adapter.Manager.Events()'s
// merged channel, as cmd/chattyd does.
func (r *Router) Run(ctx context.Context, platform protocol.Platform, events <-chan *protocol.IngestEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.route(platform, ev)
		}
	}
}

// RunAll drains a set of per-platform channels concurrently and blocks
// until ctx is cancelled and every drain goroutine has returned.
func (r *Router) RunAll(ctx context.Context, feeds map[protocol.Platform]<-chan *protocol.IngestEvent) {
	var wg sync.WaitGroup
	for platform, ch := range feeds {
		wg.Add(1)
		go func(platform protocol.Platform, ch <-chan *protocol.IngestEvent) {
			defer wg.Done()
			r.Run(ctx, platform, ch)
		}(platform, ch)
	}
	wg.Wait()
}

func (r *Router) route(source protocol.Platform, ev *protocol.IngestEvent) {
	if ev == nil {
		return
	}
	// An empty source means the caller is draining a channel that already
	// merges multiple platforms (adapter.Manager.Events does this); in
	// that case only the Platform == Room.Platform invariant applies.
	if (source != "" && ev.Platform != source) || ev.Platform != ev.Room.Platform {
		r.invalidCount.Add(1)
		slog.Warn("ingest: dropping event with mismatched platform",
			"source", source, "event_platform", ev.Platform, "room_platform", ev.Room.Platform)
		return
	}
	r.hub.Publish(ev)
}

// InvalidCount reports how many events have been dropped for platform
// mismatch, for metrics.
func (r *Router) InvalidCount() uint64 {
	return r.invalidCount.Load()
}
