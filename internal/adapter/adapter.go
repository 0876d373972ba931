package adapter

import (
	"context"

	"chatty/internal/protocol"
)

// Adapter is one running upstream-platform connection. Implementations
// (twitch, kick) own their own WS/REST session and normalize upstream
// traffic into IngestEvents.
type Adapter interface {
	Platform() protocol.Platform

	// Run drives the adapter's event loop until ctx is cancelled or a
	// CtrlShutdown message is received on control. It must never block
	// forever on the events channel (try-send with drop counting).
	Run(ctx context.Context, control <-chan ControlMsg, events chan<- *protocol.IngestEvent)
}

// Handle is what the manager keeps per registered platform.
type Handle struct {
	Platform protocol.Platform
	Control  chan ControlMsg
	Events   chan *protocol.IngestEvent
	cancel   context.CancelFunc
	done     chan struct{}
}

// DefaultControlCapacity and DefaultEventsCapacity match spec.md §4.5.
const (
	DefaultControlCapacity = 64
	DefaultEventsCapacity  = 1024
)
