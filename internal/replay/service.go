// Package replay assigns per-(client, topic) monotonic cursors and serves
// bounded history on resume, per spec.md §4.2.
package replay

import (
	"context"

	"chatty/internal/protocol"
)

// Config controls cursor storage bounds. Grounded on
// original_source/crates/chatty_server/src/server/replay.rs ReplayStoreConfig.
type Config struct {
	PerTopicCapacity int // 0 disables replay entirely
	RetentionSecs    int // 0 = no retention trim
}

// Outcome is the result of a replay() call.
type Outcome struct {
	Status        protocol.SubscriptionStatus
	CurrentCursor uint64
	Events        []*protocol.EventEnvelope
}

// Backend is the storage contract both the in-memory and durable
// implementations satisfy. Implementations must make cursor assignment and
// storage atomic relative to concurrent Replay calls on the same
// (clientID, topic).
type Backend interface {
	PushEvent(ctx context.Context, clientID, topic string, env *protocol.EventEnvelope, cfg Config) (*protocol.EventEnvelope, error)
	Replay(ctx context.Context, clientID, topic string, lastCursor uint64) (Outcome, error)
}

// Service is the public entry point connection handlers use. It wraps a
// Backend and applies the disable-mode short-circuit from spec.md §4.2.
type Service struct {
	backend Backend
	cfg     Config
	enabled bool
}

// New wraps backend with cfg. PerTopicCapacity == 0 disables replay.
func New(backend Backend, cfg Config) *Service {
	return &Service{backend: backend, cfg: cfg, enabled: cfg.PerTopicCapacity > 0}
}

// PushEvent assigns the next cursor for (clientID, topic), stores the event,
// and returns the envelope with Cursor populated. With replay disabled the
// event is not stored and comes back with Cursor 0.
func (s *Service) PushEvent(ctx context.Context, clientID, topic string, env *protocol.EventEnvelope) (*protocol.EventEnvelope, error) {
	if !s.enabled {
		out := *env
		out.Cursor = 0
		return &out, nil
	}
	return s.backend.PushEvent(ctx, clientID, topic, env, s.cfg)
}

// Replay returns events with cursor > lastCursor, or ReplayNotAvailable if
// the requested history has been evicted (or replay is disabled and
// lastCursor > 0).
func (s *Service) Replay(ctx context.Context, clientID, topic string, lastCursor uint64) (Outcome, error) {
	if !s.enabled {
		status := protocol.SubOk
		if lastCursor > 0 {
			status = protocol.SubReplayNotAvailable
		}
		return Outcome{Status: status, CurrentCursor: 0}, nil
	}
	return s.backend.Replay(ctx, clientID, topic, lastCursor)
}
