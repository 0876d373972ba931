package replay

import (
	"context"
	"sync"

	"chatty/internal/protocol"
)

type clientTopicKey struct {
	clientID, topic string
}

type ring struct {
	cursor uint64
	events []*protocol.EventEnvelope // ordered oldest-first, cursor ascending
}

// MemoryBackend is an in-memory Backend. All mutations are serialized under
// a single mutex, matching the teacher's Room.mu pattern
// (_examples/rustyguts-bken/server/room.go).
type MemoryBackend struct {
	mu    sync.Mutex
	state map[clientTopicKey]*ring
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{state: make(map[clientTopicKey]*ring)}
}

func (b *MemoryBackend) PushEvent(_ context.Context, clientID, topic string, env *protocol.EventEnvelope, cfg Config) (*protocol.EventEnvelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := clientTopicKey{clientID, topic}
	r, ok := b.state[key]
	if !ok {
		r = &ring{}
		b.state[key] = r
	}
	r.cursor++
	out := *env
	out.Cursor = r.cursor
	r.events = append(r.events, &out)

	if cfg.RetentionSecs > 0 && out.ServerTimeUnixMS > 0 {
		thresholdMS := out.ServerTimeUnixMS - int64(cfg.RetentionSecs)*1000
		i := 0
		for i < len(r.events) && r.events[i].ServerTimeUnixMS > 0 && r.events[i].ServerTimeUnixMS < thresholdMS {
			i++
		}
		if i > 0 {
			r.events = append([]*protocol.EventEnvelope(nil), r.events[i:]...)
		}
	}

	cap := cfg.PerTopicCapacity
	if cap > 0 && len(r.events) > cap {
		r.events = append([]*protocol.EventEnvelope(nil), r.events[len(r.events)-cap:]...)
	}

	return &out, nil
}

func (b *MemoryBackend) Replay(_ context.Context, clientID, topic string, lastCursor uint64) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := clientTopicKey{clientID, topic}
	r, ok := b.state[key]
	if !ok {
		status := protocol.SubOk
		if lastCursor > 0 {
			status = protocol.SubReplayNotAvailable
		}
		return Outcome{Status: status}, nil
	}

	// The requested history is available when every cursor after
	// lastCursor is still buffered, i.e. lastCursor+1 is not below the
	// oldest buffered cursor, so a contiguous resume landing exactly on the
	// eviction boundary is Ok.
	if len(r.events) > 0 {
		oldest := r.events[0].Cursor
		if lastCursor > 0 && lastCursor+1 < oldest {
			return Outcome{Status: protocol.SubReplayNotAvailable, CurrentCursor: r.cursor}, nil
		}
	} else if lastCursor > 0 {
		return Outcome{Status: protocol.SubReplayNotAvailable, CurrentCursor: r.cursor}, nil
	}

	var out []*protocol.EventEnvelope
	for _, e := range r.events {
		if e.Cursor > lastCursor {
			out = append(out, e)
		}
	}
	return Outcome{Status: protocol.SubOk, CurrentCursor: r.cursor, Events: out}, nil
}
