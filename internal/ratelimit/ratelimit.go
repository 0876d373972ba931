// Package ratelimit implements the connection- and topic-level token
// buckets from spec.md §4.9, built on golang.org/x/time/rate (promoted
// from the teacher's indirect dependency per SPEC_FULL.md's domain-stack
// wiring).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"chatty/internal/protocol"
)

// MaxTopicEntries bounds the per-topic limiter map; once full it is
// purged wholesale rather than evicted piecemeal, per spec.md §4.9.
const MaxTopicEntries = 1024

// ConnLimiter is the per-connection command bucket.
type ConnLimiter struct {
	limiter *rate.Limiter
}

// NewConnLimiter builds a bucket with burst capacity and a refill rate
// of perMinute/60 tokens per second.
func NewConnLimiter(burst, perMinute int) *ConnLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ConnLimiter{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)}
}

// Allow reports whether one command may proceed now.
func (c *ConnLimiter) Allow() bool { return c.limiter.Allow() }

// TopicLimiters is a map of per-RoomKey buckets, capped at MaxTopicEntries.
type TopicLimiters struct {
	mu        sync.Mutex
	burst     int
	perMinute int
	limiters  map[protocol.RoomKey]*rate.Limiter
}

// NewTopicLimiters builds an empty map; each room's bucket is created
// lazily on first use with the given burst/perMinute.
func NewTopicLimiters(burst, perMinute int) *TopicLimiters {
	return &TopicLimiters{
		burst:     burst,
		perMinute: perMinute,
		limiters:  make(map[protocol.RoomKey]*rate.Limiter),
	}
}

// Allow reports whether one command against room may proceed now. When
// the map is full and room is not already tracked, the whole map is
// purged first, matching spec.md §4.9's "purged wholesale when full".
func (t *TopicLimiters) Allow(room protocol.RoomKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[room]
	if !ok {
		if len(t.limiters) >= MaxTopicEntries {
			t.limiters = make(map[protocol.RoomKey]*rate.Limiter)
		}
		l = rate.NewLimiter(rate.Limit(float64(t.perMinute)/60.0), t.burst)
		t.limiters[room] = l
	}
	return l.Allow()
}
