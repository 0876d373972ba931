// Package roomhub fans ingest events out to subscribed connections on a
// per-topic basis, applying per-subscriber backpressure instead of letting
// one slow reader stall the rest of the room. Grounded in the broadcast
// channel pattern used across the retrieved pubsub/broker examples and in
// the teacher's per-Room mutex discipline (room.go).
package roomhub

import (
	"sync"

	"chatty/internal/protocol"
)

// ItemKind discriminates Item.
type ItemKind string

const (
	ItemIngest ItemKind = "ingest"
	ItemLagged ItemKind = "lagged"
)

// Item is what a subscriber receives off its channel.
type Item struct {
	Kind    ItemKind
	Event   *protocol.IngestEvent
	Dropped uint64 // set when Kind == ItemLagged
}

// Subscription is returned from Subscribe. Call Unsubscribe exactly once
// when the connection is done with the topic.
type Subscription struct {
	C           <-chan Item
	Unsubscribe func()
}

type subscriber struct {
	ch      chan Item
	mu      sync.Mutex
	dropped uint64
	lagging bool
	closed  bool
}

// send delivers item without blocking. If the channel is full it records
// the drop; a lagged marker is flushed the next time room capacity frees
// up, ahead of whatever event triggered the flush. A send that loses the
// race against close is a no-op: Publish may have already snapshotted a
// subscriber that Unsubscribe removes and closes concurrently.
func (s *subscriber) send(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.lagging {
		lagged := Item{Kind: ItemLagged, Dropped: s.dropped}
		select {
		case s.ch <- lagged:
			s.lagging = false
			s.dropped = 0
		default:
			s.dropped++
			return
		}
	}

	select {
	case s.ch <- item:
	default:
		s.dropped++
		s.lagging = true
	}
}

type room struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// Hub owns one room per RoomKey, created lazily on first subscribe.
type Hub struct {
	mu          sync.Mutex
	rooms       map[protocol.RoomKey]*room
	subCapacity int
}

// New returns a Hub whose per-subscriber channels hold subCapacity items
// before backpressure kicks in.
func New(subCapacity int) *Hub {
	if subCapacity <= 0 {
		subCapacity = 64
	}
	return &Hub{rooms: make(map[protocol.RoomKey]*room), subCapacity: subCapacity}
}

func (h *Hub) room(key protocol.RoomKey) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[key]
	if !ok {
		r = &room{subs: make(map[*subscriber]struct{})}
		h.rooms[key] = r
	}
	return r
}

// Subscribe registers interest in key. The returned channel delivers items
// until Unsubscribe is called.
func (h *Hub) Subscribe(key protocol.RoomKey) Subscription {
	r := h.room(key)
	sub := &subscriber{ch: make(chan Item, h.subCapacity)}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, sub)
			empty := len(r.subs) == 0
			r.mu.Unlock()

			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
			close(sub.ch)

			if empty {
				h.mu.Lock()
				if cur, ok := h.rooms[key]; ok && cur == r {
					cur.mu.Lock()
					stillEmpty := len(cur.subs) == 0
					cur.mu.Unlock()
					if stillEmpty {
						delete(h.rooms, key)
					}
				}
				h.mu.Unlock()
			}
		})
	}
	return Subscription{C: sub.ch, Unsubscribe: unsub}
}

// Publish fans event out to every current subscriber of its room. Callers
// are expected to have already validated event.Platform == event.Room.Platform.
func (h *Hub) Publish(event *protocol.IngestEvent) {
	h.mu.Lock()
	r, ok := h.rooms[event.Room]
	h.mu.Unlock()
	if !ok {
		return
	}

	item := Item{Kind: ItemIngest, Event: event}

	r.mu.Lock()
	targets := make([]*subscriber, 0, len(r.subs))
	for s := range r.subs {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.send(item)
	}
}

// SubscriberCount reports the current fan-out width for key, for metrics.
func (h *Hub) SubscriberCount(key protocol.RoomKey) int {
	h.mu.Lock()
	r, ok := h.rooms[key]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
