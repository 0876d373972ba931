package connection

import (
	"context"
	"log/slog"

	"chatty/internal/protocol"
)

// handleSubscribe implements spec.md §4.8's subscribe contract: for each
// requested topic, attempt replay, queue whatever history (or synthetic
// lag notice) results, then join the topic globally and start relaying
// its live events — in that order, so nothing buffered can be preceded
// by something live.
func (c *Conn) handleSubscribe(ctx context.Context, requestID string, req *protocol.Subscribe) {
	// The writer must already be draining pending (64 slots) while replay
	// history is queued into it, or a long history would block here.
	c.ensureEventsWriter(ctx)

	results := make([]protocol.SubscriptionResult, 0, len(req.Items))
	var newlyJoined []string

	for _, item := range req.Items {
		room, err := protocol.ParseTopic(item.Topic)
		if err != nil {
			results = append(results, protocol.SubscriptionResult{
				Topic: item.Topic, Status: protocol.SubInvalidTopic,
			})
			continue
		}

		outcome, err := c.deps.Replay.Replay(ctx, c.clientID, item.Topic, item.LastCursor)
		if err != nil {
			slog.Warn("connection: replay lookup failed", "client_id", c.clientID, "topic", item.Topic, "err", err)
			results = append(results, protocol.SubscriptionResult{Topic: item.Topic, Status: protocol.SubInvalidTopic})
			continue
		}

		switch outcome.Status {
		case protocol.SubOk:
			for _, ev := range outcome.Events {
				c.enqueuePending(ev)
			}
		case protocol.SubReplayNotAvailable:
			lagged := &protocol.EventEnvelope{
				Topic:            item.Topic,
				ServerTimeUnixMS: nowMS(),
				Kind:             protocol.EventTopicLagged,
				TopicLagged:      &protocol.TopicLaggedEvent{Dropped: outcome.CurrentCursor - item.LastCursor},
			}
			stamped, perr := c.deps.Replay.PushEvent(ctx, c.clientID, item.Topic, lagged)
			if perr == nil {
				lagged = stamped
			}
			c.enqueuePending(lagged)
		}

		results = append(results, protocol.SubscriptionResult{
			Topic: item.Topic, Status: outcome.Status, CurrentCursor: outcome.CurrentCursor,
		})

		if outcome.Status == protocol.SubOk || outcome.Status == protocol.SubReplayNotAvailable {
			c.subsMu.Lock()
			_, already := c.subs[item.Topic]
			c.subsMu.Unlock()
			if !already {
				newlyJoined = append(newlyJoined, item.Topic)
			}

			perms := c.deps.Adapters.QueryPermissions(ctx, room, c.auth)
			permsEnv := &protocol.EventEnvelope{
				Topic: item.Topic, ServerTimeUnixMS: nowMS(),
				Kind: protocol.EventPermissions, Permissions: &perms,
			}
			stamped, perr := c.deps.Replay.PushEvent(ctx, c.clientID, item.Topic, permsEnv)
			if perr == nil {
				permsEnv = stamped
			}
			c.enqueuePending(permsEnv)
		}
	}

	if toJoin := c.deps.TopicRefs.Join(newlyJoined); len(toJoin) > 0 {
		c.deps.Adapters.ApplyGlobalJoinsLeaves(toJoin, nil)
	}

	_ = c.writeControl(&protocol.Envelope{
		Version: protocol.ProtocolVersion, RequestID: requestID,
		Type: protocol.MsgSubscribed, Subscribed: &protocol.Subscribed{Results: results},
	})

	for _, topic := range newlyJoined {
		c.startRelay(ctx, topic)
	}
}

// handleUnsubscribe drops local subscriptions and, for any topic whose
// global refcount reaches zero, dispatches a Leave.
func (c *Conn) handleUnsubscribe(requestID string, req *protocol.Unsubscribe) {
	c.subsMu.Lock()
	var removed []string
	for _, topic := range req.Topics {
		if sub, ok := c.subs[topic]; ok {
			sub.Unsubscribe()
			delete(c.subs, topic)
			removed = append(removed, topic)
		}
	}
	c.subsMu.Unlock()

	if toLeave := c.deps.TopicRefs.Leave(removed); len(toLeave) > 0 {
		c.deps.Adapters.ApplyGlobalJoinsLeaves(nil, toLeave)
	}

	_ = c.writeControl(&protocol.Envelope{
		Version: protocol.ProtocolVersion, RequestID: requestID,
		Type: protocol.MsgUnsubscribed, Unsubscribed: &protocol.Unsubscribed{Topics: req.Topics},
	})
}

// startRelay subscribes to the hub for topic and forwards items into the
// shared eventsIn channel, tagged with their topic, until Unsubscribe is
// called (which closes the subscription's channel and ends this goroutine).
func (c *Conn) startRelay(ctx context.Context, topic string) {
	room, err := protocol.ParseTopic(topic)
	if err != nil {
		return
	}
	sub := c.deps.Hub.Subscribe(room)

	c.subsMu.Lock()
	c.subs[topic] = sub
	c.subsMu.Unlock()

	go func() {
		for item := range sub.C {
			select {
			case c.eventsIn <- topicItem{Topic: topic, Item: item}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Conn) enqueuePending(ev *protocol.EventEnvelope) {
	c.pending <- ev
}
