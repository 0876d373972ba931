package connection

import (
	"context"
	"log/slog"
	"time"

	"chatty/internal/protocol"
	"chatty/internal/roomhub"
)

// topicItem tags a roomhub.Item with the topic its relay goroutine was
// forwarding for, since Item itself (specifically ItemLagged) carries no
// room reference.
type topicItem struct {
	Topic string
	Item  roomhub.Item
}

func nowMS() int64 { return time.Now().UnixMilli() }

// runEventsWriter is the one goroutine per connection that assigns
// replay cursors and writes the events stream, guaranteeing the
// per-(client,topic) monotonic cursor ordering spec.md §5 requires: both
// buffered replay and live fan-out funnel through this single writer.
// Pending (buffered-at-subscribe) items are always drained ahead of live
// ones so Scenario 1/2's ordering holds.
func (c *Conn) runEventsWriter(ctx context.Context) {
	for {
		select {
		case ev := <-c.pending:
			c.writeEvent(ctx, ev)
			continue
		default:
		}

		select {
		case ev := <-c.pending:
			c.writeEvent(ctx, ev)
		case ti := <-c.eventsIn:
			c.handleLiveItem(ctx, ti)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) handleLiveItem(ctx context.Context, ti topicItem) {
	switch ti.Item.Kind {
	case roomhub.ItemLagged:
		env := &protocol.EventEnvelope{
			Topic: ti.Topic, ServerTimeUnixMS: nowMS(),
			Kind: protocol.EventTopicLagged, TopicLagged: &protocol.TopicLaggedEvent{Dropped: ti.Item.Dropped},
		}
		stamped, err := c.deps.Replay.PushEvent(ctx, c.clientID, ti.Topic, env)
		if err == nil {
			env = stamped
		}
		c.writeEvent(ctx, env)
	case roomhub.ItemIngest:
		env := ingestToWire(ti.Topic, ti.Item.Event)
		if env == nil {
			return
		}
		stamped, err := c.deps.Replay.PushEvent(ctx, c.clientID, ti.Topic, env)
		if err == nil {
			env = stamped
		}
		c.writeEvent(ctx, env)
	}
}

// ingestToWire projects one of the five IngestPayload kinds onto the
// events-stream wire shape. Returns nil for a kind with no payload set
// (shouldn't happen; defensive against a malformed adapter).
func ingestToWire(topic string, ev *protocol.IngestEvent) *protocol.EventEnvelope {
	if ev == nil {
		return nil
	}
	base := &protocol.EventEnvelope{Topic: topic, ServerTimeUnixMS: nowMS()}
	switch ev.Payload.Kind {
	case protocol.PayloadChatMessage:
		if ev.Payload.ChatMessage == nil {
			return nil
		}
		base.Kind = protocol.EventChatMessage
		base.ChatMessage = ev.Payload.ChatMessage
	case protocol.PayloadAssetBundle:
		if ev.Payload.AssetBundle == nil {
			return nil
		}
		base.Kind = protocol.EventAssetBundle
		base.AssetBundle = ev.Payload.AssetBundle
	case protocol.PayloadModeration:
		if ev.Payload.Moderation == nil {
			return nil
		}
		base.Kind = protocol.EventModeration
		base.Moderation = ev.Payload.Moderation
	case protocol.PayloadRoomState:
		if ev.Payload.RoomState == nil {
			return nil
		}
		base.Kind = protocol.EventRoomState
		base.RoomState = ev.Payload.RoomState
	case protocol.PayloadUserNotice:
		if ev.Payload.UserNotice == nil {
			return nil
		}
		base.Kind = protocol.EventUserNotice
		base.UserNotice = ev.Payload.UserNotice
	default:
		return nil
	}
	return base
}

// writeEvent writes env to the events stream, fragmenting AssetBundle
// payloads that exceed max_frame_bytes per spec.md §4.8: badges-only
// chunk first, then emotes-only chunks, all sharing the source bundle's
// cache_key/etag. A chunk that is still oversized on its own is dropped
// with a warning rather than blocking the stream.
func (c *Conn) writeEvent(ctx context.Context, env *protocol.EventEnvelope) {
	if ctx.Err() != nil {
		return
	}
	if env.Kind != protocol.EventAssetBundle || env.AssetBundle == nil {
		c.writeOne(env)
		return
	}

	frame, err := protocol.EncodeEvent(env, c.maxFrameBytes)
	if err == nil {
		c.writeFrame(frame)
		return
	}

	for _, chunk := range fragmentAssetBundle(env, c.maxFrameBytes) {
		c.writeOne(chunk)
	}
}

func (c *Conn) writeOne(env *protocol.EventEnvelope) {
	frame, err := protocol.EncodeEvent(env, c.maxFrameBytes)
	if err != nil {
		slog.Warn("connection: dropping oversized event chunk", "client_id", c.clientID, "topic", env.Topic, "kind", env.Kind)
		return
	}
	c.writeFrame(frame)
}

func (c *Conn) writeFrame(frame []byte) {
	if _, err := c.events.Write(frame); err != nil {
		slog.Warn("connection: events stream write failed", "client_id", c.clientID, "err", err)
	}
}

// fragmentAssetBundle splits one oversized AssetBundle envelope into a
// badges-only envelope followed by one-or-more emotes-only envelopes,
// each individually checked against maxBytes by the caller (writeOne).
// Entries that cannot be isolated into any chunk under the cap are
// simply left for writeOne to drop and log.
func fragmentAssetBundle(env *protocol.EventEnvelope, maxBytes uint32) []*protocol.EventEnvelope {
	src := env.AssetBundle
	var chunks []*protocol.EventEnvelope

	if len(src.Badges) > 0 {
		chunks = append(chunks, assetChunk(env, src, nil, src.Badges))
	}

	chunks = append(chunks, packEmoteChunks(env, src, maxBytes)...)

	if len(chunks) == 0 {
		chunks = append(chunks, assetChunk(env, src, nil, nil))
	}
	return chunks
}

// packEmoteChunks greedily packs src.Emotes into envelopes each sized to
// fit under maxBytes, rather than batching a fixed count per chunk: a
// fixed batch that is still oversized gets dropped whole by writeOne even
// when most of its entries would individually fit. Only an emote that
// doesn't fit on its own ends up alone in a chunk for writeOne to drop.
func packEmoteChunks(env *protocol.EventEnvelope, src *protocol.AssetBundle, maxBytes uint32) []*protocol.EventEnvelope {
	var chunks []*protocol.EventEnvelope
	start := 0
	for start < len(src.Emotes) {
		end := start + 1
		for end <= len(src.Emotes) {
			if _, err := protocol.EncodeEvent(assetChunk(env, src, src.Emotes[start:end], nil), maxBytes); err != nil {
				break
			}
			end++
		}
		end--
		if end <= start {
			end = start + 1
		}
		chunks = append(chunks, assetChunk(env, src, src.Emotes[start:end], nil))
		start = end
	}
	return chunks
}

func assetChunk(env *protocol.EventEnvelope, src *protocol.AssetBundle, emotes, badges []protocol.AssetRef) *protocol.EventEnvelope {
	return &protocol.EventEnvelope{
		Topic: env.Topic, Cursor: env.Cursor, ServerTimeUnixMS: env.ServerTimeUnixMS, Kind: protocol.EventAssetBundle,
		AssetBundle: &protocol.AssetBundle{
			Provider: src.Provider, Scope: src.Scope, CacheKey: src.CacheKey, ETag: src.ETag,
			Emotes: emotes, Badges: badges,
		},
	}
}
