package assets

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatty/internal/protocol"
)

type cacheKey struct {
	provider string
	platform protocol.Platform
	roomID   string
	cacheKey string
}

type cacheEntry struct {
	bundle    *protocol.AssetBundle
	expiresAt time.Time
}

// Cache fronts a set of Providers with a TTL keyed by (provider, scope,
// cache_key), so repeated room joins reuse one fetch instead of hitting
// every provider's upstream again.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[cacheKey]cacheEntry
	providers []Provider
}

// NewCache wires providers behind a shared TTL.
func NewCache(ttl time.Duration, providers ...Provider) *Cache {
	return &Cache{ttl: ttl, entries: make(map[cacheKey]cacheEntry), providers: providers}
}

// ResolveAll fetches (from cache, or upstream on miss) every provider's
// bundle for scope. A single provider's failure is logged and skipped,
// not fatal to the others.
func (c *Cache) ResolveAll(ctx context.Context, scope Scope) []*protocol.AssetBundle {
	var out []*protocol.AssetBundle
	for _, p := range c.providers {
		b, err := c.resolveOne(ctx, p, scope)
		if err != nil {
			slog.Warn("assets: provider resolve failed", "provider", p.Name(), "platform", scope.Platform, "room", scope.RoomID, "err", err)
			continue
		}
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (c *Cache) resolveOne(ctx context.Context, p Provider, scope Scope) (*protocol.AssetBundle, error) {
	probeKey := cacheKey{provider: p.Name(), platform: scope.Platform, roomID: scope.RoomID}

	c.mu.Lock()
	for k, e := range c.entries {
		if k.provider == probeKey.provider && k.platform == probeKey.platform && k.roomID == probeKey.roomID {
			if time.Now().Before(e.expiresAt) {
				c.mu.Unlock()
				return e.bundle, nil
			}
		}
	}
	c.mu.Unlock()

	bundle, err := p.Resolve(ctx, scope)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, nil
	}

	key := cacheKey{provider: p.Name(), platform: scope.Platform, roomID: scope.RoomID, cacheKey: bundle.CacheKey}
	c.mu.Lock()
	c.entries[key] = cacheEntry{bundle: bundle, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return bundle, nil
}

// Invalidate drops every cached entry for a provider, forcing the next
// ResolveAll to refetch. Used when an upstream signals a change (e.g. a
// badge set update) out of band.
func (c *Cache) Invalidate(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.provider == provider {
			delete(c.entries, k)
		}
	}
}
