// Package assets resolves emote/badge bundles independently of chat
// transport, per SPEC_FULL.md's "Asset provider normalization" module.
// Grounded on the split between chat adapters and emote/badge providers
// in original_source/crates/chatty_platform/src/assets/{twitch,seventv}.rs.
package assets

import (
	"context"

	"chatty/internal/protocol"
)

// Scope identifies what a Provider should resolve: a global bundle
// (RoomID empty) or one scoped to a single room.
type Scope struct {
	Platform protocol.Platform
	RoomID   string
}

func (s Scope) isGlobal() bool { return s.RoomID == "" }

// Provider resolves one AssetBundle for a scope. Implementations should
// be safe for concurrent use: the Cache does not serialize lookups, so
// concurrent cache misses (for the same key or for distinct keys) each
// call Resolve.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, scope Scope) (*protocol.AssetBundle, error)
}
