package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatty/internal/protocol"
)

// SevenTVProvider resolves global and per-channel emote sets from a
// 7TV-shaped API, mirroring original_source's
// chatty_platform/src/assets/seventv.rs. Platform-agnostic: the same
// emote sets are offered across Twitch and Kick rooms.
type SevenTVProvider struct {
	BaseURL    string // default https://7tv.io/v3
	HTTPClient *http.Client
}

func NewSevenTVProvider() *SevenTVProvider {
	return &SevenTVProvider{BaseURL: "https://7tv.io/v3", HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (p *SevenTVProvider) Name() string { return "seventv" }

type sevenTVEmoteSet struct {
	ID     string `json:"id"`
	Emotes []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Data struct {
			Host struct {
				URL   string `json:"url"`
				Files []struct {
					Name string `json:"name"`
				} `json:"files"`
			} `json:"host"`
		} `json:"data"`
	} `json:"emotes"`
}

func (p *SevenTVProvider) Resolve(ctx context.Context, scope Scope) (*protocol.AssetBundle, error) {
	path := "/emote-sets/global"
	assetScope := protocol.AssetScopeGlobal
	cacheKey := "seventv:global"
	if !scope.isGlobal() {
		path = "/users/" + string(scope.Platform) + "/" + scope.RoomID
		assetScope = protocol.AssetScopeChannel
		cacheKey = "seventv:" + string(scope.Platform) + ":" + scope.RoomID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch emote set: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // no emote set configured for this scope
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch emote set: status %d", resp.StatusCode)
	}

	var set sevenTVEmoteSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode emote set: %w", err)
	}

	refs := make([]protocol.AssetRef, 0, len(set.Emotes))
	for _, e := range set.Emotes {
		var images []protocol.AssetImage
		scales := []protocol.AssetScale{protocol.Scale1x, protocol.Scale2x, protocol.Scale3x, protocol.Scale4x}
		for i, f := range e.Data.Host.Files {
			if i >= len(scales) {
				break
			}
			images = append(images, protocol.AssetImage{Scale: scales[i], URL: "https:" + e.Data.Host.URL + "/" + f.Name})
		}
		refs = append(refs, protocol.AssetRef{ID: e.ID, Name: e.Name, Images: images})
	}

	return &protocol.AssetBundle{
		Provider: p.Name(),
		Scope:    assetScope,
		CacheKey: cacheKey,
		ETag:     set.ID,
		Emotes:   refs,
	}, nil
}
