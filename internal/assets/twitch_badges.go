package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatty/internal/protocol"
)

// TwitchBadgeProvider resolves global and per-channel badge sets via
// Helix, mirroring original_source's chatty_platform/src/assets/twitch.rs.
type TwitchBadgeProvider struct {
	ClientID    string
	AccessToken string
	BaseURL     string // default https://api.twitch.tv/helix
	HTTPClient  *http.Client
}

func NewTwitchBadgeProvider(clientID, accessToken string) *TwitchBadgeProvider {
	return &TwitchBadgeProvider{
		ClientID:    clientID,
		AccessToken: accessToken,
		BaseURL:     "https://api.twitch.tv/helix",
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *TwitchBadgeProvider) Name() string { return "twitch_badges" }

type helixBadgeSet struct {
	SetID    string `json:"set_id"`
	Versions []struct {
		ID      string `json:"id"`
		ImageURL1x string `json:"image_url_1x"`
		ImageURL2x string `json:"image_url_2x"`
		ImageURL4x string `json:"image_url_4x"`
	} `json:"versions"`
}

func (p *TwitchBadgeProvider) Resolve(ctx context.Context, scope Scope) (*protocol.AssetBundle, error) {
	if scope.Platform != protocol.PlatformTwitch {
		return nil, nil
	}

	path := "/chat/badges/global"
	assetScope := protocol.AssetScopeGlobal
	cacheKey := "twitch:badges:global"
	if !scope.isGlobal() {
		path = "/chat/badges?broadcaster_id=" + scope.RoomID
		assetScope = protocol.AssetScopeChannel
		cacheKey = "twitch:badges:" + scope.RoomID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Client-Id", p.ClientID)
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch badges: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch badges: status %d", resp.StatusCode)
	}

	var out struct {
		Data []helixBadgeSet `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode badges: %w", err)
	}

	var refs []protocol.AssetRef
	for _, set := range out.Data {
		for _, v := range set.Versions {
			var images []protocol.AssetImage
			if v.ImageURL1x != "" {
				images = append(images, protocol.AssetImage{Scale: protocol.Scale1x, URL: v.ImageURL1x})
			}
			if v.ImageURL2x != "" {
				images = append(images, protocol.AssetImage{Scale: protocol.Scale2x, URL: v.ImageURL2x})
			}
			if v.ImageURL4x != "" {
				images = append(images, protocol.AssetImage{Scale: protocol.Scale4x, URL: v.ImageURL4x})
			}
			refs = append(refs, protocol.AssetRef{ID: set.SetID + ":" + v.ID, Name: set.SetID, Images: images})
		}
	}

	return &protocol.AssetBundle{
		Provider: p.Name(),
		Scope:    assetScope,
		CacheKey: cacheKey,
		Badges:   refs,
	}, nil
}
