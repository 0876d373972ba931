package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"chatty/internal/chattyerr"
)

// restClient wraps Helix calls with the circuit breaker from spec.md
// §4.6.2. Built on net/http directly: no example repo in the retrieval
// pack ships a Helix/Twitch REST client, so there is no ecosystem
// library to adopt here.
type restClient struct {
	cfg     Config
	http    *http.Client
	breaker *circuitState

	userAccessToken string
	appAccessToken  string
}

func newRestClient(cfg Config) *restClient {
	return &restClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: newCircuit(30 * time.Second),
	}
}

// restError carries the classified upstream failure plus decoded retry
// hints, so reconcileSubscription can branch on it directly.
type restError struct {
	*chattyerr.UpstreamError
	Body json.RawMessage
}

func (c *restClient) token() string {
	if c.userAccessToken != "" {
		return c.userAccessToken
	}
	return c.appAccessToken
}

func (c *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	return c.doURL(ctx, method, c.cfg.HelixBaseURL+path, body, out)
}

// doURL is do without the Helix base URL prefix, for endpoints that live
// outside Helix (e.g. the id.twitch.tv OAuth token endpoint).
func (c *restClient) doURL(ctx context.Context, method, url string, body any, out any) error {
	if !c.breaker.Allow() {
		return &restError{UpstreamError: &chattyerr.UpstreamError{Kind: chattyerr.UpstreamServer, Err: fmt.Errorf("circuit open")}}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Client-Id", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+c.token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return &restError{UpstreamError: &chattyerr.UpstreamError{Kind: chattyerr.UpstreamOther, Err: err}}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.breaker.RecordSuccess()
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	kind := chattyerr.ClassifyStatus(resp.StatusCode)
	if kind != chattyerr.UpstreamAuth {
		c.breaker.RecordFailure()
	}

	retryAfter := 0
	if v := resp.Header.Get("Retry-After"); v != "" {
		retryAfter, _ = strconv.Atoi(v)
	} else if v := resp.Header.Get("Ratelimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(unix, 0)); d > 0 {
				retryAfter = int(d.Seconds())
			}
		}
	}

	return &restError{
		UpstreamError: &chattyerr.UpstreamError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("helix %s %s: status %d", method, path, resp.StatusCode),
		},
		Body: respBody,
	}
}

type helixUser struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

func (c *restClient) resolveBroadcasterID(ctx context.Context, login string) (string, error) {
	var out struct {
		Data []helixUser `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users?login="+login, nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("no user found for login %q", login)
	}
	return out.Data[0].ID, nil
}

func (c *restClient) whoAmI(ctx context.Context) (string, error) {
	var out struct {
		Data []helixUser `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("whoami returned no user")
	}
	return out.Data[0].ID, nil
}

type helixSubscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		SessionID string `json:"session_id"`
	} `json:"transport"`
}

func (c *restClient) createSubscription(ctx context.Context, subType string, condition map[string]string, sessionID string) (string, error) {
	body := map[string]any{
		"type":      subType,
		"version":   "1",
		"condition": condition,
		"transport": map[string]string{"method": "websocket", "session_id": sessionID},
	}
	var out struct {
		Data []helixSubscription `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", body, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("create subscription returned no data")
	}
	return out.Data[0].ID, nil
}

func (c *restClient) listSubscriptionsByType(ctx context.Context, subType string) ([]helixSubscription, error) {
	var out struct {
		Data []helixSubscription `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/eventsub/subscriptions?type="+subType, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *restClient) deleteSubscription(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/eventsub/subscriptions?id="+id, nil, nil)
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *restClient) refreshToken(ctx context.Context, oauthBaseURL, refreshToken string) (*refreshResponse, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	var out refreshResponse
	if err := c.doURL(ctx, http.MethodPost, oauthBaseURL+"/token", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type modStatus struct {
	IsModerator   bool `json:"is_moderator"`
	IsBroadcaster bool `json:"is_broadcaster"`
}

func (c *restClient) modStatus(ctx context.Context, broadcasterID, userID string) (modStatus, error) {
	if broadcasterID == userID {
		return modStatus{IsBroadcaster: true}, nil
	}
	var out struct {
		Data []struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/moderation/moderators?broadcaster_id=%s&user_id=%s", broadcasterID, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return modStatus{}, err
	}
	return modStatus{IsModerator: len(out.Data) > 0}, nil
}
