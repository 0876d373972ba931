package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatty/internal/chattyerr"
)

// restClient wraps Kick's REST surface. Built on net/http directly for
// the same reason as the twitch adapter's client: no pack example ships
// a Kick REST client to adopt.
type restClient struct {
	cfg         Config
	http        *http.Client
	accessToken string
}

func newRestClient(cfg Config) *restClient {
	return &restClient{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.RESTBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &chattyerr.UpstreamError{Kind: chattyerr.UpstreamOther, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	return &chattyerr.UpstreamError{
		Kind:       chattyerr.ClassifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("kick %s %s: status %d", method, path, resp.StatusCode),
	}
}

type kickChannelInfo struct {
	Chatroom struct {
		ID int64 `json:"id"`
	} `json:"chatroom"`
}

func (c *restClient) resolveChatroomID(ctx context.Context, slug string) (int64, error) {
	var out kickChannelInfo
	if err := c.do(ctx, http.MethodGet, "/channels/"+slug, nil, &out); err != nil {
		return 0, err
	}
	if out.Chatroom.ID == 0 {
		return 0, fmt.Errorf("no chatroom id for slug %q", slug)
	}
	return out.Chatroom.ID, nil
}

type tokenIntrospection struct {
	Scopes []string `json:"scope"`
}

func (c *restClient) introspectScopes(ctx context.Context) (map[string]bool, error) {
	var out tokenIntrospection
	if err := c.do(ctx, http.MethodGet, "/oauth/introspect", nil, &out); err != nil {
		return nil, err
	}
	scopes := make(map[string]bool, len(out.Scopes))
	for _, s := range out.Scopes {
		scopes[s] = true
	}
	return scopes, nil
}

func (c *restClient) sendMessage(ctx context.Context, chatroomID int64, text, replyToID string) error {
	body := map[string]any{"content": text, "type": "message"}
	if replyToID != "" {
		body["reply_to_message_id"] = replyToID
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chatrooms/%d/messages", chatroomID), body, nil)
}

func (c *restClient) deleteMessage(ctx context.Context, chatroomID int64, messageID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/chatrooms/%d/messages/%s", chatroomID, messageID), nil, nil)
}

func (c *restClient) banUser(ctx context.Context, chatroomID int64, userID, reason string, durationSeconds int) error {
	body := map[string]any{"user_id": userID, "reason": reason}
	if durationSeconds > 0 {
		body["duration"] = durationSeconds / 60
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chatrooms/%d/bans", chatroomID), body, nil)
}
