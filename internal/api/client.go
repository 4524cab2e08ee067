package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"council/internal/council"
)

const defaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Credential *Credential
	Logger     zerolog.Logger
}

// Client talks to the council server. Plain calls go through a
// timeout-bound http.Client; streaming requests use a separate client
// without a deadline because http.Client.Timeout covers the whole body
// and would kill a long-lived stream mid-turn.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streaming  *http.Client
	credential *Credential
	logger     zerolog.Logger
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	credential := opts.Credential
	if credential == nil {
		credential = NewCredential("")
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		streaming:  &http.Client{Transport: httpClient.Transport},
		credential: credential,
		logger:     opts.Logger,
	}, nil
}

// Credential returns the credential store requests authenticate with.
func (c *Client) Credential() *Credential {
	return c.credential
}

// ListConversations returns conversation metadata, newest first as the
// server orders them.
func (c *Client) ListConversations(ctx context.Context) ([]council.Meta, error) {
	var metas []council.Meta
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// CreateConversation creates an empty conversation in the given mode.
func (c *Client) CreateConversation(ctx context.Context, mode council.Mode) (*council.Conversation, error) {
	body := map[string]any{}
	if mode != "" {
		body["mode"] = mode
	}
	conv := &council.Conversation{}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", body, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation fetches the full conversation with all messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*council.Conversation, error) {
	conv := &council.Conversation{}
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+id, nil, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversationInfo fetches per-conversation counters such as the
// remaining-message quota.
func (c *Client) GetConversationInfo(ctx context.Context, id string) (council.Info, error) {
	var info council.Info
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+id+"/info", nil, &info); err != nil {
		return council.Info{}, err
	}
	return info, nil
}

// DeleteConversation soft-deletes a conversation on the server.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+id, nil, nil)
}

// RestoreConversation brings a soft-deleted conversation back and
// returns its current state.
func (c *Client) RestoreConversation(ctx context.Context, id string) (*council.Conversation, error) {
	var restored struct {
		Conversation *council.Conversation `json:"conversation"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+id+"/restore", nil, &restored); err != nil {
		return nil, err
	}
	return restored.Conversation, nil
}

// SendMessage posts a message without streaming and returns the updated
// conversation once the full turn finished server-side. The TUI always
// streams; this exists for scripted use against the same route set.
func (c *Client) SendMessage(ctx context.Context, id, content string, force bool) (*council.Conversation, error) {
	body := map[string]any{"content": content}
	if force {
		body["force"] = true
	}
	conv := &council.Conversation{}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+id+"/message", body, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// CancelStream asks the server to stop the live pipeline for a
// conversation. The stream itself reports the cancellation via a
// terminal cancelled event.
func (c *Client) CancelStream(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/conversations/"+id+"/message/cancel", nil, nil)
}

// doJSON performs one request and decodes the JSON response into out
// when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := c.credential.Key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

// classifyStatus maps response status codes onto the package sentinels.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
}
