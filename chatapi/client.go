// Package chatapi is the REST client for the conversation service. The
// engine uses it once per mount to load the existing transcript; the
// live protocol runs over the streaming connection, not here.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/thaya-health/consult/internal/types"
)

// Client calls the conversation service.
type Client struct {
	baseURL   string
	userEmail string
	http      *http.Client
}

// Config holds configuration for the REST client.
type Config struct {
	BaseURL   string
	UserEmail string        // sent as x-user-email on every request
	Timeout   time.Duration // default 30s
}

// NewClient creates a conversation service client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userEmail: cfg.UserEmail,
		http:      &http.Client{Timeout: timeout},
	}
}

// conversationResponse is the fetch envelope.
type conversationResponse struct {
	Items []types.Message `json:"items"`
}

// FetchConversation returns the ordered message list of the user's
// conversation with an assistant, oldest first. An empty conversation
// yields an empty, non-nil slice.
func (c *Client) FetchConversation(ctx context.Context, assistantID, userID string) ([]types.Message, error) {
	u := fmt.Sprintf("%s/assistants/%s/chat?userId=%s",
		c.baseURL, url.PathEscape(assistantID), url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-user-email", c.userEmail)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch conversation: unexpected status %d", resp.StatusCode)
	}

	var body conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if body.Items == nil {
		body.Items = []types.Message{}
	}
	return body.Items, nil
}
