// Package rest is the client for the messaging REST endpoints. Every
// request carries the admin's bearer token.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"izajadmin/internal/content"
	"izajadmin/internal/models"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type conversationsResponse struct {
	Success       bool                        `json:"success"`
	Conversations []models.ConversationRecord `json:"conversations"`
}

type messagesResponse struct {
	Success      bool                     `json:"success"`
	Messages     []models.Message         `json:"messages"`
	Conversation *models.ConversationMeta `json:"conversation,omitempty"`
}

// ListConversations fetches the full conversation listing.
func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationRecord, error) {
	var resp conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/messaging/conversations", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("conversation listing rejected by backend")
	}
	return resp.Conversations, nil
}

// ListMessages fetches the message history for a room, plus the
// optional conversation metadata block.
func (c *Client) ListMessages(ctx context.Context, roomID string) ([]models.Message, *models.ConversationMeta, error) {
	if err := content.ValidateRoomID(roomID); err != nil {
		return nil, nil, err
	}
	var resp messagesResponse
	path := fmt.Sprintf("/api/messaging/conversations/%s/messages", roomID)
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, nil, err
	}
	if !resp.Success {
		return nil, nil, fmt.Errorf("message listing for %s rejected by backend", roomID)
	}
	return resp.Messages, resp.Conversation, nil
}

// MarkRead marks a conversation read server-side.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	if err := content.ValidateRoomID(roomID); err != nil {
		return err
	}
	path := fmt.Sprintf("/api/messaging/conversations/%s/read", roomID)
	return c.do(ctx, http.MethodPut, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
