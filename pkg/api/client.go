// Package api implements the REST message API client consumed by the
// synchronization engine.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"Parley/pkg/models"
)

// Client talks to the chat server's message REST API and implements
// core.MessageAPI. All mutating calls return the server's updated message
// snapshot so the engine can feed it through its single upsert path.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given base URL. The token, if not
// empty, is sent as a bearer token on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetMessages returns one history page for a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()

	var page []models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// MarkRead marks the whole conversation as read for this user.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// EditMessage replaces a message's content and returns the updated snapshot.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) (*models.Message, error) {
	path := c.messagePath(conversationID, messageID)
	body := map[string]string{"content": content}

	var msg models.Message
	if err := c.do(ctx, http.MethodPut, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage deletes a message for everyone or only for this user.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string, forEveryone bool) (*models.Message, error) {
	path := c.messagePath(conversationID, messageID) + "?forEveryone=" + strconv.FormatBool(forEveryone)

	var msg models.Message
	if err := c.do(ctx, http.MethodDelete, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// StarMessage sets or clears the star flag.
func (c *Client) StarMessage(ctx context.Context, conversationID, messageID string, starred bool) (*models.Message, error) {
	path := c.messagePath(conversationID, messageID) + "/star"
	body := map[string]bool{"starred": starred}

	var msg models.Message
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AddReaction adds an emoji reaction from this user.
func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, emoji string) (*models.Message, error) {
	path := c.messagePath(conversationID, messageID) + "/reactions"
	body := map[string]string{"emoji": emoji}

	var msg models.Message
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RemoveReaction removes this user's emoji reaction.
func (c *Client) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) (*models.Message, error) {
	path := c.messagePath(conversationID, messageID) + "/reactions/" + url.PathEscape(emoji)

	var msg models.Message
	if err := c.do(ctx, http.MethodDelete, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) messagePath(conversationID, messageID string) string {
	return "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
}
