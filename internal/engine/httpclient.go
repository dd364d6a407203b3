package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// Client implements Backend over the REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	var resp struct {
		Chats []domain.ChatSummary `json:"chats"`
	}
	if err := c.get(ctx, "/api/v1/chats", &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, bool, error) {
	q := url.Values{}
	if before != nil {
		q.Set("before", before.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/api/v1/chats/%s/messages", chatID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Messages []domain.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.HasMore, nil
}

func (c *Client) NotificationFeed(ctx context.Context) ([]domain.Notification, int, error) {
	var resp struct {
		Notifications []domain.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
	}
	if err := c.get(ctx, "/api/v1/notifications", &resp); err != nil {
		return nil, 0, err
	}
	return resp.Notifications, resp.UnreadCount, nil
}

func (c *Client) MarkRead(ctx context.Context, notificationID uuid.UUID) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/notifications/%s/read", notificationID))
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.post(ctx, "/api/v1/notifications/read-all")
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.post(ctx, "/api/v1/users/me/heartbeat")
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
