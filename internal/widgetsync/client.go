package widgetsync

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/suPer8Hu/carelink-support/internal/chat"
)

type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("support api error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Client talks to the support HTTP API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func call[T any](ctx context.Context, c *Client, token, method, path string, body any) (T, error) {
	var (
		out    envelope[T]
		failed envelope[any]
		zero   T
	)
	req := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&failed)
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return zero, &APIError{Status: resp.StatusCode(), Code: failed.Code, Message: failed.Message}
	}
	return out.Data, nil
}

type MessageRequest struct {
	Text         string  `json:"text"`
	SessionID    string  `json:"session_id,omitempty"`
	VisitorEmail string  `json:"visitor_email,omitempty"`
	VisitorID    *uint64 `json:"visitor_id,omitempty"`
}

// PostMessage sends a visitor message. token is optional.
func (c *Client) PostMessage(ctx context.Context, token string, m MessageRequest) (*chat.VisitorReply, error) {
	out, err := call[chat.VisitorReply](ctx, c, token, resty.MethodPost, "/conversations/message", m)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	out, err := call[struct {
		Messages []chat.Message `json:"messages"`
	}](ctx, c, "", resty.MethodGet, "/conversations/"+url.PathEscape(sessionID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Version(ctx context.Context, sessionID string) (int64, error) {
	out, err := call[struct {
		Version int64 `json:"version"`
	}](ctx, c, "", resty.MethodGet, "/conversations/"+url.PathEscape(sessionID)+"/version", nil)
	if err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *Client) AdminSync(ctx context.Context, token string) (chat.Fingerprint, error) {
	return call[chat.Fingerprint](ctx, c, token, resty.MethodGet, "/admin/conversations/sync", nil)
}

type ListParams struct {
	Status   string
	Priority string
	Search   string
	Page     int
	Limit    int
}

func (p ListParams) encode() string {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.Priority != "" {
		q.Set("priority", p.Priority)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) AdminList(ctx context.Context, token string, p ListParams) (*chat.ListPage, error) {
	out, err := call[chat.ListPage](ctx, c, token, resty.MethodGet, "/admin/conversations"+p.encode(), nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
