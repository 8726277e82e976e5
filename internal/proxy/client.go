// Package proxy implements domain.RequestProxy over the backend's REST API.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/metrics"
)

const DefaultTimeout = 10 * time.Second

// Client calls the notification REST endpoints with the session's bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client for baseURL, e.g. "https://api.setorin.id/api/v1".
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.RequestProxy = (*Client)(nil)

type listResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

type unreadCountResponse struct {
	UnreadCount int64 `json:"unread_count"`
}

// List pulls one page of notifications.
func (c *Client) List(ctx context.Context, sess domain.Session, filter domain.ListFilter) ([]domain.Notification, error) {
	q := url.Values{}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.UnreadOnly {
		q.Set("unread_only", "true")
	}
	path := "/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out listResponse
	if err := c.do(ctx, sess, "list", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Notifications == nil {
		out.Notifications = []domain.Notification{}
	}
	return out.Notifications, nil
}

// UnreadCount returns the server's unread badge count.
func (c *Client) UnreadCount(ctx context.Context, sess domain.Session) (int64, error) {
	var out unreadCountResponse
	if err := c.do(ctx, sess, "unread_count", http.MethodGet, "/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) MarkRead(ctx context.Context, sess domain.Session, id string) error {
	return c.do(ctx, sess, "mark_read", http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllRead(ctx context.Context, sess domain.Session) error {
	return c.do(ctx, sess, "mark_all_read", http.MethodPatch, "/notifications/read-all", nil, nil)
}

func (c *Client) Delete(ctx context.Context, sess domain.Session, id string) error {
	return c.do(ctx, sess, "delete", http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Settings(ctx context.Context, sess domain.Session) (domain.Settings, error) {
	out := domain.Settings{}
	if err := c.do(ctx, sess, "settings", http.MethodGet, "/notifications/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, sess domain.Session, patch domain.Settings) (domain.Settings, error) {
	out := domain.Settings{}
	if err := c.do(ctx, sess, "update_settings", http.MethodPatch, "/notifications/settings", patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do issues one request and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, sess domain.Session, op, method, path string, body, out any) (err error) {
	start := time.Now()
	requestID := uuid.NewString()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(domain.FailureOf(err))
		}
		c.metrics.ObserveProxy(op, outcome, time.Since(start).Seconds())
		log.Debug().
			Str("op", op).
			Str("request_id", requestID).
			Str("outcome", outcome).
			Dur("took", time.Since(start)).
			Msg("proxy: request finished")
	}()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &domain.ProxyError{Kind: domain.FailureServer, Op: op, Err: fmt.Errorf("encode body: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &domain.ProxyError{Kind: domain.FailureNetwork, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProxyError{Kind: domain.FailureNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if kind, failed := classify(resp.StatusCode); failed {
		return &domain.ProxyError{Kind: kind, Op: op, Status: resp.StatusCode, Err: errorBody(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &domain.ProxyError{Kind: domain.FailureServer, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func classify(status int) (domain.FailureKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.FailureUnauthorized, true
	case status == http.StatusNotFound:
		return domain.FailureNotFound, true
	default:
		return domain.FailureServer, true
	}
}

// errorBody extracts a short message from a failed response.
func errorBody(r io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return errors.New(payload.Message)
		}
		if payload.Error != "" {
			return errors.New(payload.Error)
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return errors.New(s)
	}
	return nil
}
