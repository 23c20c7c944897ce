// Package tttclient is a Go client for the gateway's HTTP routes and
// websocket channels.
package tttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/tictactoe-live/pkg/wire"
)

// TokenSource returns the bearer token for the next request.
type TokenSource func() string

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource { return func() string { return tok } }

// APIError is a non-2xx answer. Code and Message come from the ERROR body
// when the server sent one.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tictactoe api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("tictactoe api error: status=%d body=%s", e.Status, e.Body)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	token   TokenSource

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithToken(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithRetry sets the attempt count for idempotent reads.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListSessions(ctx context.Context) (*wire.SessionList, error) {
	var out wire.SessionList
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/sessions", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSession(ctx context.Context, name, marker string) (*wire.Snapshot, error) {
	var out wire.Snapshot
	req := wire.CreateSessionRequest{Name: name, Marker: marker}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/sessions", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*wire.Snapshot, error) {
	var out wire.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/sessions/"+url.PathEscape(id), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinSession is not retried: a second attempt would see the seat taken.
func (c *Client) JoinSession(ctx context.Context, id string) (*wire.JoinResult, error) {
	var out wire.JoinResult
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/sessions/"+url.PathEscape(id)+"/join", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil, false)
}

func (c *Client) Stats(ctx context.Context) (*wire.Stats, error) {
	var out wire.Stats
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/stats/me", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports nil when the gateway and its store answer.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.token != nil {
		if tok := strings.TrimSpace(c.token()); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out != nil && len(resp.Body()) > 0 {
					if err := json.Unmarshal(resp.Body(), out); err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
				}
				return nil
			}
			err = apiError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return err
			}
		} else {
			err = fmt.Errorf("request failed: %w", err)
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func apiError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Body: truncate(string(body), 512)}
	var frame wire.Error
	if json.Unmarshal(body, &frame) == nil {
		e.Code, e.Message = frame.Code, frame.Message
	}
	return e
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
