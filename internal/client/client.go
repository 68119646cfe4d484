package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"secretaria/internal/logging"
	"secretaria/internal/session"
)

var (
	ErrRequestFailed = errors.New("request failed")
	// ErrUnauthorized is the session sentinel so stream failures classify
	// as expired auth without translation.
	ErrUnauthorized = session.ErrUnauthorized
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the chat backend. Streaming requests have no overall
// timeout; every other call is bounded by the request timeout.
type Client struct {
	baseURL        string
	token          func() string
	httpClient     *http.Client
	requestTimeout time.Duration
	onUnauthorized func()
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithUnauthorizedHook is called whenever an authenticated call gets 401.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a client. token is read before every request.
func New(baseURL string, token func() string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		token:          token,
		httpClient:     &http.Client{},
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

// do sends req and turns 401 and other non-2xx answers into errors. On
// success the caller owns resp.Body.
func (c *Client) do(req *http.Request, authenticated bool) (*http.Response, error) {
	logging.Debugf("HTTP %s %s", req.Method, req.URL.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && authenticated {
		resp.Body.Close()
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, errorDetail(body))
	}
	return resp, nil
}

// doJSON runs a bounded JSON round trip. out may be nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, authenticated bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	resp, err := c.do(req, authenticated)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// errorDetail extracts {"error": ...} or {"detail": ...} from an error body,
// falling back to the raw text.
func errorDetail(body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return strings.TrimSpace(string(body))
}
