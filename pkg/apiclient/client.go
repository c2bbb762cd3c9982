// Package apiclient talks to the POS REST backend. Every response is wrapped
// in a {success, data, message} envelope; Do unwraps it into the caller's
// value and turns rejections into *APIError.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

const DefaultTimeout = 30 * time.Second

type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Errors  json.RawMessage `json:"errors,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Op names the call for logs and metrics, e.g. "pos.add_item".
	Op string
	// SkipAuthRefresh disables the refresh-and-retry on 401.
	SkipAuthRefresh bool
}

// Credentials supplies the per-request auth headers.
type Credentials interface {
	AccessToken() string
	StoreCode() string
}

type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type Observer interface {
	ObserveBackend(op string, status int, d time.Duration)
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	Credentials Credentials
	Refresher   Refresher
	// OnUnauthorized clears the local session when the backend refuses the
	// refresh or rejects a request twice.
	OnUnauthorized func(ctx context.Context)
	Observer       Observer
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}),
	}
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Get(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Op: op, Path: path, Query: query}, out)
}

func (c *Client) Post(ctx context.Context, op, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Op: op, Path: path, Body: body}, out)
}

func (c *Client) Put(ctx context.Context, op, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Op: op, Path: path, Body: body}, out)
}

func (c *Client) Delete(ctx context.Context, op, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Op: op, Path: path}, out)
}

func isAuthEndpoint(path string) bool {
	return strings.Contains(path, "/auth/refresh") || strings.Contains(path, "/auth/logout")
}

// Do sends req and decodes the envelope's data into out (when out is not
// nil). A 401 is retried once after a token refresh.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	l := logging.FromContext(ctx).With("op", req.Op, "method", req.Method, "path", req.Path)

	status, env, err := c.send(ctx, req, "")
	if status == http.StatusUnauthorized {
		if isAuthEndpoint(req.Path) {
			l.Warn("backend_auth_rejected", "status", status)
			c.forceLogout(ctx)
			return err
		}
		if req.SkipAuthRefresh {
			return err
		}
		if c.Refresher == nil {
			c.forceLogout(ctx)
			return err
		}

		token, rerr := c.Refresher.Refresh(ctx)
		if rerr != nil {
			l.Warn("token_refresh_error", "error", rerr)
			c.forceLogout(ctx)
			return fmt.Errorf("refresh token: %w: %w", ErrUnauthorized, rerr)
		}

		status, env, err = c.send(ctx, req, token)
		if status == http.StatusUnauthorized {
			l.Warn("backend_auth_rejected_after_refresh", "status", status)
			c.forceLogout(ctx)
			return err
		}
	}
	if err != nil {
		return err
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", req.Op, err)
	}
	return nil
}

func (c *Client) forceLogout(ctx context.Context) {
	if c.OnUnauthorized != nil {
		c.OnUnauthorized(ctx)
	}
}

func (c *Client) newRequest(ctx context.Context, req Request, token string) (*http.Request, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.Op, err)
		}
		body = bytes.NewReader(raw)
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}

	switch {
	case token != "":
		hr.Header.Set("Authorization", "Bearer "+token)
	case hr.Header.Get("Authorization") == "" && c.Credentials != nil:
		if t := c.Credentials.AccessToken(); t != "" {
			hr.Header.Set("Authorization", "Bearer "+t)
		}
	}
	if c.Credentials != nil {
		if code := c.Credentials.StoreCode(); code != "" {
			hr.Header.Set("X-Store-Code", code)
		}
	}
	return hr, nil
}

// send performs one round trip. status is 0 when no response arrived.
func (c *Client) send(ctx context.Context, req Request, token string) (int, *Envelope, error) {
	hr, err := c.newRequest(ctx, req, token)
	if err != nil {
		return 0, nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(hr)
	if err != nil {
		c.observe(req.Op, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%s: %w: %v", req.Op, ErrNetwork, err)
	}
	defer resp.Body.Close()
	c.observe(req.Op, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: read body: %w: %v", req.Op, ErrNetwork, err)
	}

	env := &Envelope{}
	empty := len(bytes.TrimSpace(raw)) == 0
	var decodeErr error
	if !empty {
		decodeErr = json.Unmarshal(raw, env)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = envelopeMessage(env)
			apiErr.Errors = env.Errors
		}
		return resp.StatusCode, env, apiErr
	}
	if decodeErr != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode %s envelope: %w", req.Op, decodeErr)
	}
	if !empty && !env.Success {
		return resp.StatusCode, env, &APIError{
			Status:  resp.StatusCode,
			Message: envelopeMessage(env),
			Errors:  env.Errors,
		}
	}
	return resp.StatusCode, env, nil
}

func envelopeMessage(env *Envelope) string {
	if env.Message != "" {
		return env.Message
	}
	return env.Error
}

func (c *Client) observe(op string, status int, d time.Duration) {
	if c.Observer != nil {
		c.Observer.ObserveBackend(op, status, d)
	}
}

// IsNetwork reports whether err means the backend was not reached at all.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
