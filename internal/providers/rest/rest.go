// Package rest is the small HTTP client shared by the provider adapters:
// JSON or raw requests against one API with bounded retries of transient
// failures.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/oauth2"

	"github.com/colebrumley/areamgr/internal/engine"
)

const maxBody = 4 << 20

// Policy bounds the retries of one call. Retries happen inside the caller's
// context, so the dispatch timeout still caps the total.
type Policy struct {
	Attempts  uint
	Delay     time.Duration
	MaxDelay  time.Duration
	MaxJitter time.Duration
}

// DefaultPolicy is used when a client is built without WithPolicy.
var DefaultPolicy = Policy{
	Attempts:  3,
	Delay:     500 * time.Millisecond,
	MaxDelay:  5 * time.Second,
	MaxJitter: 250 * time.Millisecond,
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Transient reports whether the request may succeed if repeated.
func (e *StatusError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Response is a fully read response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client talks to one API.
type Client struct {
	http    *http.Client
	base    string
	auth    func(*http.Request)
	header  http.Header
	logger  *slog.Logger
	policy  Policy
	retryIf func(error) bool
}

type Option func(*Client)

// WithHTTPClient sets the transport, e.g. an oauth2 client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBearer authenticates every request with a static token.
func WithBearer(scheme, token string) Option {
	return func(c *Client) {
		c.auth = func(r *http.Request) { r.Header.Set("Authorization", scheme+" "+token) }
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRetryIf narrows which transient failures are retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Client) { c.retryIf = fn }
}

// New creates a client for the API rooted at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		base:   strings.TrimRight(base, "/"),
		header: make(http.Header),
		logger: slog.Default(),
		policy: DefaultPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JSON sends in (if non-nil) as a JSON body and decodes the response into out
// (if non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return engine.ConfigErrorf("encoding request body: %w", err)
		}
		body = b
	}
	resp, err := c.Raw(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return engine.ExecutionErrorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// Raw sends body with the given content type and returns the response once it
// has a 2xx status. 401 and 403 are auth errors and are not retried; other
// 4xx statuses are not retried either.
func (c *Client) Raw(ctx context.Context, method, path string, body []byte, contentType string) (*Response, error) {
	url := c.url(path)
	var out *Response
	err := Do(ctx, c.logger, c.policy, method+" "+url, func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return engine.ConfigErrorf("create request: %w", err)
		}
		for k, v := range c.header {
			req.Header[k] = v
		}
		if len(body) > 0 && contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}
		if c.auth != nil {
			c.auth(req)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("HTTP request failed", "method", method, "url", url, "error", err)
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		c.logger.Debug("HTTP request completed",
			"method", method,
			"url", url,
			"status_code", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Method: method, URL: url, Status: resp.StatusCode, Body: snippet(data)}
			switch {
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return engine.AuthErrorf("%w", serr)
			case serr.Transient():
				return serr
			default:
				return engine.ExecutionErrorf("%w", serr)
			}
		}
		out = &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}
		return nil
	}, c.retryIf)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if c.base == "" {
		return path
	}
	return c.base + "/" + strings.TrimLeft(path, "/")
}

// Do runs fn under p. Errors already tagged with an engine kind are final;
// retryIf, when non-nil, further restricts which of the rest are retried. The
// returned error is the last error fn returned so its kind survives.
func Do(ctx context.Context, logger *slog.Logger, p Policy, op string, fn func() error, retryIf func(error) bool) error {
	p.Attempts = max(p.Attempts, 1)
	p.MaxJitter = max(p.MaxJitter, time.Millisecond)
	var last error
	err := retry.Do(
		func() error {
			last = fn()
			return last
		},
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.MaxJitter(p.MaxJitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying after error", "op", op, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			if engine.KindOf(err) != "" {
				return false
			}
			return retryIf == nil || retryIf(err)
		}),
	)
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	if ctx.Err() != nil && !errors.Is(last, ctx.Err()) {
		return engine.ExecutionErrorf("%s: %w (%w)", op, ctx.Err(), last)
	}
	if engine.KindOf(last) != "" {
		return last
	}
	return engine.ExecutionErrorf("%s: %w", op, last)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// Token builds an OAuth token from stored credentials: "access_token",
// "refresh_token" and an optional RFC 3339 "expiry".
func Token(creds map[string]string) (*oauth2.Token, error) {
	tok := &oauth2.Token{
		AccessToken:  creds["access_token"],
		RefreshToken: creds["refresh_token"],
		TokenType:    "Bearer",
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("no oauth token stored")
	}
	if exp := creds["expiry"]; exp != "" {
		t, err := time.Parse(time.RFC3339, exp)
		if err != nil {
			return nil, fmt.Errorf("invalid token expiry %q", exp)
		}
		tok.Expiry = t
	}
	return tok, nil
}
