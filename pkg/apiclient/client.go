// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package apiclient provides a declarative JSON REST client for driving a
// service under test: base URL handling, bearer authentication with
// refresh rotation, per-tenant header injection, problem+json error
// decoding, and idempotent retry.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultTenantHeader is the header carrying the tenant identifier,
// overridable with WithTenantHeader.
const DefaultTenantHeader = "X-Tenant-Id"

const (
	defaultRetryInitial  = 250 * time.Millisecond
	defaultRetryAttempts = 3
)

// Client is a JSON HTTP client bound to a base URL. The zero value is not
// usable; construct with New. Clients are safe for concurrent use, and
// WithTenant derives cheap per-tenant copies.
type Client struct {
	base          *url.URL
	hc            *http.Client
	tokens        TokenSource
	tenant        string
	tenantHeader  string
	header        http.Header
	logger        *slog.Logger
	retryAttempts uint64
	retryInitial  time.Duration
}

// Option configures New.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTokenSource attaches bearer authentication.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithTenantHeader overrides the tenant header name.
func WithTenantHeader(name string) Option {
	return func(c *Client) { c.tenantHeader = name }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry overrides the GET retry policy. Zero attempts disables retry.
func WithRetry(attempts uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryInitial = initial
	}
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.Code("CLIENT_BAD_URL").With("url", baseURL).Wrap(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("CLIENT_BAD_URL").
			With("url", baseURL).
			Errorf("base URL must be absolute")
	}
	c := &Client{
		base:          u,
		hc:            &http.Client{Timeout: 30 * time.Second},
		tenantHeader:  DefaultTenantHeader,
		header:        make(http.Header),
		logger:        slog.Default(),
		retryAttempts: defaultRetryAttempts,
		retryInitial:  defaultRetryInitial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithTenant returns a copy of the client that sends the tenant header on
// every request. The parent client is not modified.
func (c *Client) WithTenant(tenantID string) *Client {
	clone := *c
	clone.tenant = tenantID
	clone.header = c.header.Clone()
	return &clone
}

// Tenant returns the tenant this client is bound to, empty if none.
func (c *Client) Tenant() string { return c.tenant }

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Get performs a GET and decodes the JSON response into out (which may be
// nil). GETs are retried on connection errors and 5xx responses.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	if c.retryAttempts == 0 {
		return c.do(ctx, http.MethodGet, path, nil, out)
	}
	b := retry.WithMaxRetries(c.retryAttempts, retry.NewExponential(c.retryInitial))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Do performs an arbitrary request and returns the raw response status
// and body. Most callers want the typed helpers instead.
func (c *Client) Do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	return c.roundTrip(ctx, method, path, body, true)
}

// do runs one request, retrying exactly once after a token refresh on 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	status, respBody, err := c.roundTrip(ctx, method, path, body, true)
	if err != nil {
		return err
	}
	if out == nil || status == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return oops.Code("CLIENT_DECODE_FAILED").
			With("method", method).
			With("path", path).
			With("status", status).
			Wrap(err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any, allowRefresh bool) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, nil, oops.Code("CLIENT_ENCODE_FAILED").With("path", path).Wrap(err)
		}
	}

	ref, err := url.Parse(path)
	if err != nil {
		return 0, nil, oops.Code("CLIENT_BAD_URL").With("path", path).Wrap(err)
	}
	target := c.base.ResolveReference(ref)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, nil, oops.Code("CLIENT_REQUEST_FAILED").With("path", path).Wrap(err)
	}

	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenant != "" {
		req.Header.Set(c.tenantHeader, c.tenant)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, oops.Code("CLIENT_TOKEN_FAILED").Wrap(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, oops.Code("CLIENT_CONNECT_FAILED").
			With("method", method).
			With("url", target.String()).
			Wrap(err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, nil, oops.Code("CLIENT_READ_FAILED").With("path", path).Wrap(err)
	}

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh && c.tokens != nil {
		if _, err := c.tokens.Refresh(ctx); err != nil {
			return 0, nil, oops.Code("CLIENT_REFRESH_FAILED").Wrap(err)
		}
		c.logger.Debug("access token refreshed after 401", "path", path)
		return c.roundTrip(ctx, method, path, body, false)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, respBody, apiError(method, path, resp, respBody)
	}
	return resp.StatusCode, respBody, nil
}

// APIError is a non-2xx response, carrying RFC 7807 problem details when
// the server provided them.
type APIError struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// apiError decodes a problem+json body when present.
func apiError(method, path string, resp *http.Response, body []byte) error {
	apiErr := &APIError{Status: resp.StatusCode}
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/problem+json") || strings.HasPrefix(ct, "application/json") {
		// Best effort: a non-problem body leaves the fields empty.
		_ = json.Unmarshal(body, apiErr) //nolint:errcheck // status alone is enough
	}
	return oops.Code("CLIENT_API_ERROR").
		With("method", method).
		With("path", path).
		With("status", resp.StatusCode).
		With("title", apiErr.Title).
		Wrap(apiErr)
}

// StatusOf extracts the HTTP status from an error returned by the client,
// zero if the error did not come from an HTTP response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// retryable reports whether an error is worth retrying for an idempotent
// request: connection failures and 5xx responses.
func retryable(err error) bool {
	if s := StatusOf(err); s >= 500 {
		return true
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Code() == "CLIENT_CONNECT_FAILED"
	}
	return false
}
