// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package sse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Reconnect defaults. The server-suggested retry delay, when present,
// takes precedence over the initial backoff.
const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultMaxReconnects  = 10
)

type config struct {
	httpClient    *http.Client
	header        http.Header
	lastEventID   string
	initialDelay  time.Duration
	maxDelay      time.Duration
	maxReconnects uint64
	logger        *slog.Logger
}

// Option configures Dial.
type Option func(*config)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithHeader adds a header to every connection request, including
// reconnects. Useful for bearer tokens and tenant headers.
func WithHeader(key, value string) Option {
	return func(c *config) { c.header.Set(key, value) }
}

// WithLastEventID resumes the stream from a known event ID.
func WithLastEventID(id string) Option {
	return func(c *config) { c.lastEventID = id }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(c *config) {
		c.initialDelay = initial
		c.maxDelay = maxDelay
	}
}

// WithMaxReconnects bounds consecutive failed reconnect attempts before the
// stream gives up. The counter resets after every successful connection.
func WithMaxReconnects(n uint64) Option {
	return func(c *config) { c.maxReconnects = n }
}

// WithLogger sets the logger used for reconnect diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Stream is a live event-stream connection. Events are delivered on the
// channel returned by Events in arrival order. After the channel closes,
// Err reports why.
type Stream struct {
	cfg    config
	url    string
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	mu          sync.Mutex
	err         error
	lastEventID string
	retryHint   time.Duration
}

// Dial opens an event-stream connection. The connection is established
// before Dial returns, so a caller that triggers server activity after
// Dial succeeds is guaranteed the subscription was already live.
func Dial(ctx context.Context, url string, opts ...Option) (*Stream, error) {
	cfg := config{
		httpClient:    &http.Client{},
		header:        make(http.Header),
		initialDelay:  defaultInitialBackoff,
		maxDelay:      defaultMaxBackoff,
		maxReconnects: defaultMaxReconnects,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Stream{
		cfg:         cfg,
		url:         url,
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
		lastEventID: cfg.lastEventID,
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	body, err := s.connect(runCtx)
	if err != nil {
		cancel()
		close(s.done)
		return nil, err
	}

	go s.run(runCtx, body)
	return s, nil
}

// Events returns the event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan Event { return s.events }

// Err reports why the stream ended. It returns nil before the event
// channel has closed, and nil after a clean Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastEventID returns the most recent event ID seen on the stream.
func (s *Stream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// Close terminates the stream and waits for the reader goroutine to exit.
// It is safe to call multiple times.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

// connect performs a single connection attempt and validates the response.
func (s *Stream) connect(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, oops.Code("SSE_REQUEST_FAILED").With("url", s.url).Wrap(err)
	}
	for k, vs := range s.cfg.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	s.mu.Lock()
	if s.lastEventID != "" {
		req.Header.Set("Last-Event-ID", s.lastEventID)
	}
	s.mu.Unlock()

	resp, err := s.cfg.httpClient.Do(req)
	if err != nil {
		return nil, oops.Code("SSE_CONNECT_FAILED").With("url", s.url).Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, oops.Code("SSE_BAD_STATUS").
			With("url", s.url).
			With("status", resp.StatusCode).
			Errorf("unexpected status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "text/event-stream") {
		resp.Body.Close()
		return nil, oops.Code("SSE_CONTENT_TYPE").
			With("url", s.url).
			With("content_type", ct).
			Errorf("not an event stream")
	}
	return resp.Body, nil
}

// run reads events until the context is canceled or reconnection gives up.
func (s *Stream) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer close(s.events)

	for {
		readErr := s.readLoop(ctx, body)
		if ctx.Err() != nil {
			return
		}
		s.cfg.logger.Debug("event stream disconnected, reconnecting",
			"url", s.url, "error", readErr)

		var err error
		body, err = s.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.err = oops.Code("SSE_RECONNECT_FAILED").With("url", s.url).Wrap(err)
			s.mu.Unlock()
			return
		}

		// The journal is no longer provably continuous.
		select {
		case s.events <- Event{Type: DefaultType, Gap: true}:
		case <-ctx.Done():
			body.Close()
			return
		}
	}
}

// readLoop decodes events from one connection until it fails.
func (s *Stream) readLoop(ctx context.Context, body io.ReadCloser) error {
	defer body.Close()

	d := newDecoder(body)
	for {
		ev, err := d.next()
		if err != nil {
			return err
		}

		s.mu.Lock()
		if ev.ID != "" {
			s.lastEventID = ev.ID
		}
		if ev.Retry > 0 {
			s.retryHint = ev.Retry
		}
		s.mu.Unlock()

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnect retries the connection with capped exponential backoff,
// honoring the server's retry hint as the starting delay.
func (s *Stream) reconnect(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	initial := s.cfg.initialDelay
	if s.retryHint > 0 {
		initial = s.retryHint
	}
	s.mu.Unlock()

	b := retry.NewExponential(initial)
	b = retry.WithCappedDuration(s.cfg.maxDelay, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(s.cfg.maxReconnects, b)

	var body io.ReadCloser
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var connErr error
		body, connErr = s.connect(ctx)
		if connErr != nil {
			return retry.RetryableError(connErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// IsGap reports whether an error chain contains a reconnect failure.
func IsGap(err error) bool {
	var oopsErr oops.OopsError
	if errors.As(err, &oopsErr) {
		return oopsErr.Code() == "SSE_RECONNECT_FAILED"
	}
	return false
}
