// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package eventwait provides race-free synchronization between test
// actions and the asynchronous events they cause.
//
// The central problem: a test triggers an operation over HTTP, the
// service processes it asynchronously (projections, outbox relays) and
// announces completion on a push channel. Waiting only after the action
// returns loses events that fire in between; waiting before the action
// deadlocks single-threaded tests. A Listener resolves this by recording
// every event into an ordered journal from the moment the subscription is
// live, so a wait started at any later point still observes them.
package eventwait

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/probekit/probekit/pkg/sse"
)

// EventSource is the subscription a Listener consumes. *sse.Stream
// satisfies it.
type EventSource interface {
	Events() <-chan sse.Event
	Err() error
	Close()
}

// Entry is one journaled event.
type Entry struct {
	// Seq is the journal position, starting at 1.
	Seq uint64

	// At is the local arrival time.
	At time.Time

	// Gap reports that events may have been lost immediately before this
	// entry (stream reconnect).
	Gap bool

	Event sse.Event
}

// Listener consumes an EventSource into an append-only journal and lets
// any number of goroutines wait for matching entries. Matched entries are
// not consumed; two waiters can match the same entry.
type Listener struct {
	src    EventSource
	closed chan struct{}

	mu      sync.Mutex
	entries []Entry
	seq     uint64
	ended   bool
	srcErr  error
	changed chan struct{}
}

// Listen starts journaling src. The source must already be live (sse.Dial
// establishes the connection before returning), so every event the server
// emits after Listen returns is guaranteed to reach the journal.
func Listen(ctx context.Context, src EventSource) (*Listener, error) {
	if src == nil {
		return nil, oops.Code("WAIT_NIL_SOURCE").Errorf("event source cannot be nil")
	}
	l := &Listener{
		src:     src,
		closed:  make(chan struct{}),
		changed: make(chan struct{}),
	}
	go l.consume(ctx)
	return l, nil
}

// consume appends source events to the journal until the source closes.
func (l *Listener) consume(ctx context.Context) {
	for {
		select {
		case ev, ok := <-l.src.Events():
			if !ok {
				l.end(l.src.Err())
				return
			}
			l.append(ev)
		case <-ctx.Done():
			l.end(ctx.Err())
			return
		}
	}
}

func (l *Listener) append(ev sse.Event) {
	l.mu.Lock()
	l.seq++
	l.entries = append(l.entries, Entry{
		Seq:   l.seq,
		At:    time.Now(),
		Gap:   ev.Gap,
		Event: ev,
	})
	l.broadcastLocked()
	l.mu.Unlock()
}

func (l *Listener) end(err error) {
	l.mu.Lock()
	if !l.ended {
		l.ended = true
		l.srcErr = err
		close(l.closed)
		l.broadcastLocked()
	}
	l.mu.Unlock()
}

// broadcastLocked wakes all waiters. Callers hold l.mu.
func (l *Listener) broadcastLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Close stops the underlying source and wakes all waiters.
func (l *Listener) Close() {
	l.src.Close()
	<-l.closed
}

// Journal returns a snapshot of all entries recorded so far.
func (l *Listener) Journal() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Seq returns the current journal position.
func (l *Listener) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// WaitResult describes a successful wait.
type WaitResult struct {
	// Entry is the first journal entry the predicate matched.
	Entry Entry

	// Waited is the time spent between starting the wait and the match.
	Waited time.Duration

	// Scanned is the number of entries inspected.
	Scanned int
}

type waitConfig struct {
	timeout      time.Duration
	fromSeq      uint64
	requireNoGap bool
}

// WaitOption configures a wait.
type WaitOption func(*waitConfig)

// WithTimeout bounds the wait. Zero means the context alone bounds it.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// FromSeq skips journal entries at or below seq. The default scans from
// the beginning of the journal, i.e. from subscription time.
func FromSeq(seq uint64) WaitOption {
	return func(c *waitConfig) { c.fromSeq = seq }
}

// RequireNoGap fails the wait if a reconnect gap is observed before the
// match. Use it when the assertion depends on having seen every event.
func RequireNoGap() WaitOption {
	return func(c *waitConfig) { c.requireNoGap = true }
}

// ExecuteAndWait runs action, then waits for an entry matching match. The
// scan covers the whole journal by default, so an event that arrived
// between Listen and the action, or between the action returning and the
// wait starting, is still matched. The action runs only after the journal
// is already recording, which eliminates the trigger/notification race.
func (l *Listener) ExecuteAndWait(ctx context.Context, action func(context.Context) error, match Predicate, opts ...WaitOption) (*WaitResult, error) {
	if action == nil {
		return nil, oops.Code("WAIT_NIL_ACTION").Errorf("action cannot be nil")
	}
	if err := action(ctx); err != nil {
		return nil, oops.Code("WAIT_ACTION_FAILED").Wrap(err)
	}
	return l.WaitFor(ctx, match, opts...)
}

// WaitFor waits for an entry matching match without running an action.
func (l *Listener) WaitFor(ctx context.Context, match Predicate, opts ...WaitOption) (*WaitResult, error) {
	if match == nil {
		return nil, oops.Code("WAIT_NIL_PREDICATE").Errorf("predicate cannot be nil")
	}
	var cfg waitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var deadline <-chan time.Time
	if cfg.timeout > 0 {
		t := time.NewTimer(cfg.timeout)
		defer t.Stop()
		deadline = t.C
	}

	start := time.Now()
	next := cfg.fromSeq // last seq already inspected
	scanned := 0

	for {
		l.mu.Lock()
		entries := l.entries
		changed := l.changed
		ended := l.ended
		srcErr := l.srcErr
		l.mu.Unlock()

		for _, e := range entries {
			if e.Seq <= next {
				continue
			}
			next = e.Seq
			scanned++
			if e.Gap && cfg.requireNoGap {
				return nil, oops.Code("WAIT_GAP").
					With("seq", e.Seq).
					Errorf("stream gap observed before a match")
			}
			if match(e) {
				return &WaitResult{
					Entry:   e,
					Waited:  time.Since(start),
					Scanned: scanned,
				}, nil
			}
		}

		if ended {
			b := oops.Code("WAIT_SOURCE_CLOSED").With("scanned", scanned)
			if srcErr != nil {
				return nil, b.Wrapf(srcErr, "event source closed before a match")
			}
			return nil, b.Errorf("event source closed before a match")
		}

		select {
		case <-changed:
		case <-deadline:
			return nil, oops.Code("WAIT_TIMEOUT").
				With("timeout", cfg.timeout.String()).
				With("scanned", scanned).
				Errorf("no matching event within %s", cfg.timeout)
		case <-ctx.Done():
			return nil, oops.Code("WAIT_CANCELED").With("scanned", scanned).Wrap(ctx.Err())
		}
	}
}
