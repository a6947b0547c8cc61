// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package stub provides a scriptable HTTP server: canned JSON routes,
// ordered request recording, and an event-stream endpoint that test code
// feeds. It stands in for the service's upstream dependencies and backs
// the toolkit's own tests.
package stub

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// RecordedRequest is one request the server received.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Event is an event to emit on the stream endpoint.
type Event struct {
	ID   string
	Type string
	Data any // marshaled to JSON unless already a string
}

// Server is a running stub. Construct with New, stop with Close.
type Server struct {
	router *mux.Router
	srv    *httptest.Server
	logger *slog.Logger

	mu       sync.Mutex
	requests []RecordedRequest
	streams  map[chan Event]struct{}
}

// New starts a stub server. Routes are added with Handle and HandleJSON;
// unmatched requests return 404 and are still recorded.
func New() *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  slog.Default(),
		streams: make(map[chan Event]struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the server base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down and disconnects all stream clients.
func (s *Server) Close() {
	s.mu.Lock()
	for ch := range s.streams {
		close(ch)
	}
	s.streams = make(map[chan Event]struct{})
	s.mu.Unlock()
	s.srv.Close()
}

// HandleJSON registers a canned JSON response for a method and path.
// Path parameters use mux syntax, e.g. "/books/{id}".
func (s *Server) HandleJSON(method, path string, status int, body any) {
	s.router.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body == nil {
			return
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Warn("stub response write failed", "path", path, "error", err)
		}
	}).Methods(method)
}

// Handle registers an arbitrary handler.
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.router.HandleFunc(path, h).Methods(method)
}

// ServeSSE registers an event-stream endpoint at path. Events passed to
// Emit are fanned out to every connected client.
func (s *Server) ServeSSE(path string) {
	s.router.HandleFunc(path, s.serveStream).Methods(http.MethodGet)
}

// Emit broadcasts an event to all connected stream clients. A client too
// slow to drain its buffer misses the event; the stub favors forward
// progress over delivery guarantees, mirroring real notification fan-out.
func (s *Server) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.streams {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("stub event dropped: client buffer full",
				"event_id", ev.ID,
				"event_type", ev.Type,
			)
		}
	}
}

// Requests returns all recorded requests in arrival order.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of recorded requests.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// serve records the request and delegates to the router.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20)) //nolint:errcheck // best-effort capture

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})
	s.mu.Unlock()

	s.router.ServeHTTP(w, r)
}

// serveStream subscribes the client and writes events until it leaves.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan Event, 64)
	s.mu.Lock()
	s.streams[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if _, live := s.streams[ch]; live {
			delete(s.streams, ch)
			close(ch)
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	// Comment line doubles as a connection ack for clients.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, ev Event) error {
	var data string
	switch d := ev.Data.(type) {
	case string:
		data = d
	case nil:
		data = "{}"
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		data = string(b)
	}

	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// A payload may span lines; each gets its own data field so embedded
	// newlines cannot break the event-stream framing.
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
