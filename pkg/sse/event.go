// Package sse implements a Server-Sent-Events client for listening to
// push notifications from a service under test.
package sse

import "time"

// DefaultType is the event type used when the server sends no event field.
const DefaultType = "message"

// Event is a single server-sent event.
type Event struct {
	// ID is the last event ID seen on the stream at dispatch time.
	ID string

	// Type is the event type ("message" if the server sent none).
	Type string

	// Data is the event payload. Multi-line data fields are joined with \n.
	Data string

	// Retry is the server-suggested reconnection delay, zero if the server
	// never sent one.
	Retry time.Duration

	// Gap marks a synthetic event inserted by the client after a reconnect.
	// Events may have been missed between the preceding event and this one.
	Gap bool
}
