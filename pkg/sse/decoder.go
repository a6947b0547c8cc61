// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package sse

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

// maxLineSize bounds a single wire line. Payloads larger than this indicate
// a misbehaving server, not a legitimate event.
const maxLineSize = 1 << 20

// decoder parses the text/event-stream wire format as specified by the
// WHATWG EventSource processing model.
type decoder struct {
	s         *bufio.Scanner
	firstLine bool

	// lastID persists across events until the server replaces it.
	lastID string
}

func newDecoder(r io.Reader) *decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	s.Split(scanEventLines)
	return &decoder{s: s, firstLine: true}
}

// next reads lines until a complete event is dispatched. It returns io.EOF
// when the stream ends; a partially accumulated event at EOF is discarded,
// as the processing model requires.
func (d *decoder) next() (Event, error) {
	var (
		data      strings.Builder
		eventType string
		hasData   bool
		retry     time.Duration
	)

	for d.s.Scan() {
		line := d.s.Text()
		if d.firstLine {
			// A leading byte-order mark is ignored.
			line = strings.TrimPrefix(line, "\uFEFF")
			d.firstLine = false
		}

		if line == "" {
			// Blank line: dispatch if any data was accumulated.
			if !hasData {
				eventType = ""
				continue
			}
			ev := Event{
				ID:    d.lastID,
				Type:  eventType,
				Data:  data.String(),
				Retry: retry,
			}
			if ev.Type == "" {
				ev.Type = DefaultType
			}
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			// Comment line, often used as a keepalive.
			continue
		}

		name, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch name {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			// IDs containing NUL are ignored per the processing model.
			if !strings.ContainsRune(value, '\x00') {
				d.lastID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
				retry = time.Duration(ms) * time.Millisecond
			}
			// Non-integer retry values are ignored.
		default:
			// Unknown field: ignored.
		}
	}

	if err := d.s.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// scanEventLines is a bufio.SplitFunc that splits on LF, CR, or CRLF, the
// three line terminators the event-stream format permits.
func scanEventLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// CR: consume a following LF if present.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// CR at buffer end: wait to see whether an LF follows.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
