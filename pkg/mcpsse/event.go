// Package mcpsse implements the Server-Sent Events wire format used by the
// Streamable HTTP transport (pkg/mcphttp, pkg/mcphttpclient) to carry
// JSON-RPC messages on a response stream that may deliver more than one
// message before a terminal response.
package mcpsse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Event is a single decoded SSE event: zero or more repeated data: lines
// joined by "\n", plus the optional event/id/retry fields.
type Event struct {
	ID    string
	Event string
	Retry string
	Data  string
}

// EncodeEvent serialises an Event into its wire form, ready to be written
// directly to a response body. Every field is emitted field-line by
// field-line, multi-line Data is split across repeated "data:" lines per
// the SSE spec, and the event is terminated by a blank line.
func EncodeEvent(ev Event) []byte {
	var buf bytes.Buffer
	if ev.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(ev.ID)
		buf.WriteByte('\n')
	}
	if ev.Event != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Event)
		buf.WriteByte('\n')
	}
	if ev.Retry != "" {
		buf.WriteString("retry: ")
		buf.WriteString(ev.Retry)
		buf.WriteByte('\n')
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// EncodeMessage is a convenience wrapper that builds a "message" event
// carrying a single JSON-RPC payload, tagging it with a monotonic event id
// via EventIDCounter. This is the shape every JSON-RPC message sent over an
// SSE stream in this runtime uses.
func EncodeMessage(id string, payload []byte) []byte {
	return EncodeEvent(Event{ID: id, Event: "message", Data: string(payload)})
}

// EncodeComment writes an SSE comment line (a keep-alive ping), per the
// ":"-prefixed comment convention.
func EncodeComment(text string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(':')
	buf.WriteString(text)
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	return buf.Bytes()
}

// EventIDCounter produces monotonic event ids (pkg/mcphttp keeps one
// counter per session, shared by all of that session's streams), as in
// SPEC_FULL.md's "resumability event ids are emitted, not interpreted"
// supplement: ids exist on the wire so a future resumption mechanism could
// use them, but nothing in this runtime reads Last-Event-ID back into an
// offset.
type EventIDCounter struct {
	n uint64
}

// Next returns the next event id as a decimal string.
func (c *EventIDCounter) Next() string {
	c.n++
	return strconv.FormatUint(c.n, 10)
}
