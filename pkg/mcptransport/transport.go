// Package mcptransport defines the contract that every concrete transport
// (stdio, Streamable HTTP, in-process) implements so that the client and
// server session engines in pkg/mcpclient and pkg/mcpserver never know
// which one they are driving.
package mcptransport

import (
	"context"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

// Owner is the session-side callback surface a Transport delivers decoded
// messages to. A session engine implements Owner and passes itself to a
// Transport at construction time.
//
// Receive is called once per decoded wire message, from whatever goroutine
// the transport uses to read (its own reader loop for stdio, an HTTP
// handler goroutine for the server-side HTTP session). Owner implementations
// must not block Receive for longer than it takes to route the message
// into their own correlation tables; slow handler work is dispatched onto
// its own goroutine by the owner, never run inline in Receive.
type Owner interface {
	Receive(msg mcpschema.Message)

	// ReceiveInvalid is called instead of Receive when a transport decodes
	// a complete wire unit (a line, an SSE event) that fails
	// mcpschema.Classify — e.g. malformed JSON or a shape matching none of
	// Request/Response/Notification. The owner decides whether/how to
	// report this (pkg/mcpserver logs it and sends no Response, since no
	// request id is recovered from such a unit).
	ReceiveInvalid(err error)

	// Closed is called exactly once, when the transport has permanently
	// stopped (EOF, read error, or explicit Close). err is nil on a clean
	// shutdown.
	Closed(err error)
}

// SendOptions configures a single outgoing Send call.
type SendOptions struct {
	// RelatedRequestID tags an outgoing server-initiated message (a
	// request or notification originating from a tool execution) with the
	// client request whose response stream it should be delivered on. Zero
	// value means "no particular stream" — route on the transport's
	// general/unbound channel if one exists.
	RelatedRequestID mcpschema.ID
}

// SendOpt mutates a SendOptions; used with the functional-options pattern.
type SendOpt func(*SendOptions)

// WithRelatedRequestID ties an outgoing message to the stream serving the
// given request id, per §4.10's "related request id" tagging rule.
func WithRelatedRequestID(id mcpschema.ID) SendOpt {
	return func(o *SendOptions) {
		o.RelatedRequestID = id
	}
}

func ApplySendOpts(opts ...SendOpt) SendOptions {
	var o SendOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Transport is the contract a concrete wire mechanism implements. A
// Transport is constructed bound to an Owner and is usable only once: after
// Close, or after Owner.Closed has fired, a Transport is dead and a new one
// must be constructed.
type Transport interface {
	// Send writes a single message out. It is safe to call concurrently
	// with itself and with Close.
	Send(ctx context.Context, msg mcpschema.Message, opts ...SendOpt) error

	// Close shuts the transport down. It is idempotent: a second Close
	// returns nil without side effects. Close does not wait for
	// Owner.Closed to have been observed by the caller; it only guarantees
	// that it will eventually fire (or has already fired).
	Close() error
}

// StreamRegistrar is implemented by transports that can report a delivery
// route for messages related to a specific request id before that
// request's handler has produced anything to send. The HTTP session
// transport in pkg/mcphttp is the only implementation: in SSE mode it
// creates that route when the request arrives, so tool-execution traffic
// emitted before the first Send always has somewhere to go. Transports
// that don't stream (stdio) do not implement it; callers type-assert for
// it and treat its absence as "no pre-registration available, Send will
// still route correctly once it has an id to route on."
type StreamRegistrar interface {
	// RegisterStream reports whether a delivery route exists for msgs
	// tagged with requestID via WithRelatedRequestID; pkg/mcphttp's
	// implementation only looks up the route created on arrival. false
	// means the transport cannot stream for this request (e.g. the HTTP
	// session transport in plain-JSON mode) and callers
	// should not rely on intermediate messages being delivered for this
	// request id — only a final, synchronously-returned response will be.
	RegisterStream(requestID mcpschema.ID) bool
}
