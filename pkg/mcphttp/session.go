// Package mcphttp implements the server-side Streamable HTTP transport: a
// per-session transport that bridges HTTP requests to a session engine
// (pkg/mcpserver.Server), and a gorilla/mux dispatcher that routes
// POST/GET/DELETE onto a registry of those sessions.
package mcphttp

import (
	"context"
	"sync"
	"time"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcpsse"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// DefaultStreamTimeout bounds how long a pending entry waits for the
// session engine to produce a terminal response before the HTTP handler
// gives up and the connection is torn down.
const DefaultStreamTimeout = 60 * time.Second

type disposition int

const (
	dispositionSync disposition = iota
	dispositionStream
)

// pendingEntry is the HTTP-side half of the "pending-request entry" data
// model in SPEC §3: keyed by outgoing id, a tagged union of a single sync
// waiter or a stream endpoint.
type pendingEntry struct {
	disposition disposition
	syncCh      chan []byte
	stream      *sseStream
	timer       *time.Timer
}

// sseStream is the per-request SSE frame channel a POST handler in SSE mode
// drains until it sees the terminal frame.
type sseStream struct {
	frames chan frame
	once   sync.Once
}

type frame struct {
	data []byte
	done bool
}

func newSSEStream() *sseStream {
	return &sseStream{frames: make(chan frame, 16)}
}

func (s *sseStream) push(data []byte, done bool) {
	defer func() { recover() }() // closed stream: handler already gave up
	s.frames <- frame{data: data, done: done}
	if done {
		s.closeOnce()
	}
}

func (s *sseStream) closeOnce() {
	s.once.Do(func() { close(s.frames) })
}

// SessionTransport is one live MCP session's HTTP-side transport, bound to
// exactly one mcpserver.Server (via mcptransport.Owner). It implements
// mcptransport.Transport and mcptransport.StreamRegistrar.
type SessionTransport struct {
	id    string
	owner mcptransport.Owner

	mu      sync.Mutex
	pending map[string]*pendingEntry
	ids     mcpsse.EventIDCounter
	closed  bool

	listen *sseStream // bound GET "listen" stream, if one is open
}

var _ mcptransport.Transport = (*SessionTransport)(nil)
var _ mcptransport.StreamRegistrar = (*SessionTransport)(nil)

// NewSessionTransport constructs a transport for a freshly registered
// session id. Bind must be called once the owning mcpserver.Server exists,
// since the Server needs this transport and this transport needs the
// Server as its Owner (classic construction cycle, resolved the same way
// pkg/mcphttpclient's Transport resolves it: construct, then Bind).
func NewSessionTransport(id string) *SessionTransport {
	return &SessionTransport{id: id, pending: make(map[string]*pendingEntry)}
}

func (t *SessionTransport) Bind(owner mcptransport.Owner) {
	t.owner = owner
}

// DeliverSync handles one decoded inbound message in JSON mode: Requests
// register a sync pending entry and the call blocks until Send produces
// the matching Response; Notifications and Responses are delivered and
// return immediately ("accepted").
func (t *SessionTransport) DeliverSync(ctx context.Context, msg mcpschema.Message) (result []byte, accepted bool, err error) {
	req, isRequest := msg.(mcpschema.Request)
	if !isRequest {
		t.owner.Receive(msg)
		return nil, true, nil
	}

	key := req.ID.String()
	entry := &pendingEntry{disposition: dispositionSync, syncCh: make(chan []byte, 1)}
	t.registerPending(key, entry)

	t.owner.Receive(msg)

	select {
	case data := <-entry.syncCh:
		return data, false, nil
	case <-ctx.Done():
		t.removePending(key)
		return nil, false, ctx.Err()
	}
}

// DeliverStream handles one decoded inbound Request in SSE mode: it
// registers a stream pending entry up front (the caller has already
// started writing the chunked response) and returns the stream's frame
// channel for the HTTP handler to drain.
func (t *SessionTransport) DeliverStream(req mcpschema.Request) *sseStream {
	stream := newSSEStream()
	t.registerPending(req.ID.String(), &pendingEntry{disposition: dispositionStream, stream: stream})
	t.owner.Receive(req)
	return stream
}

func (t *SessionTransport) registerPending(key string, entry *pendingEntry) {
	entry.timer = time.AfterFunc(DefaultStreamTimeout, func() {
		t.mu.Lock()
		e, ok := t.pending[key]
		if ok {
			delete(t.pending, key)
		}
		t.mu.Unlock()
		if !ok {
			return
		}
		switch e.disposition {
		case dispositionSync:
			select {
			case e.syncCh <- nil:
			default:
			}
		case dispositionStream:
			e.stream.push(nil, true)
		}
	})
	t.mu.Lock()
	t.pending[key] = entry
	t.mu.Unlock()
}

func (t *SessionTransport) removePending(key string) {
	t.mu.Lock()
	entry, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
}

// RegisterStream reports whether a stream is already bound for requestID —
// in this transport a stream pending entry is always created up front by
// DeliverStream, so this is a lookup, not a registration.
func (t *SessionTransport) RegisterStream(requestID mcpschema.ID) bool {
	key := requestID.String()
	t.mu.Lock()
	entry, ok := t.pending[key]
	t.mu.Unlock()
	return ok && entry.disposition == dispositionStream
}

// Send routes one outgoing message per SPEC §4.6:
//  1. A Response resolves the pending entry for its own id (sync waiter or
//     terminal stream frame), then removes it.
//  2. A Notification or server-initiated Request tagged with
//     opts.RelatedRequestID routes onto that id's stream if one exists and
//     is in stream disposition; otherwise it is dropped (no route).
func (t *SessionTransport) Send(_ context.Context, msg mcpschema.Message, opts ...mcptransport.SendOpt) error {
	encoded, err := mcpschema.Encode(msg)
	if err != nil {
		return err
	}

	if resp, ok := msg.(mcpschema.Response); ok {
		key := resp.ID.String()
		t.mu.Lock()
		entry, found := t.pending[key]
		if found {
			delete(t.pending, key)
		}
		t.mu.Unlock()
		if !found {
			return nil // late or duplicate response: nothing to route to
		}
		entry.timer.Stop()
		switch entry.disposition {
		case dispositionSync:
			select {
			case entry.syncCh <- encoded:
			default:
			}
		case dispositionStream:
			id := t.ids.Next()
			entry.stream.push(mcpsse.EncodeMessage(id, encoded), true)
		}
		return nil
	}

	o := mcptransport.ApplySendOpts(opts...)
	if !o.RelatedRequestID.IsValid() {
		return t.sendUnbound(encoded)
	}

	key := o.RelatedRequestID.String()
	t.mu.Lock()
	entry, found := t.pending[key]
	t.mu.Unlock()
	if !found || entry.disposition != dispositionStream {
		// Server-initiated traffic with no bound stream has no route in
		// this transport and is dropped. This transport has no logger and
		// Send returns nil, so the drop is not logged anywhere.
		return nil
	}
	id := t.ids.Next()
	entry.stream.push(mcpsse.EncodeMessage(id, encoded), false)
	return nil
}

// sendUnbound routes a message with no related request id onto the GET
// "listen" stream, if one is open; otherwise it is dropped.
func (t *SessionTransport) sendUnbound(encoded []byte) error {
	t.mu.Lock()
	listen := t.listen
	t.mu.Unlock()
	if listen == nil {
		return nil
	}
	id := t.ids.Next()
	listen.push(mcpsse.EncodeMessage(id, encoded), false)
	return nil
}

// bindListen installs the GET idle SSE stream.
func (t *SessionTransport) bindListen(stream *sseStream) {
	t.mu.Lock()
	t.listen = stream
	t.mu.Unlock()
}

func (t *SessionTransport) unbindListen() {
	t.mu.Lock()
	t.listen = nil
	t.mu.Unlock()
}

// Close terminates the transport and notifies the owner. Every
// still-pending stream is ended without a further event (no error event is
// written), and every sync waiter is released with no data, so DeliverSync
// returns neither a body nor an error for it.
func (t *SessionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]*pendingEntry)
	listen := t.listen
	t.listen = nil
	t.mu.Unlock()

	for _, entry := range pending {
		entry.timer.Stop()
		switch entry.disposition {
		case dispositionSync:
			select {
			case entry.syncCh <- nil:
			default:
			}
		case dispositionStream:
			entry.stream.push(nil, true)
		}
	}
	if listen != nil {
		listen.closeOnce()
	}
	if t.owner != nil {
		t.owner.Closed(nil)
	}
	return nil
}
