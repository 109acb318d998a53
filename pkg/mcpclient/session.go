// Package mcpclient implements the client-role MCP session engine: the
// initialize/initialized handshake, outgoing request correlation with
// timeouts, notification dispatch, and routing of server-initiated
// requests (sampling, elicitation, roots) to caller-supplied handlers. It
// is transport-agnostic — it is driven by any mcptransport.Transport.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// State is the client-role lifecycle, per SPEC §4.8.
type State int

const (
	StateDisconnected State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RequestHandler answers a single server-initiated request method
// (sampling/createMessage, roots/list, elicitation/create). It returns the
// result to encode, or a WireError to send back instead.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, *mcpschema.WireError)

// NotificationSink receives every inbound notification the session isn't
// handling internally (progress, log messages, list-changed, resource
// updates). A nil sink silently drops notifications, per SPEC §4.8.
type NotificationSink func(method string, params json.RawMessage)

// Logger is the minimal structured-logging surface this package depends
// on, shaped after go-server's logger.Logger so the teacher's
// `ctx.log.Print(ctx.ctx, ...)` call convention carries over unchanged. A
// nil Logger is valid and discards everything.
type Logger interface {
	Print(ctx context.Context, args ...any)
	Printf(ctx context.Context, format string, args ...any)
}

// DefaultTimeout is the per-request timeout applied to every request this
// session sends.
const DefaultTimeout = 30 * time.Second

type pendingEntry struct {
	waiter chan pendingResult
	timer  *time.Timer
}

type pendingResult struct {
	result json.RawMessage
	err    *mcpschema.WireError
	local  error
}

// Session is the client-role MCP session engine.
type Session struct {
	transport mcptransport.Transport
	logger    Logger
	tracer    trace.Tracer

	clientInfo   mcpschema.Implementation
	declaredCaps mcpschema.ClientCapabilities

	mu    sync.Mutex
	state State

	serverInfo mcpschema.Implementation
	serverCaps mcpschema.ServerCapabilities

	nextID  int64
	pending map[string]*pendingEntry

	notifySink NotificationSink
	handlers   map[string]RequestHandler

	toolsMu sync.Mutex
	tools   map[string]*mcpschema.Tool // cached by ListTools, used for pre-flight validation
}

var _ mcptransport.Owner = (*Session)(nil)

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger installs a Logger used for non-wire-visible diagnostics.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithTracer installs an OpenTelemetry tracer; a span is opened around
// every outgoing request (call), mirroring pkg/mcpserver.WithTracer on the
// other side of the session. A nil tracer (the default) disables tracing.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) { s.tracer = tracer }
}

// WithNotificationSink installs the callback that receives inbound
// notifications (progress, log messages, *-list_changed, resources/updated).
func WithNotificationSink(fn NotificationSink) Option {
	return func(s *Session) { s.notifySink = fn }
}

// WithSamplingHandler registers a handler for sampling/createMessage and
// advertises the `sampling` capability, per SPEC §4.8's auto-advertisement
// rule.
func WithSamplingHandler(fn RequestHandler) Option {
	return func(s *Session) {
		s.handlers[mcpschema.MethodCreateMessage] = fn
		s.declaredCaps.Sampling = map[string]any{}
	}
}

// WithElicitationHandler registers a handler for elicitation/create and
// advertises `elicitation` with its `form`/`url` sub-features.
func WithElicitationHandler(fn RequestHandler) Option {
	return func(s *Session) {
		s.handlers[mcpschema.MethodElicit] = fn
		s.declaredCaps.Elicitation = map[string]any{"form": true, "url": true}
	}
}

// WithRootsHandler registers a handler for roots/list and advertises
// `roots` with `listChanged`.
func WithRootsHandler(fn RequestHandler) Option {
	return func(s *Session) {
		s.handlers[mcpschema.MethodListRoots] = fn
		s.declaredCaps.Roots = &mcpschema.RootsCapability{ListChanged: true}
	}
}

// New constructs a client session bound to transport. Connect must be
// called before any other API (besides Ping and Close) succeeds.
func New(transport mcptransport.Transport, clientInfo mcpschema.Implementation, opts ...Option) *Session {
	s := &Session{
		transport:  transport,
		clientInfo: clientInfo,
		state:      StateDisconnected,
		pending:    make(map[string]*pendingEntry),
		handlers:   make(map[string]RequestHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerInfo returns the peer info captured during the handshake. Valid
// only once State() is StateReady or later observed as ready.
func (s *Session) ServerInfo() mcpschema.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ServerCapabilities returns the peer capability set captured during the
// handshake.
func (s *Session) ServerCapabilities() mcpschema.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverCaps
}

// Connect performs the initialize/initialized handshake. It is idempotent
// once the session reaches StateReady.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return mcpschema.NewLocalError(mcpschema.LocalKindAlreadyClosed)
	}
	if s.state == StateInitializing {
		s.mu.Unlock()
		return mcpschema.NewLocalError(mcpschema.LocalKindNotReady).Withf("initialize already in flight")
	}
	s.state = StateInitializing
	s.mu.Unlock()

	params := mcpschema.InitializeParams{
		ProtocolVersion: mcpschema.ProtocolVersion,
		Capabilities:    s.declaredCaps,
		ClientInfo:      s.clientInfo,
	}

	var result mcpschema.InitializeResult
	if err := s.call(ctx, mcpschema.MethodInitialize, params, DefaultTimeout, &result); err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.serverCaps = result.Capabilities
	s.state = StateReady
	s.mu.Unlock()

	return s.notify(ctx, mcpschema.NotificationInitialized, nil)
}

// Close shuts the session down: closes the transport and fails every
// pending caller with transport_closed. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()
	return s.transport.Close()
}

///////////////////////////////////////////////////////////////////////////
// mcptransport.Owner

// Receive handles one decoded inbound message. It is called from the
// transport's own goroutine; per mcptransport.Owner's contract it must not
// block for long, so request handlers are dispatched onto their own
// goroutine.
func (s *Session) Receive(msg mcpschema.Message) {
	switch m := msg.(type) {
	case mcpschema.Response:
		s.resolve(m.ID, m.Result, m.Error)
	case mcpschema.Notification:
		s.dispatchNotification(m)
	case mcpschema.Request:
		go s.handleServerRequest(m)
	}
}

// ReceiveInvalid logs a line/event that failed classification. There is no
// id to respond to (a malformed inbound message can't be nursed back into
// a correlatable Response), so per SPEC §7 this is logged and dropped.
func (s *Session) ReceiveInvalid(err error) {
	s.logf(context.Background(), "mcpclient: dropping unclassifiable message: %v", err)
}

// Closed fails every still-pending caller with transport_closed and moves
// the session to StateClosed.
func (s *Session) Closed(err error) {
	s.mu.Lock()
	s.state = StateClosed
	pending := s.pending
	s.pending = make(map[string]*pendingEntry)
	s.mu.Unlock()

	local := mcpschema.NewLocalError(mcpschema.LocalKindTransportClosed)
	if err != nil {
		local = local.Withf("%v", err)
	}
	for _, entry := range pending {
		entry.timer.Stop()
		select {
		case entry.waiter <- pendingResult{local: local}:
		default:
		}
	}
}

///////////////////////////////////////////////////////////////////////////
// internals

func (s *Session) nextRequestID() mcpschema.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return mcpschema.NewID(s.nextID)
}

// call sends a request and blocks until its response, timeout, or the
// transport closing resolves it, decoding a successful result into dest
// (which may be nil to discard it).
func (s *Session) call(ctx context.Context, method string, params any, timeout time.Duration, dest any) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "mcpclient."+method)
		defer span.End()
	}

	id := s.nextRequestID()

	encodedParams, err := mcpschema.EncodeParams(params)
	if err != nil {
		return err
	}

	entry := &pendingEntry{waiter: make(chan pendingResult, 1)}
	key := id.String()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return mcpschema.NewLocalError(mcpschema.LocalKindAlreadyClosed)
	}
	s.pending[key] = entry
	s.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() {
		s.mu.Lock()
		_, stillPending := s.pending[key]
		delete(s.pending, key)
		s.mu.Unlock()
		if !stillPending {
			return
		}
		if method == mcpschema.MethodInitialize {
			s.mu.Lock()
			if s.state == StateInitializing {
				s.state = StateDisconnected
			}
			s.mu.Unlock()
		}
		select {
		case entry.waiter <- pendingResult{local: mcpschema.NewLocalError(mcpschema.LocalKindTimeout)}:
		default:
		}
	})

	if err := s.transport.Send(ctx, mcpschema.Request{ID: id, Method: method, Params: encodedParams}); err != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		entry.timer.Stop()
		return err
	}

	select {
	case res := <-entry.waiter:
		if res.local != nil {
			return res.local
		}
		if res.err != nil {
			return res.err
		}
		if dest != nil {
			return mcpschema.DecodeInto(res.result, dest)
		}
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		entry.timer.Stop()
		return ctx.Err()
	}
}

// notify sends a fire-and-forget Notification.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	encodedParams, err := mcpschema.EncodeParams(params)
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, mcpschema.Notification{Method: method, Params: encodedParams})
}

func (s *Session) resolve(id mcpschema.ID, result json.RawMessage, wireErr *mcpschema.WireError) {
	key := id.String()
	s.mu.Lock()
	entry, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		s.logf(context.Background(), "mcpclient: response for unknown or already-resolved id %s dropped", key)
		return
	}
	entry.timer.Stop()
	select {
	case entry.waiter <- pendingResult{result: result, err: wireErr}:
	default:
	}
}

func (s *Session) dispatchNotification(n mcpschema.Notification) {
	s.mu.Lock()
	sink := s.notifySink
	s.mu.Unlock()
	if sink != nil {
		sink(n.Method, n.Params)
	}
}

func (s *Session) handleServerRequest(req mcpschema.Request) {
	s.mu.Lock()
	fn, ok := s.handlers[req.Method]
	s.mu.Unlock()

	ctx := context.Background()
	if !ok {
		wireErr := mcpschema.NewWireError(mcpschema.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		_ = s.transport.Send(ctx, mcpschema.Response{ID: req.ID, Error: wireErr})
		return
	}

	result, wireErr := fn(ctx, req.Params)
	if wireErr != nil {
		_ = s.transport.Send(ctx, mcpschema.Response{ID: req.ID, Error: wireErr})
		return
	}
	encoded, err := mcpschema.EncodeParams(result)
	if err != nil {
		_ = s.transport.Send(ctx, mcpschema.Response{ID: req.ID, Error: mcpschema.NewWireError(mcpschema.CodeInternalError, err.Error())})
		return
	}
	_ = s.transport.Send(ctx, mcpschema.Response{ID: req.ID, Result: encoded})
}

func (s *Session) logf(ctx context.Context, format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(ctx, format, args...)
}

// Cancel emits notifications/cancelled for requestID. Per SPEC §4.8 this
// is advisory only: it does not locally abort the pending waiter, which is
// still resolved by the eventual response or its timeout.
func (s *Session) Cancel(ctx context.Context, requestID mcpschema.ID, reason string) error {
	return s.notify(ctx, mcpschema.NotificationCancelled, mcpschema.CancelledParams{RequestID: requestID, Reason: reason})
}
