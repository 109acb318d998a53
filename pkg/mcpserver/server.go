package mcpserver

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

// State is the server-role lifecycle, per SPEC §4.9.
type State int

const (
	StateWaiting State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Logger mirrors go-server's logger.Logger call convention, matching
// pkg/mcpclient.Logger so both session engines share one ambient-logging
// shape.
type Logger interface {
	Print(ctx context.Context, args ...any)
	Printf(ctx context.Context, format string, args ...any)
}

// DefaultRequestTimeout bounds how long the server waits for a client's
// answer to a server-initiated request (sampling/createMessage,
// roots/list, elicitation/create).
const DefaultRequestTimeout = 60 * time.Second

type pendingEntry struct {
	waiter chan pendingResult
	timer  *time.Timer
}

type pendingResult struct {
	result json.RawMessage
	err    *mcpschema.WireError
	local  error
}

// Server is the server-role MCP session engine, bound to a single
// transport and a single user-supplied handler value.
type Server struct {
	info         mcpschema.Implementation
	instructions string
	handler      any
	caps         mcpschema.ServerCapabilities
	logger       Logger
	tracer       trace.Tracer
	transport    mcptransport.Transport

	mu          sync.Mutex
	state       State
	clientInfo  mcpschema.Implementation
	clientCaps  mcpschema.ClientCapabilities
	logLevel    mcpschema.LogLevel
	logLevelSet bool

	nextID  int64
	pending map[string]*pendingEntry

	tasks sync.WaitGroup // tracks in-flight async tool tasks
}

var _ mcptransport.Owner = (*Server)(nil)

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger installs a Logger for non-wire-visible diagnostics.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithInstructions sets the optional instructions string returned in the
// initialize response.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// WithTracer installs an OpenTelemetry tracer; a span is opened per
// incoming request (handleRequest) and per async tool-execution task
// (dispatchAsync), matching the teacher's own tracer-field wiring in
// cmd/llm/main.go, generalized to actually start spans around this
// runtime's RPC and tool-execution boundaries. A nil tracer (the default)
// disables tracing entirely.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// startSpan opens a span named name if a tracer is installed, otherwise
// returns ctx unchanged and a no-op end function.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if s.tracer == nil {
		return ctx, func() {}
	}
	spanCtx, span := s.tracer.Start(ctx, name)
	return spanCtx, func() { span.End() }
}

// New constructs a server session bound to transport and handler. handler
// is inspected once, at construction, against the optional interfaces in
// handlers.go to build the advertised capability set.
func New(transport mcptransport.Transport, info mcpschema.Implementation, handler any, opts ...Option) *Server {
	s := &Server{
		info:      info,
		handler:   handler,
		caps:      detectCapabilities(handler),
		transport: transport,
		state:     StateWaiting,
		pending:   make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientInfo returns the peer info captured during the handshake.
func (s *Server) ClientInfo() mcpschema.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// Close shuts the session down. Idempotent.
func (s *Server) Close() error {
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

// Receive routes one decoded inbound message. Requests are dispatched onto
// their own goroutine so a slow or async handler never blocks the
// transport's read loop; responses to server-initiated requests resolve
// the session's own pending table; notifications are routed by method.
func (s *Server) Receive(msg mcpschema.Message) {
	switch m := msg.(type) {
	case mcpschema.Request:
		go s.handleRequest(m)
	case mcpschema.Response:
		s.resolve(m.ID, m.Result, m.Error)
	case mcpschema.Notification:
		s.handleNotification(m)
	}
}

// ReceiveInvalid is called for a line/event that failed classification.
// Per SPEC §7, a message with no recoverable id cannot be answered with a
// parse-error Response, so it is only logged.
func (s *Server) ReceiveInvalid(err error) {
	s.logf(context.Background(), "mcpserver: dropping unclassifiable message: %v", err)
}

// Closed fails every server-initiated request still awaiting an answer
// with transport_closed and moves the session to StateClosed.
func (s *Server) Closed(err error) {
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
// request routing

func (s *Server) handleRequest(req mcpschema.Request) {
	ctx, end := s.startSpan(context.Background(), "mcpserver."+req.Method)
	defer end()

	if req.Method == mcpschema.MethodPing {
		s.reply(ctx, req.ID, map[string]any{}, nil)
		return
	}

	state := s.State()

	if req.Method == mcpschema.MethodInitialize {
		if state != StateWaiting {
			s.reply(ctx, req.ID, nil, mcpschema.NewWireError(mcpschema.CodeInvalidRequest, "already initialized"))
			return
		}
		s.handleInitialize(ctx, req)
		return
	}

	if state != StateReady {
		s.reply(ctx, req.ID, nil, mcpschema.NewWireError(mcpschema.CodeInvalidRequest, "not initialized"))
		return
	}

	result, wireErr, handled := s.dispatch(ctx, req)
	if !handled {
		s.reply(ctx, req.ID, nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
		return
	}
	if wireErr != nil {
		s.reply(ctx, req.ID, nil, wireErr)
		return
	}
	if result == nil {
		// An async dispatch (tools/call via AsyncToolCaller) returns nil,
		// nil, true and sends its own terminal response once the spawned
		// task completes; no reply here.
		return
	}
	s.reply(ctx, req.ID, result, nil)
}

// dispatch is the static method routing table, per SPEC §4.9. It returns
// (result, wireErr, handled); handled=false means "method not found".
func (s *Server) dispatch(ctx context.Context, req mcpschema.Request) (any, *mcpschema.WireError, bool) {
	switch req.Method {
	case mcpschema.MethodListTools:
		lister, ok := s.handler.(ToolLister)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "tools not supported"), true
		}
		var params mcpschema.ListToolsParams
		_ = mcpschema.DecodeInto(req.Params, &params)
		result, err := lister.ListTools(ctx, params.Cursor)
		return result, asWireError(err), true

	case mcpschema.MethodCallTool:
		return s.dispatchCallTool(ctx, req)

	case mcpschema.MethodListResources:
		lister, ok := s.handler.(ResourceLister)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "resources not supported"), true
		}
		var params mcpschema.PaginatedParams
		_ = mcpschema.DecodeInto(req.Params, &params)
		result, err := lister.ListResources(ctx, params.Cursor)
		return result, asWireError(err), true

	case mcpschema.MethodListResourceTemplates:
		lister, ok := s.handler.(ResourceTemplateLister)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "resources/templates/list not supported"), true
		}
		var params mcpschema.PaginatedParams
		_ = mcpschema.DecodeInto(req.Params, &params)
		result, err := lister.ListResourceTemplates(ctx, params.Cursor)
		return result, asWireError(err), true

	case mcpschema.MethodReadResource:
		reader, ok := s.handler.(ResourceReader)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "resources/read not supported"), true
		}
		var params mcpschema.ReadResourceParams
		if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
			return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
		}
		result, err := reader.ReadResource(ctx, params.URI)
		return result, asWireError(err), true

	case mcpschema.MethodSubscribeResource:
		sub, ok := s.handler.(ResourceSubscriber)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "resources/subscribe not supported"), true
		}
		var params mcpschema.SubscribeResourceParams
		if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
			return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
		}
		err := sub.SubscribeResource(ctx, params.URI)
		return map[string]any{}, asWireError(err), true

	case mcpschema.MethodUnsubscribeResource:
		sub, ok := s.handler.(ResourceSubscriber)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "resources/unsubscribe not supported"), true
		}
		var params mcpschema.SubscribeResourceParams
		if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
			return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
		}
		err := sub.UnsubscribeResource(ctx, params.URI)
		return map[string]any{}, asWireError(err), true

	case mcpschema.MethodListPrompts:
		lister, ok := s.handler.(PromptLister)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "prompts not supported"), true
		}
		var params mcpschema.PaginatedParams
		_ = mcpschema.DecodeInto(req.Params, &params)
		result, err := lister.ListPrompts(ctx, params.Cursor)
		return result, asWireError(err), true

	case mcpschema.MethodGetPrompt:
		getter, ok := s.handler.(PromptGetter)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "prompts/get not supported"), true
		}
		var params mcpschema.GetPromptParams
		if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
			return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
		}
		result, err := getter.GetPrompt(ctx, params.Name, params.Arguments)
		return result, asWireError(err), true

	case mcpschema.MethodSetLogLevel:
		var params mcpschema.SetLevelParams
		if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
			return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
		}
		s.mu.Lock()
		s.logLevel = params.Level
		s.logLevelSet = true
		s.mu.Unlock()
		if setter, ok := s.handler.(LogLevelSetter); ok {
			if err := setter.SetLogLevel(ctx, params.Level); err != nil {
				return nil, asWireError(err), true
			}
		}
		return map[string]any{}, nil, true

	case mcpschema.MethodComplete:
		completer, ok := s.handler.(Completer)
		if !ok {
			return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "completion not supported"), true
		}
		var params mcpschema.CompleteParams
		if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
			return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
		}
		result, err := completer.Complete(ctx, params)
		return result, asWireError(err), true

	default:
		return nil, nil, false
	}
}

func (s *Server) handleNotification(n mcpschema.Notification) {
	switch n.Method {
	case mcpschema.NotificationInitialized:
		s.mu.Lock()
		if s.state == StateWaiting {
			s.state = StateReady
		}
		s.mu.Unlock()
	case mcpschema.NotificationCancelled:
		// Advisory only, per SPEC §5: logged, task is not terminated.
		s.logf(context.Background(), "mcpserver: received cancellation notice: %s", string(n.Params))
	default:
		// Unrecognised client-to-server notifications are silently dropped.
	}
}

func (s *Server) handleInitialize(ctx context.Context, req mcpschema.Request) {
	var params mcpschema.InitializeParams
	if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
		s.reply(ctx, req.ID, nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()))
		return
	}

	s.mu.Lock()
	s.clientInfo = params.ClientInfo
	s.clientCaps = params.Capabilities
	s.mu.Unlock()

	// This runtime supports exactly one protocol version, so the "prefer
	// identical, else our own" negotiation rule always resolves to it.
	result := mcpschema.InitializeResult{
		ProtocolVersion: mcpschema.ProtocolVersion,
		Capabilities:    s.caps,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}
	s.reply(ctx, req.ID, result, nil)
}

func (s *Server) reply(ctx context.Context, id mcpschema.ID, result any, wireErr *mcpschema.WireError) {
	if wireErr != nil {
		_ = s.transport.Send(ctx, mcpschema.Response{ID: id, Error: wireErr})
		return
	}
	encoded, err := mcpschema.EncodeParams(result)
	if err != nil {
		_ = s.transport.Send(ctx, mcpschema.Response{ID: id, Error: mcpschema.NewWireError(mcpschema.CodeInternalError, err.Error())})
		return
	}
	_ = s.transport.Send(ctx, mcpschema.Response{ID: id, Result: encoded})
}

func asWireError(err error) *mcpschema.WireError {
	if err == nil {
		return nil
	}
	if wireErr, ok := err.(*mcpschema.WireError); ok {
		return wireErr
	}
	return mcpschema.NewWireError(mcpschema.CodeInternalError, err.Error())
}

func (s *Server) logf(ctx context.Context, format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(ctx, format, args...)
}

// Wait blocks until every async tool task spawned by this session has
// completed. Used by cmd/mcp-server for a clean shutdown.
func (s *Server) Wait() {
	s.tasks.Wait()
}
