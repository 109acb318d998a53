package mcphttp

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcpserver"
)

// ResponseMode selects how the dispatcher answers a POST request, per
// SPEC §4.7.
type ResponseMode int

const (
	// ModeSSE opens a chunked text/event-stream response for every POST
	// carrying a request, even when the handler answers synchronously
	// (notifications and responses are still answered 202) — this is the default,
	// matching the spec's own "SSE mode (default)" wording.
	ModeSSE ResponseMode = iota
	// ModeJSON always answers with a single application/json body,
	// trading the ability to interleave intermediate notifications for
	// simplicity. An AsyncToolCaller handler used under ModeJSON still
	// works, but the client observes only the terminal response.
	ModeJSON
)

// Logger mirrors pkg/mcpserver.Logger so the dispatcher can share a logging
// sink with the sessions it creates.
type Logger interface {
	Print(ctx context.Context, args ...any)
	Printf(ctx context.Context, format string, args ...any)
}

// HandlerFactory builds a fresh per-session handler value (the same `any`
// shape pkg/mcpserver.New expects) for a newly initializing session. Most
// deployments return the same stateless handler every time; the factory
// exists so a deployment that needs per-session state (e.g. per-connection
// roots) can build one.
type HandlerFactory func() any

// Dispatcher is the gorilla/mux-routed HTTP entry point for one or more
// concurrent MCP sessions, per SPEC §4.7.
type Dispatcher struct {
	router   *mux.Router
	info     mcpschema.Implementation
	newHandler HandlerFactory
	mode     ResponseMode
	logger   Logger
	tracer   trace.Tracer
	newSessionID func() string

	mu       sync.Mutex
	sessions map[string]*registeredSession
}

type registeredSession struct {
	transport *SessionTransport
	server    *mcpserver.Server
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithMode selects JSON or SSE response mode.
func WithMode(m ResponseMode) Option { return func(d *Dispatcher) { d.mode = m } }

// WithLogger installs a shared Logger for the dispatcher and every session
// it creates.
func WithLogger(l Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithTracer installs an OpenTelemetry tracer shared by every session the
// dispatcher creates; see pkg/mcpserver.WithTracer.
func WithTracer(tracer trace.Tracer) Option { return func(d *Dispatcher) { d.tracer = tracer } }

// WithSessionIDGenerator overrides the default random-UUIDv4 session id
// generator (SPEC §5: "caller-provided pure function").
func WithSessionIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newSessionID = fn }
}

// NewDispatcher builds a Dispatcher serving path (e.g. "/mcp") with
// newHandler invoked once per new session.
func NewDispatcher(path string, info mcpschema.Implementation, newHandler HandlerFactory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		info:         info,
		newHandler:   newHandler,
		mode:         ModeSSE,
		newSessionID: func() string { return uuid.NewString() },
		sessions:     make(map[string]*registeredSession),
	}
	for _, opt := range opts {
		opt(d)
	}

	router := mux.NewRouter()
	router.HandleFunc(path, d.handlePost).Methods(http.MethodPost)
	router.HandleFunc(path, d.handleGet).Methods(http.MethodGet)
	router.HandleFunc(path, d.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc(path, d.handleUnsupported)
	d.router = router
	return d
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

func (d *Dispatcher) handleUnsupported(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, POST, DELETE")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (d *Dispatcher) handlePost(w http.ResponseWriter, r *http.Request) {
	if !isLocalOrigin(r) {
		http.Error(w, "origin not permitted", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, mcpschema.NewWireError(mcpschema.CodeParseError, err.Error()))
		return
	}

	msg, classifyErr := mcpschema.Classify(body)
	if classifyErr != nil {
		writeJSONRPCError(w, http.StatusBadRequest, asWireError(classifyErr))
		return
	}

	req, isRequest := msg.(mcpschema.Request)
	isInit := isRequest && req.Method == mcpschema.MethodInitialize

	var sess *registeredSession
	if isInit {
		sess = d.createSession()
	} else {
		sid := r.Header.Get("Mcp-Session-Id")
		if sid == "" {
			writeJSONRPCError(w, http.StatusBadRequest, mcpschema.NewWireError(mcpschema.CodeInvalidRequest, "missing Mcp-Session-Id"))
			return
		}
		d.mu.Lock()
		sess = d.sessions[sid]
		d.mu.Unlock()
		if sess == nil {
			writeJSONRPCError(w, http.StatusNotFound, mcpschema.NewWireError(mcpschema.CodeInvalidRequest, "unknown or expired session"))
			return
		}
	}

	if isInit {
		w.Header().Set("Mcp-Session-Id", sess.transport.id)
	}

	if d.mode == ModeJSON || !isRequest {
		data, accepted, err := sess.transport.DeliverSync(r.Context(), msg)
		if err != nil {
			writeJSONRPCError(w, http.StatusRequestTimeout, mcpschema.NewWireError(mcpschema.CodeInternalError, err.Error()))
			return
		}
		if accepted {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	d.serveSSE(w, r, sess, req)
}

func (d *Dispatcher) serveSSE(w http.ResponseWriter, r *http.Request, sess *registeredSession, req mcpschema.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONRPCError(w, http.StatusInternalServerError, mcpschema.NewWireError(mcpschema.CodeInternalError, "streaming unsupported"))
		return
	}

	stream := sess.transport.DeliverStream(req)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for f := range stream.frames {
		if f.data != nil {
			_, _ = w.Write(f.data)
			flusher.Flush()
		}
		if f.done {
			break
		}
	}
}

func (d *Dispatcher) handleGet(w http.ResponseWriter, r *http.Request) {
	if !isLocalOrigin(r) {
		http.Error(w, "origin not permitted", http.StatusForbidden)
		return
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "expected Accept: text/event-stream", http.StatusNotAcceptable)
		return
	}
	sid := r.Header.Get("Mcp-Session-Id")
	d.mu.Lock()
	sess := d.sessions[sid]
	d.mu.Unlock()
	if sess == nil {
		http.Error(w, "unknown or expired session", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream := newSSEStream()
	sess.transport.bindListen(stream)
	defer sess.transport.unbindListen()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case f, more := <-stream.frames:
			if !more {
				return
			}
			if f.data != nil {
				_, _ = w.Write(f.data)
				flusher.Flush()
			}
			if f.done {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !isLocalOrigin(r) {
		http.Error(w, "origin not permitted", http.StatusForbidden)
		return
	}
	sid := r.Header.Get("Mcp-Session-Id")
	if sid == "" {
		http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	sess, ok := d.sessions[sid]
	if ok {
		delete(d.sessions, sid)
	}
	d.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or expired session", http.StatusNotFound)
		return
	}
	_ = sess.server.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) createSession() *registeredSession {
	id := d.newSessionID()
	transport := NewSessionTransport(id)
	handler := d.newHandler()

	var opts []mcpserver.Option
	if d.logger != nil {
		opts = append(opts, mcpserver.WithLogger(d.logger))
	}
	if d.tracer != nil {
		opts = append(opts, mcpserver.WithTracer(d.tracer))
	}
	server := mcpserver.New(transport, d.info, handler, opts...)
	transport.Bind(server)

	sess := &registeredSession{transport: transport, server: server}
	d.mu.Lock()
	d.sessions[id] = sess
	d.mu.Unlock()
	return sess
}

// isLocalOrigin implements the DNS-rebinding defense of SPEC §4.7: reject
// requests whose Origin or Host header is not loopback or localhost.
func isLocalOrigin(r *http.Request) bool {
	if origin := r.Header.Get("Origin"); origin != "" {
		if !isLocalHost(origin) {
			return false
		}
	}
	return isLocalHost(r.Host)
}

func isLocalHost(hostOrOrigin string) bool {
	h := hostOrOrigin
	if strings.Contains(h, "://") {
		h = strings.SplitN(h, "://", 2)[1]
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.TrimSuffix(h, "/")
	switch strings.ToLower(h) {
	case "localhost", "127.0.0.1", "::1", "":
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func writeJSONRPCError(w http.ResponseWriter, status int, wireErr *mcpschema.WireError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := mcpschema.Response{Error: wireErr}
	data, err := json.Marshal(struct {
		JSONRPC string               `json:"jsonrpc"`
		Error   *mcpschema.WireError `json:"error"`
	}{JSONRPC: mcpschema.RPCVersion, Error: resp.Error})
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

func asWireError(err error) *mcpschema.WireError {
	if wireErr, ok := err.(*mcpschema.WireError); ok {
		return wireErr
	}
	return mcpschema.NewWireError(mcpschema.CodeInvalidRequest, err.Error())
}

// shutdownTimeout is not referenced: Close below closes every session
// without a deadline.
const shutdownTimeout = 5 * time.Second

// Close terminates every live session's transport. Used for process
// shutdown.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	sessions := make([]*registeredSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.sessions = make(map[string]*registeredSession)
	d.mu.Unlock()

	for _, s := range sessions {
		_ = s.server.Close()
	}
}
