package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

func (s *Server) nextRequestID() mcpschema.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return mcpschema.NewID(s.nextID)
}

// issueRequest sends a server-initiated request (sampling/createMessage,
// roots/list, elicitation/create) and blocks until the matching Response
// arrives, the request times out, or the transport closes, per SPEC §4.9's
// "the engine allocates an id, issues the Request, registers a pending
// entry, and blocks the initiating caller" rule.
func (s *Server) issueRequest(ctx context.Context, method string, params any, opt mcptransport.SendOpt) (json.RawMessage, error) {
	id := s.nextRequestID()
	key := id.String()

	encodedParams, err := mcpschema.EncodeParams(params)
	if err != nil {
		return nil, err
	}

	entry := &pendingEntry{waiter: make(chan pendingResult, 1)}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, mcpschema.NewLocalError(mcpschema.LocalKindAlreadyClosed)
	}
	s.pending[key] = entry
	s.mu.Unlock()

	entry.timer = time.AfterFunc(DefaultRequestTimeout, func() {
		s.mu.Lock()
		_, stillPending := s.pending[key]
		delete(s.pending, key)
		s.mu.Unlock()
		if !stillPending {
			return
		}
		select {
		case entry.waiter <- pendingResult{local: mcpschema.NewLocalError(mcpschema.LocalKindTimeout)}:
		default:
		}
	})

	if err := s.transport.Send(ctx, mcpschema.Request{ID: id, Method: method, Params: encodedParams}, opt); err != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		entry.timer.Stop()
		return nil, err
	}

	select {
	case res := <-entry.waiter:
		if res.local != nil {
			return nil, res.local
		}
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		entry.timer.Stop()
		return nil, ctx.Err()
	}
}

func (s *Server) resolve(id mcpschema.ID, result json.RawMessage, wireErr *mcpschema.WireError) {
	key := id.String()
	s.mu.Lock()
	entry, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		s.logf(context.Background(), "mcpserver: response for unknown or already-resolved id %s dropped", key)
		return
	}
	entry.timer.Stop()
	select {
	case entry.waiter <- pendingResult{result: result, err: wireErr}:
	default:
	}
}

// shouldLog reports whether a log at the given level should be emitted,
// per SPEC §4.9: gated by an ordered severity threshold set via
// logging/setLevel; if no threshold has ever been set, all logs are
// dropped.
func (s *Server) shouldLog(level mcpschema.LogLevel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return false
	}
	if !s.logLevelSet {
		return false
	}
	return level.GTE(s.logLevel)
}

// NotifyToolsListChanged emits notifications/tools/list_changed. Intended
// to be called by a handler (outside of any single tool-execution context)
// after it adds or removes a tool.
func (s *Server) NotifyToolsListChanged(ctx context.Context) error {
	return s.notifyIfReady(ctx, mcpschema.NotificationToolsListChanged)
}

// NotifyResourcesListChanged emits notifications/resources/list_changed.
func (s *Server) NotifyResourcesListChanged(ctx context.Context) error {
	return s.notifyIfReady(ctx, mcpschema.NotificationResourcesListChanged)
}

// NotifyResourceUpdated emits notifications/resources/updated for uri.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	encoded, err := mcpschema.EncodeParams(mcpschema.ResourceUpdatedParams{URI: uri})
	if err != nil {
		return err
	}
	return s.notifyParamsIfReady(ctx, mcpschema.NotificationResourceUpdated, encoded)
}

// NotifyPromptsListChanged emits notifications/prompts/list_changed.
func (s *Server) NotifyPromptsListChanged(ctx context.Context) error {
	return s.notifyIfReady(ctx, mcpschema.NotificationPromptsListChanged)
}

func (s *Server) notifyIfReady(ctx context.Context, method string) error {
	return s.notifyParamsIfReady(ctx, method, nil)
}

func (s *Server) notifyParamsIfReady(ctx context.Context, method string, params json.RawMessage) error {
	if s.State() != StateReady {
		return nil
	}
	return s.transport.Send(ctx, mcpschema.Notification{Method: method, Params: params})
}
