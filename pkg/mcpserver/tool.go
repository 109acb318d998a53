package mcpserver

import (
	"context"
	"fmt"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// dispatchCallTool implements SPEC §4.10: prefer the async entry point if
// the handler has one (spawn a task carrying a ToolContext and return
// immediately, the task emits its own terminal response), else fall back
// to the synchronous one.
func (s *Server) dispatchCallTool(ctx context.Context, req mcpschema.Request) (any, *mcpschema.WireError, bool) {
	var params mcpschema.CallToolParams
	if err := mcpschema.DecodeInto(req.Params, &params); err != nil {
		return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error()), true
	}

	if asyncCaller, ok := s.handler.(AsyncToolCaller); ok {
		s.dispatchAsync(req.ID, params, asyncCaller)
		return nil, nil, true // nil result: no synchronous reply, task emits its own.
	}

	caller, ok := s.handler.(ToolCaller)
	if !ok {
		return nil, mcpschema.NewWireError(mcpschema.CodeMethodNotFound, "tools/call not supported"), true
	}
	result, err := caller.CallTool(ctx, params.Name, params.Arguments)
	return result, asWireError(err), true
}

// dispatchAsync registers a stream for req.ID (if the transport supports
// it), spawns the task, and — on completion, error, or panic — emits the
// terminal response itself. This is the only place a Response for a
// tools/call is ever produced when an AsyncToolCaller is in play.
func (s *Server) dispatchAsync(id mcpschema.ID, params mcpschema.CallToolParams, caller AsyncToolCaller) {
	if registrar, ok := s.transport.(mcptransport.StreamRegistrar); ok {
		registrar.RegisterStream(id)
	}

	var meta map[string]any
	if len(params.Meta) > 0 {
		meta = params.Meta
	}
	tc := &ToolContext{server: s, requestID: id, meta: meta}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		taskCtx, end := s.startSpan(context.Background(), "mcpserver.tool/"+params.Name)
		defer end()
		defer func() {
			if r := recover(); r != nil {
				s.reply(context.Background(), id, nil, mcpschema.NewWireError(mcpschema.CodeInternalError, fmt.Sprintf("tool panicked: %v", r)))
			}
		}()

		result, err := caller.CallToolAsync(taskCtx, tc, params.Name, params.Arguments)
		if err != nil {
			s.reply(context.Background(), id, nil, asWireError(err))
			return
		}
		s.reply(context.Background(), id, result, nil)
	}()
}
