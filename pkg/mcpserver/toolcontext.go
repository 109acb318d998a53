package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// ToolContext is the binding passed to an AsyncToolCaller's task: the
// session handle, the originating request id (used as related_request_id
// for every message this context emits, per SPEC §4.10), and the inbound
// `_meta` map. Every method sends through the owning Server so tool
// handlers never touch a transport directly.
type ToolContext struct {
	server    *Server
	requestID mcpschema.ID
	meta      map[string]any
}

// RequestID returns the originating tools/call request id this context is
// bound to.
func (tc *ToolContext) RequestID() mcpschema.ID {
	return tc.requestID
}

func (tc *ToolContext) sendOpt() mcptransport.SendOpt {
	return mcptransport.WithRelatedRequestID(tc.requestID)
}

// Log emits a notifications/message notification tagged to this context's
// stream, gated by the session's current logging/setLevel threshold (see
// Server.shouldLog).
func (tc *ToolContext) Log(ctx context.Context, level mcpschema.LogLevel, loggerName string, data any) error {
	if !tc.server.shouldLog(level) {
		return nil
	}
	params := mcpschema.LogMessageParams{Level: level, Logger: loggerName, Data: data}
	encoded, err := mcpschema.EncodeParams(params)
	if err != nil {
		return err
	}
	return tc.server.transport.Send(ctx, mcpschema.Notification{Method: mcpschema.NotificationMessage, Params: encoded}, tc.sendOpt())
}

// SendProgress emits a notifications/progress notification. The progress
// token is read from the inbound _meta map and, per SPEC §4.10 point 3,
// falls back to the JSON number 0 when absent.
func (tc *ToolContext) SendProgress(ctx context.Context, progress, total float64, message string) error {
	token := tc.progressToken()
	params := mcpschema.ProgressParams{ProgressToken: token, Progress: progress, Total: total, Message: message}
	encoded, err := mcpschema.EncodeParams(params)
	if err != nil {
		return err
	}
	return tc.server.transport.Send(ctx, mcpschema.Notification{Method: mcpschema.NotificationProgress, Params: encoded}, tc.sendOpt())
}

func (tc *ToolContext) progressToken() json.RawMessage {
	if tc.meta != nil {
		if v, ok := tc.meta["progressToken"]; ok {
			if data, err := json.Marshal(v); err == nil {
				return data
			}
		}
	}
	return json.RawMessage("0")
}

// RequestSampling issues a sampling/createMessage server-initiated request
// tagged to this context's stream, and blocks until the client answers or
// the request times out.
func (tc *ToolContext) RequestSampling(ctx context.Context, params any) (json.RawMessage, error) {
	return tc.server.issueRequest(ctx, mcpschema.MethodCreateMessage, params, tc.sendOpt())
}

// RequestElicitation issues an elicitation/create server-initiated request
// tagged to this context's stream.
func (tc *ToolContext) RequestElicitation(ctx context.Context, params any) (json.RawMessage, error) {
	return tc.server.issueRequest(ctx, mcpschema.MethodElicit, params, tc.sendOpt())
}

// RequestRoots issues a roots/list server-initiated request tagged to this
// context's stream.
func (tc *ToolContext) RequestRoots(ctx context.Context) (json.RawMessage, error) {
	return tc.server.issueRequest(ctx, mcpschema.MethodListRoots, nil, tc.sendOpt())
}
