// Package mcpdemo is a small, stateless tool handler used by cmd/mcp-server
// to make the binary runnable out of the box, and as a test fixture for
// pkg/mcpserver. Grounded on pkg/tool's Toolkit/Tool naming and its
// JSON-schema-described tool definitions, generalized to the
// mcpserver.ToolLister/ToolCaller/AsyncToolCaller handler surface.
package mcpdemo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcpserver"
)

// Toolkit implements mcpserver.ToolLister, mcpserver.ToolCaller and
// mcpserver.AsyncToolCaller, advertising two tools: "echo" (synchronous)
// and "count" (async, emits a progress notification per tick).
type Toolkit struct{}

var (
	_ mcpserver.ToolLister      = Toolkit{}
	_ mcpserver.AsyncToolCaller = Toolkit{}
)

var tools = []*mcpschema.Tool{
	{
		Name:        "echo",
		Description: "Returns the given text unchanged.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	},
	{
		Name:        "count",
		Description: "Counts from 1 to n, reporting progress after each tick.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer","minimum":1}},"required":["n"]}`),
	},
}

// ListTools implements mcpserver.ToolLister. The demo toolkit never
// paginates: it always returns every tool with no nextCursor.
func (Toolkit) ListTools(_ context.Context, _ string) (*mcpschema.ListToolsResult, error) {
	return &mcpschema.ListToolsResult{Tools: tools}, nil
}

// CallTool implements mcpserver.ToolCaller for the synchronous "echo" tool.
// CallToolAsync below is preferred by the engine when both are
// implemented, so this path only ever serves "echo" in practice — kept
// distinct anyway as a second grounding example of the sync handler shape.
func (Toolkit) CallTool(_ context.Context, name string, args json.RawMessage) (*mcpschema.CallToolResult, error) {
	if name != "echo" {
		return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, fmt.Sprintf("unknown tool %q", name))
	}
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error())
	}
	return &mcpschema.CallToolResult{Content: []mcpschema.Content{mcpschema.TextContent(params.Text)}}, nil
}

// CallToolAsync implements mcpserver.AsyncToolCaller. Because the engine
// prefers this entry point whenever it is present, "echo" is served here
// too, synchronously, alongside the genuinely async "count".
func (t Toolkit) CallToolAsync(ctx context.Context, tc *mcpserver.ToolContext, name string, args json.RawMessage) (*mcpschema.CallToolResult, error) {
	switch name {
	case "echo":
		return t.CallTool(ctx, name, args)
	case "count":
		return t.count(ctx, tc, args)
	default:
		return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, fmt.Sprintf("unknown tool %q", name))
	}
}

func (Toolkit) count(ctx context.Context, tc *mcpserver.ToolContext, args json.RawMessage) (*mcpschema.CallToolResult, error) {
	var params struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, err.Error())
	}
	if params.N <= 0 {
		return nil, mcpschema.NewWireError(mcpschema.CodeInvalidParams, "n must be positive")
	}

	for i := 1; i <= params.N; i++ {
		select {
		case <-ctx.Done():
			return nil, mcpschema.NewWireError(mcpschema.CodeInternalError, "cancelled")
		case <-time.After(10 * time.Millisecond):
		}
		_ = tc.SendProgress(ctx, float64(i), float64(params.N), fmt.Sprintf("tick %d", i))
		_ = tc.Log(ctx, mcpschema.LogLevelDebug, "mcpdemo", fmt.Sprintf("counted to %d", i))
	}

	return &mcpschema.CallToolResult{Content: []mcpschema.Content{mcpschema.TextContent(fmt.Sprintf("counted to %d", params.N))}}, nil
}
