// Package mcpserver implements the server-role MCP session engine:
// handler-capability auto-detection, the initialize/initialized handshake,
// static method routing, server-initiated request issuance, log-level
// gating, and the async tool-execution subsystem (ToolContext).
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

// The handler surface is a set of small, independently-optional
// interfaces over a single user-supplied `any` handler value. Capability
// advertisement is built by type-asserting the handler against each one —
// the canonical Go mapping for the source's dynamic, pattern-matched
// dispatch (see SPEC design notes, "Optional handler surface").

// ToolLister lists the tools this handler exposes.
type ToolLister interface {
	ListTools(ctx context.Context, cursor string) (*mcpschema.ListToolsResult, error)
}

// ToolCaller executes a tool synchronously: the engine blocks the
// originating request on it and emits the response itself.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (*mcpschema.CallToolResult, error)
}

// AsyncToolCaller executes a tool as a spawned task carrying a ToolContext,
// per SPEC §4.10. When a handler implements this, the engine prefers it
// over ToolCaller: dispatch registers a stream for the originating request
// id, spawns the task, and returns immediately without a synchronous
// response — the task itself, via the engine, emits the terminal response
// when it completes.
type AsyncToolCaller interface {
	CallToolAsync(ctx context.Context, tc *ToolContext, name string, args json.RawMessage) (*mcpschema.CallToolResult, error)
}

// ResourceLister lists the resources this handler exposes.
type ResourceLister interface {
	ListResources(ctx context.Context, cursor string) (*mcpschema.ListResourcesResult, error)
}

// ResourceTemplateLister lists the URI templates this handler exposes.
// Its presence does not change advertised capabilities: SPEC §6 routes
// resources/templates/list under the same `resources` capability as
// resources/list.
type ResourceTemplateLister interface {
	ListResourceTemplates(ctx context.Context, cursor string) (*mcpschema.ListResourceTemplatesResult, error)
}

// ResourceReader reads one resource's contents.
type ResourceReader interface {
	ReadResource(ctx context.Context, uri string) (*mcpschema.ReadResourceResult, error)
}

// ResourceSubscriber accepts subscribe/unsubscribe for change notification.
// Its presence is what advertises resources.subscribe=true.
type ResourceSubscriber interface {
	SubscribeResource(ctx context.Context, uri string) error
	UnsubscribeResource(ctx context.Context, uri string) error
}

// PromptLister lists the prompts this handler exposes.
type PromptLister interface {
	ListPrompts(ctx context.Context, cursor string) (*mcpschema.ListPromptsResult, error)
}

// PromptGetter renders a single prompt's messages.
type PromptGetter interface {
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpschema.GetPromptResult, error)
}

// LogLevelSetter is notified when the client adjusts the logging
// threshold. Its presence is what advertises the `logging` capability; the
// engine tracks and gates on the threshold itself regardless, but a
// handler implementing this can react (e.g. reconfigure its own logger).
type LogLevelSetter interface {
	SetLogLevel(ctx context.Context, level mcpschema.LogLevel) error
}

// Completer answers completion/complete requests.
type Completer interface {
	Complete(ctx context.Context, params mcpschema.CompleteParams) (*mcpschema.CompleteResult, error)
}

// detectCapabilities builds a ServerCapabilities value by type-asserting
// handler against each optional interface, per SPEC §4.9's auto-detection
// rule: list-tools -> tools(listChanged); list-resources ->
// resources(listChanged); subscribe -> resources.subscribe; list-prompts
// -> prompts(listChanged); set-log-level -> logging; complete ->
// completions.
func detectCapabilities(handler any) mcpschema.ServerCapabilities {
	var caps mcpschema.ServerCapabilities

	if _, ok := handler.(ToolLister); ok {
		caps.Tools = &mcpschema.ToolsCapability{ListChanged: true}
	}
	if _, ok := handler.(ResourceLister); ok {
		rc := &mcpschema.ResourcesCapability{ListChanged: true}
		if _, ok := handler.(ResourceSubscriber); ok {
			rc.Subscribe = true
		}
		caps.Resources = rc
	}
	if _, ok := handler.(PromptLister); ok {
		caps.Prompts = &mcpschema.PromptsCapability{ListChanged: true}
	}
	if _, ok := handler.(LogLevelSetter); ok {
		caps.Logging = map[string]any{}
	}
	if _, ok := handler.(Completer); ok {
		caps.Completions = map[string]any{}
	}
	return caps
}
