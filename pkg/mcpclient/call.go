package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

// Ping is allowed in any non-closed lifecycle state, per SPEC §4.8.
func (s *Session) Ping(ctx context.Context) error {
	if s.State() == StateClosed {
		return mcpschema.NewLocalError(mcpschema.LocalKindAlreadyClosed)
	}
	return s.call(ctx, mcpschema.MethodPing, nil, DefaultTimeout, nil)
}

func (s *Session) requireReady() error {
	if s.State() != StateReady {
		return mcpschema.NewLocalError(mcpschema.LocalKindNotReady)
	}
	return nil
}

// CallTool invokes a tool by name, validating the arguments against the
// tool's cached input schema first if one was captured by ListTools.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcpschema.CallToolResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if err := s.validateToolCall(ctx, name, args); err != nil {
		return nil, err
	}

	var result mcpschema.CallToolResult
	err := s.call(ctx, mcpschema.MethodCallTool, mcpschema.CallToolParams{Name: name, Arguments: args}, DefaultTimeout, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// validateToolCall checks name exists (fetching the tool list if not yet
// cached) and, when the tool declares an inputSchema, validates args
// against it client-side before the round trip.
func (s *Session) validateToolCall(ctx context.Context, name string, args json.RawMessage) error {
	s.toolsMu.Lock()
	cached := s.tools
	s.toolsMu.Unlock()

	if cached == nil {
		if _, err := s.ListTools(ctx, ""); err != nil {
			return fmt.Errorf("mcpclient: fetching tools to validate call: %w", err)
		}
		s.toolsMu.Lock()
		cached = s.tools
		s.toolsMu.Unlock()
	}

	tool, ok := cached[name]
	if !ok {
		return mcpschema.NewWireError(mcpschema.CodeMethodNotFound, fmt.Sprintf("tool not found: %q", name))
	}
	if len(tool.InputSchema) == 0 {
		return nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return fmt.Errorf("mcpclient: invalid input schema for tool %q: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("mcpclient: invalid input schema for tool %q: %w", name, err)
	}

	var argsValue any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsValue); err != nil {
			return mcpschema.NewWireError(mcpschema.CodeInvalidParams, fmt.Sprintf("invalid arguments JSON: %v", err))
		}
	} else {
		argsValue = map[string]any{}
	}

	if err := resolved.Validate(argsValue); err != nil {
		return mcpschema.NewWireError(mcpschema.CodeInvalidParams, fmt.Sprintf("argument validation failed: %v", err))
	}
	return nil
}

// SetLogLevel requests the server raise or lower the severity threshold at
// or above which notifications/message is delivered.
func (s *Session) SetLogLevel(ctx context.Context, level mcpschema.LogLevel) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.call(ctx, mcpschema.MethodSetLogLevel, mcpschema.SetLevelParams{Level: level}, DefaultTimeout, nil)
}

// Complete requests argument completion suggestions.
func (s *Session) Complete(ctx context.Context, params mcpschema.CompleteParams) (*mcpschema.CompleteResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.CompleteResult
	if err := s.call(ctx, mcpschema.MethodComplete, params, DefaultTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt fetches a single prompt's rendered messages.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpschema.GetPromptResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.GetPromptResult
	if err := s.call(ctx, mcpschema.MethodGetPrompt, mcpschema.GetPromptParams{Name: name, Arguments: args}, DefaultTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource fetches the contents of a single resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcpschema.ReadResourceResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.ReadResourceResult
	if err := s.call(ctx, mcpschema.MethodReadResource, mcpschema.ReadResourceParams{URI: uri}, DefaultTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubscribeResource requests change notifications for a single resource.
func (s *Session) SubscribeResource(ctx context.Context, uri string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.call(ctx, mcpschema.MethodSubscribeResource, mcpschema.SubscribeResourceParams{URI: uri}, DefaultTimeout, nil)
}

// UnsubscribeResource cancels a prior SubscribeResource.
func (s *Session) UnsubscribeResource(ctx context.Context, uri string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.call(ctx, mcpschema.MethodUnsubscribeResource, mcpschema.SubscribeResourceParams{URI: uri}, DefaultTimeout, nil)
}
