package mcpclient

import (
	"context"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

// ListTools returns one page of tools/list, starting at cursor ("" for the
// first page). The returned tools are cached by name for CallTool's
// pre-flight validation.
func (s *Session) ListTools(ctx context.Context, cursor string) (*mcpschema.ListToolsResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.ListToolsResult
	params := mcpschema.ListToolsParams{PaginatedParams: mcpschema.PaginatedParams{Cursor: cursor}}
	if err := s.call(ctx, mcpschema.MethodListTools, params, DefaultTimeout, &result); err != nil {
		return nil, err
	}

	s.toolsMu.Lock()
	if s.tools == nil {
		s.tools = make(map[string]*mcpschema.Tool, len(result.Tools))
	}
	for _, t := range result.Tools {
		s.tools[t.Name] = t
	}
	s.toolsMu.Unlock()

	return &result, nil
}

// ListAllTools walks every page of tools/list via nextCursor and returns
// the concatenated result, per SPEC §8's list_all_* equivalence law.
func (s *Session) ListAllTools(ctx context.Context) ([]*mcpschema.Tool, error) {
	var all []*mcpschema.Tool
	cursor := ""
	for {
		page, err := s.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// ListResources returns one page of resources/list.
func (s *Session) ListResources(ctx context.Context, cursor string) (*mcpschema.ListResourcesResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.ListResourcesResult
	params := mcpschema.PaginatedParams{Cursor: cursor}
	if err := s.call(ctx, mcpschema.MethodListResources, params, DefaultTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAllResources walks every page of resources/list.
func (s *Session) ListAllResources(ctx context.Context) ([]*mcpschema.Resource, error) {
	var all []*mcpschema.Resource
	cursor := ""
	for {
		page, err := s.ListResources(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// ListResourceTemplates returns one page of resources/templates/list.
func (s *Session) ListResourceTemplates(ctx context.Context, cursor string) (*mcpschema.ListResourceTemplatesResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.ListResourceTemplatesResult
	params := mcpschema.PaginatedParams{Cursor: cursor}
	if err := s.call(ctx, mcpschema.MethodListResourceTemplates, params, DefaultTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAllResourceTemplates walks every page of resources/templates/list.
func (s *Session) ListAllResourceTemplates(ctx context.Context) ([]*mcpschema.ResourceTemplate, error) {
	var all []*mcpschema.ResourceTemplate
	cursor := ""
	for {
		page, err := s.ListResourceTemplates(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.ResourceTemplates...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// ListPrompts returns one page of prompts/list.
func (s *Session) ListPrompts(ctx context.Context, cursor string) (*mcpschema.ListPromptsResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result mcpschema.ListPromptsResult
	params := mcpschema.PaginatedParams{Cursor: cursor}
	if err := s.call(ctx, mcpschema.MethodListPrompts, params, DefaultTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAllPrompts walks every page of prompts/list.
func (s *Session) ListAllPrompts(ctx context.Context) ([]*mcpschema.Prompt, error) {
	var all []*mcpschema.Prompt
	cursor := ""
	for {
		page, err := s.ListPrompts(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Prompts...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
