package mcpschema

import "encoding/json"

// Tool describes a single callable tool as advertised by tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// ListToolsParams is the payload of a tools/list request.
type ListToolsParams struct {
	PaginatedParams
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
	PaginatedResult
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      map[string]any  `json:"_meta,omitempty"`
}

// CallToolResult is the payload of a tools/call response. IsError signals
// a tool-level failure reported as content, distinct from a protocol-level
// WireError — per the MCP convention a failing tool still answers with a
// normal JSON-RPC result, not an error object.
type CallToolResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// Content is a single content block of a tool/prompt result. Only one of
// Text/Data is populated depending on Type.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a Content block of type "text".
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// Resource describes a single resource as advertised by resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the payload of a resources/list response.
type ListResourcesResult struct {
	Resources []*Resource `json:"resources"`
	PaginatedResult
}

// ReadResourceParams is the payload of a resources/read request.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one item of a resources/read response.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the payload of a resources/read response.
type ReadResourceResult struct {
	Contents []*ResourceContents `json:"contents"`
}

// ResourceTemplate describes a single URI template as advertised by
// resources/templates/list.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourceTemplatesResult is the payload of a resources/templates/list
// response.
type ListResourceTemplatesResult struct {
	ResourceTemplates []*ResourceTemplate `json:"resourceTemplates"`
	PaginatedResult
}

// SubscribeResourceParams is the payload of resources/subscribe and
// resources/unsubscribe requests.
type SubscribeResourceParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedParams is the payload of a
// notifications/resources/updated notification.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// PromptArgument describes one named argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a single prompt as advertised by prompts/list.
type Prompt struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Arguments   []*PromptArgument `json:"arguments,omitempty"`
}

// ListPromptsResult is the payload of a prompts/list response.
type ListPromptsResult struct {
	Prompts []*Prompt `json:"prompts"`
	PaginatedResult
}

// GetPromptParams is the payload of a prompts/get request.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one message of a prompts/get response.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the payload of a prompts/get response.
type GetPromptResult struct {
	Description string           `json:"description,omitempty"`
	Messages    []*PromptMessage `json:"messages"`
}

// Root describes a single filesystem root as advertised by roots/list.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ListRootsResult is the payload of a roots/list response.
type ListRootsResult struct {
	Roots []*Root `json:"roots"`
}

// CompleteParams is the payload of a completion/complete request.
type CompleteReference struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type CompleteArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CompleteParams struct {
	Ref      CompleteReference `json:"ref"`
	Argument CompleteArgument  `json:"argument"`
}

type CompleteCompletion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// CompleteResult is the payload of a completion/complete response.
type CompleteResult struct {
	Completion CompleteCompletion `json:"completion"`
}
