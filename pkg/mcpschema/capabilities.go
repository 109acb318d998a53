package mcpschema

import "encoding/json"

// Method names for every request and notification this runtime routes.
// Keeping these as typed constants (rather than inline string literals)
// lets both session engines share one routing table vocabulary.
const (
	MethodInitialize  = "initialize"
	MethodPing        = "ping"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
	MethodListResources       = "resources/list"
	MethodReadResource        = "resources/read"
	MethodSubscribeResource   = "resources/subscribe"
	MethodUnsubscribeResource = "resources/unsubscribe"
	MethodListResourceTemplates = "resources/templates/list"
	MethodListPrompts = "prompts/list"
	MethodGetPrompt   = "prompts/get"
	MethodComplete    = "completion/complete"
	MethodSetLogLevel = "logging/setLevel"
	MethodCreateMessage   = "sampling/createMessage"
	MethodElicit          = "elicitation/create"
	MethodListRoots       = "roots/list"

	NotificationInitialized           = "notifications/initialized"
	NotificationCancelled             = "notifications/cancelled"
	NotificationProgress              = "notifications/progress"
	NotificationMessage               = "notifications/message"
	NotificationToolsListChanged      = "notifications/tools/list_changed"
	NotificationResourcesListChanged  = "notifications/resources/list_changed"
	NotificationResourceUpdated       = "notifications/resources/updated"
	NotificationPromptsListChanged    = "notifications/prompts/list_changed"
	NotificationRootsListChanged      = "notifications/roots/list_changed"
)

// Implementation identifies a client or server by name and version, echoed
// on both sides of the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capability set a client advertises during
// initialize.
type ClientCapabilities struct {
	Roots        *RootsCapability       `json:"roots,omitempty"`
	Sampling     map[string]any         `json:"sampling,omitempty"`
	Elicitation  map[string]any         `json:"elicitation,omitempty"`
	Experimental map[string]any         `json:"experimental,omitempty"`
}

// RootsCapability declares whether the client will emit
// notifications/roots/list_changed when its root set changes.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the capability set a server advertises during
// initialize, built by type-asserting the server's handler value against
// the optional interfaces in pkg/mcpserver (ToolLister, ResourceLister,
// PromptLister, ...). The engine never hand-authors this struct; it is
// assembled from what the handler actually implements.
type ServerCapabilities struct {
	Tools        *ToolsCapability     `json:"tools,omitempty"`
	Resources    *ResourcesCapability `json:"resources,omitempty"`
	Prompts      *PromptsCapability   `json:"prompts,omitempty"`
	Logging      map[string]any       `json:"logging,omitempty"`
	Completions  map[string]any       `json:"completions,omitempty"`
	Experimental map[string]any       `json:"experimental,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// LogLevel mirrors RFC 5424 severities, ordered from least to most severe
// (debug lowest, emergency highest) per the MCP logging/setLevel semantics: a session only forwards
// notifications/message at or above its configured minimum severity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelNotice
	LogLevelWarning
	LogLevelError
	LogLevelCritical
	LogLevelAlert
	LogLevelEmergency
)

var logLevelNames = map[LogLevel]string{
	LogLevelDebug:     "debug",
	LogLevelInfo:      "info",
	LogLevelNotice:    "notice",
	LogLevelWarning:   "warning",
	LogLevelError:     "error",
	LogLevelCritical:  "critical",
	LogLevelAlert:     "alert",
	LogLevelEmergency: "emergency",
}

var logLevelValues = func() map[string]LogLevel {
	m := make(map[string]LogLevel, len(logLevelNames))
	for k, v := range logLevelNames {
		m[v] = k
	}
	return m
}()

func (l LogLevel) String() string {
	if s, ok := logLevelNames[l]; ok {
		return s
	}
	return "info"
}

// ParseLogLevel converts a wire log level string to a LogLevel, defaulting
// to LogLevelInfo for an unrecognised value.
func ParseLogLevel(s string) LogLevel {
	if l, ok := logLevelValues[s]; ok {
		return l
	}
	return LogLevelInfo
}

// GTE reports whether l is at least as severe as min, used to gate
// outgoing notifications/message traffic against the session's
// logging/setLevel setting.
func (l LogLevel) GTE(min LogLevel) bool {
	return l >= min
}

func (l LogLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = ParseLogLevel(s)
	return nil
}

// SetLevelParams is the payload of a logging/setLevel request.
type SetLevelParams struct {
	Level LogLevel `json:"level"`
}

// LogMessageParams is the payload of a notifications/message notification.
type LogMessageParams struct {
	Level  LogLevel `json:"level"`
	Logger string   `json:"logger,omitempty"`
	Data   any      `json:"data"`
}

// ProgressParams is the payload of a notifications/progress notification.
type ProgressParams struct {
	ProgressToken json.RawMessage `json:"progressToken"`
	Progress      float64         `json:"progress"`
	Total         float64         `json:"total,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// CancelledParams is the payload of a notifications/cancelled notification.
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// PaginatedParams is embedded by any *list request that supports cursor
// pagination.
type PaginatedParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// PaginatedResult is embedded by any *list result that supports cursor
// pagination: a non-empty NextCursor means more pages are available.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitempty"`
}
