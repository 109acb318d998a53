package mcpschema

import "fmt"

// Code is a wire-visible JSON-RPC/MCP error code. It is always carried on
// the wire inside a Response.Error and is never used to represent a purely
// local condition (transport closed, timeout, not-ready) — those live in
// LocalKind below.
type Code int

// Canonical JSON-RPC 2.0 codes, plus the MCP-specific range.
const (
	CodeParseError     Code = -32700
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams  Code = -32602
	CodeInternalError  Code = -32603

	// MCP-specific range, per the specification's error code table.
	CodeResourceNotFound       Code = -32002
	CodeURLElicitationRequired Code = -32042
	CodeUserRejectedSampling   Code = -1
)

// WireError is the structured JSON-RPC error object. It satisfies the
// error interface so it can flow through normal Go error handling while
// still carrying the exact wire shape.
type WireError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: %s (code %d)", e.Message, e.Code)
}

// NewWireError builds a WireError for the given code and message.
func NewWireError(code Code, message string) *WireError {
	return &WireError{Code: code, Message: message}
}

// NewUserRejectedSamplingError builds the wire error a sampling/createMessage
// handler returns when the human in the loop declines the request, per the
// specification's error code table.
func NewUserRejectedSamplingError(message string) *WireError {
	if message == "" {
		message = "sampling request rejected by user"
	}
	return &WireError{Code: CodeUserRejectedSampling, Message: message}
}

// NewURLElicitationRequiredError builds the wire error an elicitation/create
// handler returns when it can only satisfy the request by directing the
// user to a URL (the elicitation "url" sub-feature) but the caller did not
// opt into that flow.
func NewURLElicitationRequiredError(url string) *WireError {
	return &WireError{Code: CodeURLElicitationRequired, Message: "elicitation requires opening a URL", Data: map[string]string{"url": url}}
}

// With attaches structured data to the error and returns the same value,
// mirroring the teacher's error.go With/Withf decorator convention.
func (e *WireError) With(data any) *WireError {
	if e == nil {
		return nil
	}
	e.Data = data
	return e
}

// Withf attaches a formatted string as the error's message suffix.
func (e *WireError) Withf(format string, args ...any) *WireError {
	if e == nil {
		return nil
	}
	e.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return e
}

// LocalKind enumerates conditions that the engine reports to its own
// caller (via a returned Go error) but never places on the wire, per §7.
type LocalKind int

const (
	LocalKindUnknown LocalKind = iota
	LocalKindNotReady           // session not in a state that accepts this call
	LocalKindTimeout            // a pending request's deadline elapsed locally
	LocalKindTransportClosed    // the underlying transport closed or errored
	LocalKindAlreadyClosed      // operation attempted on an already-closed session or transport
	LocalKindCancelled          // the caller cancelled its own context
	LocalKindCapabilityMissing  // local pre-flight check found no handler for a capability
)

func (k LocalKind) String() string {
	switch k {
	case LocalKindNotReady:
		return "not_ready"
	case LocalKindTimeout:
		return "timeout"
	case LocalKindTransportClosed:
		return "transport_closed"
	case LocalKindAlreadyClosed:
		return "already_closed"
	case LocalKindCancelled:
		return "cancelled"
	case LocalKindCapabilityMissing:
		return "capability_missing"
	default:
		return "unknown"
	}
}

// LocalError is a local-only condition: never marshalled onto the wire.
type LocalError struct {
	Kind    LocalKind
	Message string
}

func (e *LocalError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return "mcp: " + e.Kind.String()
	}
	return fmt.Sprintf("mcp: %s: %s", e.Kind.String(), e.Message)
}

// NewLocalError builds a LocalError of the given kind.
func NewLocalError(kind LocalKind) *LocalError {
	return &LocalError{Kind: kind}
}

// Withf attaches a formatted detail message and returns the same value.
func (e *LocalError) Withf(format string, args ...any) *LocalError {
	if e == nil {
		return nil
	}
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Is supports errors.Is(err, NewLocalError(LocalKindTimeout)) style checks
// by comparing Kind only, ignoring Message.
func (e *LocalError) Is(target error) bool {
	other, ok := target.(*LocalError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
