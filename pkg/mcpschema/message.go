// Package mcpschema implements the JSON-RPC 2.0 wire codec and error
// taxonomy that the Model Context Protocol session engines route on top of.
// It classifies decoded JSON objects into Request, Response or Notification
// values and encodes them back out, without interpreting the opaque
// method-specific payloads beyond what correlation and progress routing
// require.
package mcpschema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RPCVersion is the JSON-RPC version string carried on every message.
const RPCVersion = "2.0"

// ProtocolVersion is the MCP protocol version this runtime implements.
const ProtocolVersion = "2025-11-25"

// Message is the sum type of the three wire shapes a decoded JSON object
// can classify as.
type Message interface {
	isMessage()
}

// Request is a JSON-RPC request: it carries an id and expects exactly one
// Response in return.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

func (Request) isMessage() {}

// Response answers a Request with the same id, carrying either a Result or
// an Error, never both.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *WireError
}

func (Response) isMessage() {}

// Notification carries no id and expects no reply.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (Notification) isMessage() {}

// wireEnvelope is the on-the-wire shape used for both decoding (classify)
// and encoding.
type wireEnvelope struct {
	Version string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// Classify decodes a single JSON object and determines which of the three
// Message variants it represents, per §4.1:
//  1. jsonrpc must equal "2.0".
//  2. id present and (result xor error) present -> Response.
//  3. id present and method present -> Request.
//  4. method present, id absent -> Notification.
//  5. otherwise -> invalid_request.
//
// Data that is not valid JSON is reported as CodeParseError; a
// structurally decodable object that doesn't fit the JSON-RPC shape rules
// is reported as invalid_request.
func Classify(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &WireError{Code: CodeParseError, Message: "parse error: " + err.Error()}
	}
	if env.Version != RPCVersion {
		return nil, &WireError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid jsonrpc version %q", env.Version)}
	}

	hasID := env.ID != nil && env.ID.IsValid()
	hasResult := len(bytes.TrimSpace(env.Result)) > 0
	hasError := env.Error != nil
	hasMethod := env.Method != ""

	switch {
	case hasID && (hasResult != hasError):
		return Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	case hasID && hasMethod:
		return Request{ID: *env.ID, Method: env.Method, Params: env.Params}, nil
	case hasMethod && !hasID:
		return Notification{Method: env.Method, Params: env.Params}, nil
	default:
		return nil, &WireError{Code: CodeInvalidRequest, Message: "message matches neither request, response nor notification shape"}
	}
}

// Encode serialises a Message back into its JSON-RPC wire form.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Request:
		env := wireEnvelope{Version: RPCVersion, ID: &m.ID, Method: m.Method, Params: m.Params}
		return json.Marshal(env)
	case Response:
		env := wireEnvelope{Version: RPCVersion, ID: &m.ID, Result: m.Result, Error: m.Error}
		return json.Marshal(env)
	case Notification:
		env := wireEnvelope{Version: RPCVersion, Method: m.Method, Params: m.Params}
		return json.Marshal(env)
	default:
		return nil, fmt.Errorf("mcpschema: unknown message type %T", msg)
	}
}

// EncodeParams marshals v (which may already be json.RawMessage) into a
// params payload suitable for Request.Params/Notification.Params.
func EncodeParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// DecodeInto unmarshals a raw JSON payload (params or result) into dest.
// A nil/empty payload is a no-op, matching optional-params semantics.
func DecodeInto(raw json.RawMessage, dest any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
