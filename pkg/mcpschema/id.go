package mcpschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC request identifier. Per the MCP spec an id is either a
// string or an integer, and is carried on the wire in whatever shape the
// sender chose; the runtime preserves that shape verbatim rather than
// normalising it, so that a Response id always round-trips byte-for-byte
// against the Request id it answers.
type ID struct {
	raw json.RawMessage
}

// NewID returns an ID wrapping an integer, used when this session allocates
// an outgoing request id.
func NewID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// NewStringID returns an ID wrapping a string value.
func NewStringID(s string) ID {
	data, _ := json.Marshal(s)
	return ID{raw: data}
}

// IsValid reports whether the id carries a value (MCP ids are never null).
func (id ID) IsValid() bool {
	return len(id.raw) > 0 && !bytes.Equal(id.raw, []byte("null"))
}

// Int64 returns the numeric value of the id, if it is a JSON number.
func (id ID) Int64() (int64, bool) {
	if !id.IsValid() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id.raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns a stable string form of the id, suitable as a map key.
// This is NOT the JSON-RPC wire form for string ids (which are quoted);
// use MarshalJSON/Raw for that.
func (id ID) String() string {
	if !id.IsValid() {
		return ""
	}
	if s, ok := id.asString(); ok {
		return s
	}
	return string(id.raw)
}

func (id ID) asString() (string, bool) {
	if len(id.raw) < 2 || id.raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(id.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Equal reports whether two ids are the same wire value.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id.raw, other.raw)
}

// Raw returns the underlying JSON bytes of the id.
func (id ID) Raw() json.RawMessage {
	return id.raw
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.IsValid() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		id.raw = nil
		return nil
	}
	switch trimmed[0] {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		id.raw = append(json.RawMessage(nil), trimmed...)
		return nil
	default:
		return fmt.Errorf("mcpschema: id must be a string or number, got %q", trimmed)
	}
}
