package mcpschema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

func TestClassifyRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	msg, err := mcpschema.Classify(raw)
	require.NoError(t, err)

	req, ok := msg.(mcpschema.Request)
	require.True(t, ok, "expected Request, got %T", msg)
	assert.Equal(t, "ping", req.Method)

	n, ok := req.ID.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestClassifyResponseResult(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"abc","result":{"ok":true}}`)
	msg, err := mcpschema.Classify(raw)
	require.NoError(t, err)

	resp, ok := msg.(mcpschema.Response)
	require.True(t, ok, "expected Response, got %T", msg)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "abc", resp.ID.String())
}

func TestClassifyResponseError(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"method not found"}}`)
	msg, err := mcpschema.Classify(raw)
	require.NoError(t, err)

	resp, ok := msg.(mcpschema.Response)
	require.True(t, ok, "expected Response, got %T", msg)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcpschema.CodeMethodNotFound, resp.Error.Code)
}

func TestClassifyIDMethodResultComboIsResponse(t *testing.T) {
	// Rule 2 of SPEC §4.1 ("id present and (result xor error) present ->
	// Response") applies regardless of whether an extraneous method field
	// is also present.
	raw := []byte(`{"jsonrpc":"2.0","id":"abc","method":"spurious","result":{"ok":true}}`)
	msg, err := mcpschema.Classify(raw)
	require.NoError(t, err)

	resp, ok := msg.(mcpschema.Response)
	require.True(t, ok, "expected Response, got %T", msg)
	assert.Equal(t, "abc", resp.ID.String())
}

func TestClassifyNotification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	msg, err := mcpschema.Classify(raw)
	require.NoError(t, err)

	note, ok := msg.(mcpschema.Notification)
	require.True(t, ok, "expected Notification, got %T", msg)
	assert.Equal(t, mcpschema.NotificationInitialized, note.Method)
}

func TestClassifyRejectsWrongVersion(t *testing.T) {
	raw := []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	_, err := mcpschema.Classify(raw)
	require.Error(t, err)

	var wireErr *mcpschema.WireError
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, mcpschema.CodeInvalidRequest, wireErr.Code)
}

func TestClassifyRejectsMalformedJSON(t *testing.T) {
	_, err := mcpschema.Classify([]byte(`not json`))
	require.Error(t, err)

	var wireErr *mcpschema.WireError
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, mcpschema.CodeParseError, wireErr.Code)
}

func TestClassifyRejectsShapelessObject(t *testing.T) {
	// No id, no method: matches none of the three shapes.
	raw := []byte(`{"jsonrpc":"2.0","result":{}}`)
	_, err := mcpschema.Classify(raw)
	require.Error(t, err)

	var wireErr *mcpschema.WireError
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, mcpschema.CodeInvalidRequest, wireErr.Code)
}

func TestEncodeClassifyRoundTrip(t *testing.T) {
	cases := []mcpschema.Message{
		mcpschema.Request{ID: mcpschema.NewID(42), Method: "tools/list"},
		mcpschema.Response{ID: mcpschema.NewID(42), Result: json.RawMessage(`{"tools":[]}`)},
		mcpschema.Response{ID: mcpschema.NewStringID("x"), Error: mcpschema.NewWireError(mcpschema.CodeInvalidParams, "bad")},
		mcpschema.Notification{Method: mcpschema.NotificationProgress, Params: json.RawMessage(`{"progress":1}`)},
	}

	for _, want := range cases {
		data, err := mcpschema.Encode(want)
		require.NoError(t, err)

		got, err := mcpschema.Classify(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIDPreservesWireShape(t *testing.T) {
	var id mcpschema.ID
	require.NoError(t, json.Unmarshal([]byte(`"s-1"`), &id))
	out, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"s-1"`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`7`), &id))
	out, err = json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `7`, string(out))
}

func TestLogLevelOrdering(t *testing.T) {
	assert.True(t, mcpschema.LogLevelError.GTE(mcpschema.LogLevelInfo))
	assert.False(t, mcpschema.LogLevelDebug.GTE(mcpschema.LogLevelWarning))
	assert.Equal(t, mcpschema.LogLevelWarning, mcpschema.ParseLogLevel("warning"))
	assert.Equal(t, mcpschema.LogLevelInfo, mcpschema.ParseLogLevel("not-a-level"))
}
