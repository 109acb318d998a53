package mcphttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mutablelogic/go-mcp/pkg/mcphttp"
	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

type echoHandler struct{}

func (echoHandler) ListTools(_ context.Context, _ string) (*mcpschema.ListToolsResult, error) {
	return &mcpschema.ListToolsResult{Tools: []*mcpschema.Tool{{Name: "echo"}}}, nil
}

func (echoHandler) CallTool(_ context.Context, name string, args json.RawMessage) (*mcpschema.CallToolResult, error) {
	return &mcpschema.CallToolResult{Content: []mcpschema.Content{mcpschema.TextContent(name)}}, nil
}

func newTestDispatcher(mode mcphttp.ResponseMode) *mcphttp.Dispatcher {
	info := mcpschema.Implementation{Name: "test-server", Version: "0.0.1"}
	return mcphttp.NewDispatcher("/mcp", info, func() any { return echoHandler{} }, mcphttp.WithMode(mode))
}

func initializeBody() string {
	return `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test-client","version":"0.0.1"}}}`
}

func TestPostMissingSessionIDIsBadRequest(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":2}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostUnknownSessionIDIsNotFound(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":2}`))
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", "does-not-exist")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostNonLocalOriginIsForbidden(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(initializeBody()))
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInitializeJSONModeCreatesSessionAndReturnsHeader(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(initializeBody()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))

	var body struct {
		Result mcpschema.InitializeResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, mcpschema.ProtocolVersion, body.Result.ProtocolVersion)
}

func TestGetWithoutSSEAcceptIsNotAcceptable(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	// Establish a session first.
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(initializeBody()))
	require.NoError(t, err)
	sid := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sid)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestGetUnknownSessionIsNotFound(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", "nope")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteUnknownSessionIsNotFound(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", "nope")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteMissingSessionIDIsBadRequest(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteTerminatesSession(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(initializeBody()))
	require.NoError(t, err)
	sid := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sid)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The session is now gone: a follow-up request with the same id 404s.
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":9}`))
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sid)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnsupportedMethodReturns405WithAllowHeader(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeJSON)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Allow"))
}

// TestSSEModeToolCallStreamsTerminalResponse exercises Scenario B's SSE
// framing shape in its simplest form (a synchronous tool call): the
// dispatcher must open a chunked text/event-stream body and deliver
// exactly one event carrying the tools/call response.
func TestSSEModeToolCallStreamsTerminalResponse(t *testing.T) {
	d := newTestDispatcher(mcphttp.ModeSSE)
	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(initializeBody()))
	require.NoError(t, err)
	sid := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()

	// Complete the handshake: the server answers any request other than
	// ping with "not initialized" until notifications/initialized arrives.
	initialized, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	initialized.Header.Set("Mcp-Session-Id", sid)
	resp, err = http.DefaultClient.Do(initialized)
	require.NoError(t, err)
	resp.Body.Close()

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sid)
	req.Header.Set("Accept", "text/event-stream")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, dataLines, 1)

	var envelope struct {
		Result mcpschema.CallToolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(dataLines[0]), &envelope))
	require.Len(t, envelope.Result.Content, 1)
	assert.Equal(t, "echo", envelope.Result.Content[0].Text)
}
