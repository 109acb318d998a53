package mcpclient_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mutablelogic/go-mcp/pkg/mcpclient"
	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// memTransport is an in-memory mcptransport.Transport fake that lets a
// test script respond to sent requests directly, without a real stdio or
// HTTP transport underneath.
type memTransport struct {
	mu     sync.Mutex
	owner  mcptransport.Owner
	sent   []mcpschema.Message
	closed bool
}

func (t *memTransport) Send(_ context.Context, msg mcpschema.Message, _ ...mcptransport.SendOpt) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mcpschema.NewLocalError(mcpschema.LocalKindAlreadyClosed)
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return nil
}

func (t *memTransport) lastSent() mcpschema.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

func (t *memTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func newReadySession(t *testing.T) (*mcpclient.Session, *memTransport) {
	t.Helper()
	transport := &memTransport{}
	session := mcpclient.New(transport, mcpschema.Implementation{Name: "test-client", Version: "1.0"})

	done := make(chan error, 1)
	go func() { done <- session.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, time.Millisecond)
	req := transport.lastSent().(mcpschema.Request)
	require.Equal(t, mcpschema.MethodInitialize, req.Method)

	result := mcpschema.InitializeResult{
		ProtocolVersion: mcpschema.ProtocolVersion,
		ServerInfo:      mcpschema.Implementation{Name: "test-server", Version: "1.0"},
		Capabilities:    mcpschema.ServerCapabilities{Tools: &mcpschema.ToolsCapability{ListChanged: true}},
	}
	resultData, err := json.Marshal(result)
	require.NoError(t, err)
	session.Receive(mcpschema.Response{ID: req.ID, Result: resultData})

	require.NoError(t, <-done)
	assert.Equal(t, mcpclient.StateReady, session.State())
	return session, transport
}

func TestConnectHandshake(t *testing.T) {
	session, transport := newReadySession(t)
	require.Eventually(t, func() bool { return transport.count() == 2 }, time.Second, time.Millisecond)
	note := transport.lastSent().(mcpschema.Notification)
	assert.Equal(t, mcpschema.NotificationInitialized, note.Method)
	assert.Equal(t, "test-server", session.ServerInfo().Name)
}

func TestCallToolResolvesOnResponse(t *testing.T) {
	session, transport := newReadySession(t)

	resultCh := make(chan *mcpschema.CallToolResult, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := session.CallTool(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
		resultCh <- r
		errCh <- err
	}()

	// CallTool first fetches the tool list since nothing is cached yet.
	require.Eventually(t, func() bool { return transport.count() == 3 }, time.Second, time.Millisecond)
	listReq := transport.lastSent().(mcpschema.Request)
	require.Equal(t, mcpschema.MethodListTools, listReq.Method)

	toolsResult := mcpschema.ListToolsResult{Tools: []*mcpschema.Tool{{Name: "echo"}}}
	toolsData, _ := json.Marshal(toolsResult)
	session.Receive(mcpschema.Response{ID: listReq.ID, Result: toolsData})

	require.Eventually(t, func() bool { return transport.count() == 4 }, time.Second, time.Millisecond)
	callReq := transport.lastSent().(mcpschema.Request)
	require.Equal(t, mcpschema.MethodCallTool, callReq.Method)

	callResult := mcpschema.CallToolResult{Content: []mcpschema.Content{mcpschema.TextContent("hi")}}
	callData, _ := json.Marshal(callResult)
	session.Receive(mcpschema.Response{ID: callReq.ID, Result: callData})

	require.NoError(t, <-errCh)
	result := <-resultCh
	require.NotNil(t, result)
	assert.Equal(t, "hi", result.Content[0].Text)
}

func TestPingFailsWhenTransportCloses(t *testing.T) {
	session, _ := newReadySession(t)

	// Ping uses DefaultTimeout, too long to wait out here, so this
	// exercises the other resolution path of a pending request instead:
	// the transport closing mid-flight fails it with transport_closed.
	errCh := make(chan error, 1)
	go func() { errCh <- session.Ping(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	session.Closed(assertErr{})

	err := <-errCh
	require.Error(t, err)
	var localErr *mcpschema.LocalError
	require.ErrorAs(t, err, &localErr)
	assert.Equal(t, mcpschema.LocalKindTransportClosed, localErr.Kind)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated eof" }

func TestCloseIsIdempotent(t *testing.T) {
	session, _ := newReadySession(t)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
}

func TestSamplingHandlerRejectionSurfacesUserRejectedCode(t *testing.T) {
	transport := &memTransport{}
	rejected := mcpschema.NewUserRejectedSamplingError("user declined")
	session := mcpclient.New(transport, mcpschema.Implementation{Name: "test-client", Version: "1.0"},
		mcpclient.WithSamplingHandler(func(_ context.Context, _ json.RawMessage) (any, *mcpschema.WireError) {
			return nil, rejected
		}),
	)

	done := make(chan error, 1)
	go func() { done <- session.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, time.Millisecond)
	initReq := transport.lastSent().(mcpschema.Request)
	result := mcpschema.InitializeResult{ProtocolVersion: mcpschema.ProtocolVersion, ServerInfo: mcpschema.Implementation{Name: "test-server", Version: "1.0"}}
	resultData, _ := json.Marshal(result)
	session.Receive(mcpschema.Response{ID: initReq.ID, Result: resultData})
	require.NoError(t, <-done)

	before := transport.count()
	session.Receive(mcpschema.Request{ID: mcpschema.NewID(99), Method: mcpschema.MethodCreateMessage})

	require.Eventually(t, func() bool { return transport.count() == before+1 }, time.Second, time.Millisecond)
	resp := transport.lastSent().(mcpschema.Response)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcpschema.CodeUserRejectedSampling, resp.Error.Code)
}

func TestDuplicateInitializeWhileReadyIsNoop(t *testing.T) {
	session, transport := newReadySession(t)
	before := transport.count()
	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, before, transport.count())
}
