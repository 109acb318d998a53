// Package mcphttpclient implements the client-side Streamable HTTP
// transport (SPEC §4.5): POST each outgoing message, parse a JSON or SSE
// response body, capture the session id from response headers, and send a
// best-effort DELETE on Close.
package mcphttpclient

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sync"

	client "github.com/mutablelogic/go-client"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcpsse"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// mcpAccept mirrors the teacher's client transport: Streamable HTTP
// requires both content types in Accept.
const mcpAccept = "application/json, text/event-stream"

// Transport is the client-role Streamable HTTP transport. It is usable
// only after Bind has attached the owning session.
type Transport struct {
	http *client.Client
	url  string

	mu        sync.Mutex
	owner     mcptransport.Owner
	sessionID string
	closed    bool
}

var _ mcptransport.Transport = (*Transport)(nil)

// New constructs a Transport against endpoint url. The returned Transport
// must be Bind'd to an Owner before use.
func New(url string, userAgent string, opts ...client.ClientOpt) (*Transport, error) {
	defaults := []client.ClientOpt{
		client.OptEndpoint(url),
		client.OptUserAgent(userAgent),
	}
	httpClient, err := client.New(append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Transport{http: httpClient, url: url}, nil
}

// Bind attaches the owning session. Every decoded message this transport
// receives on a POST response is delivered to owner synchronously, inside
// the Send call that produced it — this is the "known limitation" SPEC
// §4.5 documents: a server-initiated request arriving on a still-open POST
// response cannot be answered by the client until that POST completes.
func (t *Transport) Bind(owner mcptransport.Owner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owner = owner
}

// rpcResponse is the decode target for one POST response, implementing
// client.Unmarshaler so it can branch on Content-Type the way the
// teacher's own response type does.
type rpcResponse struct {
	transport *Transport
	messages  []mcpschema.Message
}

var _ client.Unmarshaler = (*rpcResponse)(nil)

func (r *rpcResponse) Unmarshal(header http.Header, body io.Reader) error {
	if sid := header.Get("Mcp-Session-Id"); sid != "" {
		r.transport.mu.Lock()
		r.transport.sessionID = sid
		r.transport.mu.Unlock()
	}

	ct := header.Get("Content-Type")
	mimetype, _, _ := mime.ParseMediaType(ct)

	switch mimetype {
	case "text/event-stream":
		return r.decodeSSE(body)
	case "application/json", "":
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil // HTTP 202: accepted, no delivery
		}
		msg, err := mcpschema.Classify(data)
		if err != nil {
			return err
		}
		r.messages = append(r.messages, msg)
		return nil
	default:
		return nil
	}
}

func (r *rpcResponse) decodeSSE(body io.Reader) error {
	var dec mcpsse.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.Data == "" {
					continue
				}
				msg, classifyErr := mcpschema.Classify([]byte(ev.Data))
				if classifyErr != nil {
					continue // malformed event: skip, per the decoder's tolerant contract
				}
				r.messages = append(r.messages, msg)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Send POSTs one outgoing message and delivers every message the response
// carries (a single JSON object, or every SSE event with non-empty data in
// an event-stream body, whatever its event name) to the owner before
// returning.
func (t *Transport) Send(ctx context.Context, msg mcpschema.Message, _ ...mcptransport.SendOpt) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return mcpschema.NewLocalError(mcpschema.LocalKindAlreadyClosed)
	}
	sessionID := t.sessionID
	t.mu.Unlock()

	wire, err := mcpschema.Encode(msg)
	if err != nil {
		return err
	}
	var envelope json.RawMessage = wire

	payload, err := client.NewJSONRequestEx(http.MethodPost, envelope, mcpAccept)
	if err != nil {
		return err
	}

	reqOpts := []client.RequestOpt{client.OptReqHeader("MCP-Protocol-Version", mcpschema.ProtocolVersion)}
	if sessionID != "" {
		reqOpts = append(reqOpts, client.OptReqHeader("Mcp-Session-Id", sessionID))
	}

	resp := &rpcResponse{transport: t}
	if err := t.http.DoWithContext(ctx, payload, resp, reqOpts...); err != nil {
		return err
	}

	t.mu.Lock()
	owner := t.owner
	t.mu.Unlock()
	if owner == nil {
		return nil
	}
	for _, m := range resp.messages {
		owner.Receive(m)
	}
	return nil
}

// Close sends a best-effort DELETE for the captured session id, then
// notifies the owner.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessionID := t.sessionID
	owner := t.owner
	t.mu.Unlock()

	if sessionID != "" {
		payload, err := client.NewJSONRequestEx(http.MethodDelete, nil, mcpAccept)
		if err == nil {
			_ = t.http.DoWithContext(context.Background(), payload, nil,
				client.OptReqHeader("MCP-Protocol-Version", mcpschema.ProtocolVersion),
				client.OptReqHeader("Mcp-Session-Id", sessionID))
		}
	}
	if owner != nil {
		owner.Closed(nil)
	}
	return nil
}
