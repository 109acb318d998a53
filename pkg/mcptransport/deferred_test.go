package mcptransport_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

type recordingOwner struct {
	mu       sync.Mutex
	received []mcpschema.Message
}

func (o *recordingOwner) Receive(msg mcpschema.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, msg)
}

func (o *recordingOwner) ReceiveInvalid(error) {}
func (o *recordingOwner) Closed(error)         {}

func (o *recordingOwner) snapshot() []mcpschema.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]mcpschema.Message, len(o.received))
	copy(out, o.received)
	return out
}

func TestDeferredOwnerBlocksUntilBind(t *testing.T) {
	deferred := mcptransport.NewDeferredOwner()
	real := &recordingOwner{}

	done := make(chan struct{})
	go func() {
		deferred.Receive(mcpschema.Notification{Method: "notifications/initialized"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Receive returned before Bind was called")
	case <-time.After(20 * time.Millisecond):
	}

	deferred.Bind(real)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Receive never unblocked after Bind")
	}

	require.Len(t, real.snapshot(), 1)
	assert.Equal(t, "notifications/initialized", real.snapshot()[0].(mcpschema.Notification).Method)
}

func TestDeferredOwnerDeliversImmediatelyAfterBind(t *testing.T) {
	deferred := mcptransport.NewDeferredOwner()
	real := &recordingOwner{}
	deferred.Bind(real)

	deferred.Receive(mcpschema.Notification{Method: "notifications/initialized"})
	deferred.ReceiveInvalid(nil)
	deferred.Closed(nil)

	assert.Len(t, real.snapshot(), 1)
}
