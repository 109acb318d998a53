package mcptransport

import (
	"sync"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
)

// DeferredOwner resolves the construction-order cycle a transport that
// starts delivering messages immediately (pkg/mcpstdio's InProcess/Spawn,
// which launch their read loop inline in the constructor) has with a
// session engine that needs the transport as one of its own constructor
// arguments: construct the transport against a DeferredOwner, construct the
// session engine against the transport, then Bind the engine as the real
// owner. Any message that arrives before Bind blocks until it is called,
// rather than delivering into a nil Owner.
type DeferredOwner struct {
	mu     sync.Mutex
	cond   *sync.Cond
	target Owner
}

// NewDeferredOwner returns a DeferredOwner with no bound target yet.
func NewDeferredOwner() *DeferredOwner {
	d := &DeferredOwner{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Bind attaches the real Owner and releases anything blocked waiting for
// it. Bind must be called exactly once.
func (d *DeferredOwner) Bind(owner Owner) {
	d.mu.Lock()
	d.target = owner
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *DeferredOwner) wait() Owner {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.target == nil {
		d.cond.Wait()
	}
	return d.target
}

var _ Owner = (*DeferredOwner)(nil)

func (d *DeferredOwner) Receive(msg mcpschema.Message) { d.wait().Receive(msg) }

func (d *DeferredOwner) ReceiveInvalid(err error) { d.wait().ReceiveInvalid(err) }

func (d *DeferredOwner) Closed(err error) { d.wait().Closed(err) }
