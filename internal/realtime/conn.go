// README: Connection handle with a bounded outbound queue drained by its own writer.
package realtime

import (
	"errors"
	"sync"

	"trackd/internal/types"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrBackpressure = errors.New("connection queue full")
)

type ConnID string

// Identity is what the connection proved (or failed to prove) at handshake.
// Scope is the restaurant or driver id behind the role topic; it defaults
// to SubjectID.
type Identity struct {
	SubjectID types.ID
	Role      types.Role
	Scope     types.ID
	Guest     bool
}

func (i Identity) ScopeID() types.ID {
	if i.Scope != "" {
		return i.Scope
	}
	return i.SubjectID
}

type Conn struct {
	id       ConnID
	identity Identity
	queue    chan Frame
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	drops  int
}

func newConn(id ConnID, identity Identity, size int) *Conn {
	return &Conn{
		id:       id,
		identity: identity,
		queue:    make(chan Frame, size),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() ConnID         { return c.id }
func (c *Conn) Identity() Identity { return c.identity }

// Outbound is drained by the transport writer until Done is closed.
func (c *Conn) Outbound() <-chan Frame { return c.queue }

func (c *Conn) Done() <-chan struct{} { return c.done }

// Send enqueues without blocking.
func (c *Conn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.queue <- f:
		c.drops = 0
		return nil
	default:
		c.drops++
		return ErrBackpressure
	}
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) consecutiveDrops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

// close reports whether this call performed the close.
func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}
