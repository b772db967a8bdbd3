package kevaconn

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevadb/kevalink/keva"
	"github.com/kevadb/kevalink/wire"
)

const (
	connOpen = iota
	connClosed
)

// Conn is a single physical connection to a node. A new Conn is a new
// identity even when it is dialed to the same endpoint: reconnection is
// defined by identity, not by address equality.
//
// Conns are produced and replaced by a Link; commands are sent with Do.
type Conn struct {
	id    uint64
	ep    keva.Endpoint
	state uint32

	mu sync.Mutex
	c  net.Conn
	r  *bufio.Reader

	ioTimeout time.Duration
}

// ID is the monotonic identity of this physical connection within its link.
func (c *Conn) ID() uint64 {
	return c.id
}

// Endpoint is the endpoint this connection was dialed to.
func (c *Conn) Endpoint() keva.Endpoint {
	return c.ep
}

// Open reports whether the connection is still the live one.
func (c *Conn) Open() bool {
	return atomic.LoadUint32(&c.state) == connOpen
}

// Do sends one request and reads one reply. Requests on the same Conn are
// serialized; there is no pipelining on a single physical connection.
// The result follows the wire.Read convention: a plain value on success,
// an *errorx.Error otherwise (including redirect replies).
func (c *Conn) Do(ctx context.Context, req keva.Request) interface{} {
	buf, rerr := wire.AppendRequest(nil, req)
	if rerr != nil {
		return rerr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Open() {
		return keva.ErrIO.New("connection %d is closed", c.id).
			WithProperty(keva.EKEndpoint, c.ep)
	}

	deadline := time.Now().Add(c.ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.c.SetDeadline(deadline)

	if _, err := c.c.Write(buf); err != nil {
		c.close()
		return keva.WrapIO(err, "request write failed").
			WithProperty(keva.EKEndpoint, c.ep).
			WithProperty(keva.EKRequest, req)
	}
	res := wire.Read(c.r)
	if e := keva.AsErrorx(res); e != nil && e.IsOfType(keva.ErrIO) {
		c.close()
		return e.WithProperty(keva.EKEndpoint, c.ep).
			WithProperty(keva.EKRequest, req)
	}
	return res
}

// close is safe to call concurrently with a blocked Do: closing the
// socket is what interrupts it, so no lock is taken here.
func (c *Conn) close() {
	if atomic.CompareAndSwapUint32(&c.state, connOpen, connClosed) {
		c.c.Close()
	}
}
