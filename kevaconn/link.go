package kevaconn

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/kevadb/kevalink/keva"
)

const (
	defaultDialTimeout = 1 * time.Second
	defaultIOTimeout   = 1 * time.Second
)

// Opts are options for a Link.
type Opts struct {
	// DialTimeout bounds connection establishment.
	// If DialTimeout == 0, then default is used (1s).
	DialTimeout time.Duration
	// IOTimeout - timeout on read/write to socket.
	// If IOTimeout == 0, then default is used (1s).
	IOTimeout time.Duration
	// Logger is a hook for connection lifecycle events.
	Logger Logger
	// Handle is returned with Link.Handle().
	Handle interface{}
}

// Link is the logical link to one cluster node. It owns at most one open
// physical Conn at a time and is the only place connections are created,
// replaced or closed. Replacement is single-flight: however many commands
// concurrently need a new connection, one dial happens and all of them
// observe the same new Conn.
type Link struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Opts

	mu       sync.Mutex
	ep       keva.Endpoint
	cur      *Conn
	inflight *dialFuture
	nextID   uint64
}

// dialFuture is the outcome of one in-flight replacement, shared by every
// caller that was waiting while it was running.
type dialFuture struct {
	done chan struct{}
	conn *Conn
	err  error
}

func (f *dialFuture) wait(ctx context.Context) (*Conn, error) {
	select {
	case <-f.done:
		return f.conn, f.err
	case <-ctx.Done():
		return nil, keva.ErrContextClosed.Wrap(ctx.Err(), "abandoned while waiting for connection")
	}
}

// Connect creates a Link to addr and establishes the initial connection.
func Connect(ctx context.Context, addr string, opts Opts) (*Link, error) {
	if ctx == nil {
		return nil, keva.ErrOpts.New("context should not be nil")
	}
	if addr == "" {
		return nil, keva.ErrOpts.New("no address provided")
	}
	ep, err := keva.ParseEndpoint(addr)
	if err != nil {
		return nil, err
	}

	link := &Link{
		ep:   ep,
		opts: opts,
	}
	link.ctx, link.cancel = context.WithCancel(ctx)

	if link.opts.DialTimeout <= 0 {
		link.opts.DialTimeout = defaultDialTimeout
	}
	if link.opts.IOTimeout <= 0 {
		link.opts.IOTimeout = defaultIOTimeout
	}
	if link.opts.Logger == nil {
		link.opts.Logger = defaultLogger{}
	}

	if _, err := link.Acquire(ctx); err != nil {
		link.cancel()
		return nil, err
	}

	go link.watch()

	return link, nil
}

// Endpoint is the configured endpoint of this link. It changes only
// through RedirectTo.
func (l *Link) Endpoint() keva.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ep
}

// Handle returns user specified handle from Opts.
func (l *Link) Handle() interface{} {
	return l.opts.Handle
}

// ConnectedNow reports whether an open connection exists at this instant.
func (l *Link) ConnectedNow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur != nil && l.cur.Open()
}

// Close shuts the link down for good.
func (l *Link) Close() {
	l.cancel()
}

// Acquire returns the current open connection, establishing one if none
// exists. During a replacement every caller blocks on the same in-flight
// dial and observes the same new Conn.
func (l *Link) Acquire(ctx context.Context) (*Conn, error) {
	for {
		l.mu.Lock()
		if err := l.closedLocked(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
		if l.cur != nil && l.cur.Open() {
			c := l.cur
			l.mu.Unlock()
			return c, nil
		}
		f := l.inflight
		if f == nil {
			f = l.startDialLocked()
		}
		l.mu.Unlock()

		c, err := f.wait(ctx)
		if err != nil || c.Open() {
			return c, err
		}
		// the freshly dialed conn was closed before we got to it; try again
	}
}

// ForceReplace discards stale even if it is healthy and dials a brand-new
// physical connection to the same configured endpoint. The old connection
// is closed before the new one opens. If stale has already been
// superseded, the current connection is returned without another rebuild,
// so one redirect event causes exactly one replacement no matter how many
// commands observed it.
func (l *Link) ForceReplace(ctx context.Context, stale *Conn, reason string) (*Conn, error) {
	l.mu.Lock()
	if err := l.closedLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if l.cur != nil && l.cur != stale && l.cur.Open() {
		c := l.cur
		l.mu.Unlock()
		return c, nil
	}
	if f := l.inflight; f != nil {
		l.mu.Unlock()
		return f.wait(ctx)
	}
	var closedID uint64
	closedAny := false
	if l.cur != nil {
		closedID, closedAny = l.cur.id, true
		l.cur.close()
		l.cur = nil
	}
	f := l.startDialLocked()
	l.mu.Unlock()
	// reported outside the lock: the logger may inspect the link
	if closedAny {
		l.report(LogForcedReconnect, closedID, reason)
	}
	return f.wait(ctx)
}

// RedirectTo repoints the link at a different endpoint and connects to
// it, closing the connection to the old one. If the link already holds an
// open connection to target, it is reused.
func (l *Link) RedirectTo(ctx context.Context, target keva.Endpoint) (*Conn, error) {
	for {
		l.mu.Lock()
		if err := l.closedLocked(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
		if f := l.inflight; f != nil {
			l.mu.Unlock()
			if _, err := f.wait(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if l.ep.Equal(target) && l.cur != nil && l.cur.Open() {
			c := l.cur
			l.mu.Unlock()
			return c, nil
		}
		l.ep = target
		var closedID uint64
		closedAny := false
		if l.cur != nil {
			closedID, closedAny = l.cur.id, true
			l.cur.close()
			l.cur = nil
		}
		f := l.startDialLocked()
		l.mu.Unlock()
		if closedAny {
			l.report(LogDisconnected, closedID)
		}
		return f.wait(ctx)
	}
}

/********** private api **************/

func (l *Link) report(event LogKind, v ...interface{}) {
	l.opts.Logger.Report(event, l, v...)
}

func (l *Link) closedLocked() error {
	if l.ctx.Err() != nil {
		return keva.ErrContextClosed.Wrap(l.ctx.Err(), "link to %s is closed", l.ep)
	}
	return nil
}

// startDialLocked begins a single-flight replacement. l.mu must be held;
// the dial itself runs without the lock so abandoning callers never leave
// it stuck, and the dial timeout bounds how long the future stays open.
func (l *Link) startDialLocked() *dialFuture {
	f := &dialFuture{done: make(chan struct{})}
	l.inflight = f
	l.nextID++
	go l.dial(f, l.ep, l.nextID)
	return f
}

func (l *Link) dial(f *dialFuture, ep keva.Endpoint, id uint64) {
	l.report(LogConnecting)
	netconn, err := net.DialTimeout("tcp", ep.Addr(), l.opts.DialTimeout)

	l.mu.Lock()
	l.inflight = nil
	if err != nil {
		f.err = keva.ErrConnUnavailable.Wrap(err, "could not connect to %s", ep)
		l.mu.Unlock()
		l.report(LogConnectFailed, f.err)
		close(f.done)
		return
	}
	conn := &Conn{
		id:        id,
		ep:        ep,
		c:         netconn,
		r:         bufio.NewReader(netconn),
		ioTimeout: l.opts.IOTimeout,
	}
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		conn.close()
		f.err = keva.ErrContextClosed.Wrap(l.ctx.Err(), "link to %s is closed", ep)
		close(f.done)
		return
	}
	l.cur = conn
	f.conn = conn
	l.mu.Unlock()

	l.report(LogConnected, conn.id,
		netconn.LocalAddr().String(), netconn.RemoteAddr().String())
	close(f.done)
}

func (l *Link) watch() {
	<-l.ctx.Done()
	l.mu.Lock()
	if l.cur != nil {
		l.cur.close()
		l.cur = nil
	}
	l.mu.Unlock()
	l.report(LogContextClosed)
}
