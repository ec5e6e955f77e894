package transport

// MuxTransport enables multiple concurrent JSON-RPC calls over a single TCP connection
// per server address. It requires a server running in persistent mode.
//
// Each request frame gets a unique sequence number, and a background goroutine (recvLoop)
// continuously reads response frames and routes them to the correct caller via pending
// channels:
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MuxTransport keeps one multiplexed connection per address and redials after
// a connection breaks.
type MuxTransport struct {
	opts   Options
	mu     sync.Mutex
	conns  map[string]*muxConn
	closed bool
}

// NewMuxTransport creates a persistent, multiplexing transport.
func NewMuxTransport(opts ...Option) *MuxTransport {
	return &MuxTransport{
		opts:  buildOptions(opts),
		conns: make(map[string]*muxConn),
	}
}

// Send implements Transport.
func (t *MuxTransport) Send(ctx context.Context, addr string, payload []byte, oneWay bool) ([]byte, error) {
	mc, err := t.getConn(ctx, addr)
	if err != nil {
		return nil, err
	}
	return mc.roundTrip(ctx, payload, oneWay)
}

func (t *MuxTransport) getConn(ctx context.Context, addr string) (*muxConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if mc, ok := t.conns[addr]; ok && !mc.isClosed() {
		return mc, nil
	}

	dialer := net.Dialer{Timeout: t.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DialError{Addr: addr, Err: err}
	}

	mc := newMuxConn(conn, t.opts)
	t.conns[addr] = mc
	return mc, nil
}

// Close shuts down every connection. Pending calls fail with ErrTransportClosed.
func (t *MuxTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for addr, mc := range t.conns {
		mc.shutdown(ErrTransportClosed)
		delete(t.conns, addr)
	}
	return nil
}

type reply struct {
	body []byte
	err  error
}

// muxConn manages a single multiplexed TCP connection.
type muxConn struct {
	conn    net.Conn
	opts    Options
	seq     uint32     // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map   // map[uint32]chan reply, one channel per request
	sending sync.Mutex // Keeps frames from different goroutines from interleaving

	done      chan struct{}
	closeOnce sync.Once
	err       error // Why the connection stopped, valid once done is closed
}

// newMuxConn starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames so the server does not reap an idle connection
func newMuxConn(conn net.Conn, opts Options) *muxConn {
	c := &muxConn{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
	go c.recvLoop()
	if opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(opts.HeartbeatInterval)
	}
	return c
}

// roundTrip writes one request frame and waits for the response with the same sequence number.
func (c *muxConn) roundTrip(ctx context.Context, payload []byte, oneWay bool) ([]byte, error) {
	var ch chan reply

	c.sending.Lock()
	c.seq++
	seq := c.seq

	// Register the response channel BEFORE sending (avoid race with recvLoop)
	if !oneWay {
		ch = make(chan reply, 1) // Buffered so recvLoop never blocks on a caller
		c.pending.Store(seq, ch)
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	err := WriteFrame(c.conn, &Header{MsgType: MsgTypeRequest, Seq: seq}, payload)
	c.conn.SetWriteDeadline(time.Time{})
	c.sending.Unlock()

	if err != nil {
		c.pending.Delete(seq)
		c.shutdown(err)
		return nil, ctxErr(ctx, err)
	}
	if oneWay {
		return nil, nil
	}

	select {
	case r := <-ch:
		return r.body, r.err
	case <-c.done:
		// The reply may have been routed just before the connection went down.
		select {
		case r := <-ch:
			return r.body, r.err
		default:
			return nil, c.err
		}
	case <-ctx.Done():
		c.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from the connection.
// Responses can arrive in any order; each one is routed to the waiting caller by sequence number.
// Reads stay in a single goroutine because frame boundaries must be parsed sequentially.
func (c *muxConn) recvLoop() {
	for {
		header, body, err := ReadFrame(c.conn, c.opts.MaxBodySize)
		if err != nil {
			c.shutdown(err)
			return
		}

		if header.MsgType != MsgTypeResponse {
			continue
		}

		if ch, ok := c.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan reply) <- reply{body: body}
		}
	}
}

// shutdown closes the connection once and fails every pending caller
// so they don't block forever waiting for a response.
func (c *muxConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.err = ErrConnClosed
		if cause == ErrTransportClosed {
			c.err = cause
		}
		c.opts.Logger.Debug("multiplexed connection closed",
			zap.String("remote", c.conn.RemoteAddr().String()), zap.Error(cause))

		close(c.done)
		c.conn.Close()

		c.pending.Range(func(key, value any) bool {
			if _, ok := c.pending.LoadAndDelete(key); ok {
				value.(chan reply) <- reply{err: c.err}
			}
			return true
		})
	})
}

func (c *muxConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have MsgType=Heartbeat and no body, so they're very lightweight.
func (c *muxConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		// Heartbeat writes also need the sending lock to avoid frame interleaving
		c.sending.Lock()
		err := WriteFrame(c.conn, &Header{MsgType: MsgTypeHeartbeat}, nil)
		c.sending.Unlock()
		if err != nil {
			c.shutdown(err)
			return
		}
	}
}
