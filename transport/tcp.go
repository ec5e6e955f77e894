package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// TCPTransport opens a fresh connection for every Send:
//
//	dial → write request frame → read response frame → close
//
// There is no pooling or reuse, so concurrent Sends never share a connection.
type TCPTransport struct {
	opts Options
}

// NewTCPTransport creates a per-call transport.
func NewTCPTransport(opts ...Option) *TCPTransport {
	return &TCPTransport{opts: buildOptions(opts)}
}

// Send implements Transport. Cancelling ctx aborts a pending dial, write or read.
func (t *TCPTransport) Send(ctx context.Context, addr string, payload []byte, oneWay bool) ([]byte, error) {
	dialer := net.Dialer{Timeout: t.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DialError{Addr: addr, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// Unblock I/O as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(conn, &Header{MsgType: MsgTypeRequest, Seq: 1}, payload); err != nil {
		return nil, ctxErr(ctx, err)
	}
	if oneWay {
		return nil, nil
	}

	for {
		h, body, err := ReadFrame(conn, t.opts.MaxBodySize)
		if errors.Is(err, io.EOF) {
			return nil, ErrConnClosed
		}
		if err != nil {
			return nil, ctxErr(ctx, err)
		}

		switch h.MsgType {
		case MsgTypeResponse:
			return body, nil
		case MsgTypeHeartbeat:
			continue
		default:
			t.opts.Logger.Debug("unexpected frame from server",
				zap.String("addr", addr), zap.Stringer("msg_type", h.MsgType))
			return nil, &FrameError{Reason: "expected a response frame, got " + h.MsgType.String()}
		}
	}
}

// Close implements Transport. Per-call connections hold nothing between calls.
func (t *TCPTransport) Close() error {
	return nil
}
