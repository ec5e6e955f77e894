package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Transport delivers one request payload to addr and returns the response payload.
// When oneWay is set (notifications) nothing is read back and the result is nil.
type Transport interface {
	Send(ctx context.Context, addr string, payload []byte, oneWay bool) ([]byte, error)
	Close() error
}

var (
	// ErrConnClosed is returned when the peer closes the connection before a response arrives.
	ErrConnClosed = errors.New("transport: connection closed before a response was read")
	// ErrTransportClosed is returned by Send after Close.
	ErrTransportClosed = errors.New("transport: closed")
)

// DialError reports that no connection could be established, so nothing was sent.
// Calls failing with a DialError are safe to retry.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("transport: dial %s: %v", e.Addr, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Options configures the transports.
type Options struct {
	DialTimeout       time.Duration
	MaxBodySize       uint32
	HeartbeatInterval time.Duration // MuxTransport only; 0 disables heartbeats
	Logger            *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DialTimeout = d
	}
}

// WithMaxBodySize bounds the size of a single response frame.
func WithMaxBodySize(n uint32) Option {
	return func(o *Options) {
		o.MaxBodySize = n
	}
}

// WithHeartbeat sets the heartbeat interval of persistent connections.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *Options) {
		o.HeartbeatInterval = interval
	}
}

// WithLogger sets the logger for connection events.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func buildOptions(opts []Option) Options {
	o := Options{
		DialTimeout:       5 * time.Second,
		MaxBodySize:       DefaultMaxBodySize,
		HeartbeatInterval: 30 * time.Second,
		Logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ctxErr prefers the context's error when the context is what broke the I/O.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
