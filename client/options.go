package client

import (
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the default one-connection-per-call TCP transport,
// e.g. with transport.NewMuxTransport() for a persistent server.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithCodec sets the serializer. JSON is used by default.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) {
		c.codec = cd
	}
}

// WithDiscovery resolves the server address from reg on every call instead of using
// a fixed address. A nil balancer means round robin.
func WithDiscovery(reg registry.Registry, service string, b loadbalance.Balancer) Option {
	return func(c *Client) {
		c.registry = reg
		c.service = service
		c.balancer = b
	}
}

// WithRetry retries calls that could not connect up to n more times, waiting
// baseDelay, 2*baseDelay, 4*baseDelay... in between. Calls that reached the
// server are never retried.
func WithRetry(n int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.baseDelay = baseDelay
	}
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}
