// Package client calls methods on a remote JSON-RPC server.
//
// Every call marshals a request with a fresh id, sends it over the transport, and
// unmarshals the response. Failures reported by the server come back as
// *rpcerror.Error values of the matching kind:
//
//	c := client.New("127.0.0.1:4000")
//	sum, err := c.Call(ctx, "add", 2, 3)
//	if errors.Is(err, rpcerror.ErrMethodNotFound) { ... }
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/message"
	"mini-jsonrpc/protocol"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/rpcerror"
	"mini-jsonrpc/transport"
)

// Client is a proxy for the methods of one server (or one discovered service).
// It is safe for concurrent use.
type Client struct {
	addr      string
	codec     codec.Codec
	protocol  *protocol.Protocol
	transport transport.Transport
	logger    *zap.Logger

	registry registry.Registry // nil when calling a fixed address
	service  string
	balancer loadbalance.Balancer

	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the server at addr. addr is ignored when WithDiscovery is used.
func New(addr string, opts ...Option) *Client {
	c := &Client{addr: addr}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.NewTCPTransport()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.registry != nil && c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	c.protocol = protocol.New(c.codec)
	return c
}

// Call invokes method with positional arguments and returns the decoded result.
// A response with an empty body yields nil, nil.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	req, err := c.protocol.NewRequest(method, args, nil)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, req)
}

// CallNamed invokes method with named arguments.
func (c *Client) CallNamed(ctx context.Context, method string, named map[string]any) (any, error) {
	req, err := c.protocol.NewRequest(method, nil, named)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, req)
}

// CallInto invokes method and decodes the result into reply, which must be a pointer.
func (c *Client) CallInto(ctx context.Context, method string, reply any, args ...any) error {
	result, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	return decodeInto(result, reply)
}

// Func binds a method name, so the remote method can be passed around like a local function.
func (c *Client) Func(method string) func(ctx context.Context, args ...any) (any, error) {
	return func(ctx context.Context, args ...any) (any, error) {
		return c.Call(ctx, method, args...)
	}
}

// Notify sends a notification: the server runs method but sends nothing back,
// so errors raised by the method are never observed.
func (c *Client) Notify(ctx context.Context, method string, args ...any) error {
	req, err := c.protocol.NewNotification(method, args, nil)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, req)
	return err
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// CallAs invokes method and decodes the result into a T.
func CallAs[T any](ctx context.Context, c *Client, method string, args ...any) (T, error) {
	var reply T
	err := c.CallInto(ctx, method, &reply, args...)
	return reply, err
}

func (c *Client) call(ctx context.Context, req *message.Request) (any, error) {
	payload, err := c.protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	oneWay := req.IsNotification()
	data, err := c.withRetry(ctx, req.Method, func() ([]byte, error) {
		addr, err := c.resolve(ctx, req.Method)
		if err != nil {
			return nil, err
		}
		return c.transport.Send(ctx, addr, payload, oneWay)
	})
	if err != nil {
		c.logger.Debug("call failed", zap.String("method", req.Method), zap.Error(err))
		return nil, err
	}
	if oneWay || len(data) == 0 {
		return nil, nil
	}

	resp, err := c.protocol.UnmarshalResponse(data)
	if resp == nil {
		return nil, err
	}
	// A request the server could not read is answered with a null id.
	if err != nil && resp.ID == nil {
		return nil, err
	}
	if !c.protocol.MatchID(req.ID, resp.ID) {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse,
			"response id %v does not match request id %v", resp.ID, req.ID)
	}
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// resolve picks the server address for one attempt.
func (c *Client) resolve(ctx context.Context, method string) (string, error) {
	if c.registry == nil {
		return c.addr, nil
	}
	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return "", fmt.Errorf("client: discover %s: %w", c.service, err)
	}
	inst, err := c.balancer.Pick(method, instances)
	if err != nil {
		return "", fmt.Errorf("client: pick instance of %s: %w", c.service, err)
	}
	return inst.Addr, nil
}

// decodeInto converts a decoded result tree into reply by a JSON round trip.
func decodeInto(result any, reply any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return rpcerror.Wrap(rpcerror.KindInvalidResponse, err)
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return rpcerror.New(rpcerror.KindInvalidResponse, "cannot decode result into %T: %v", reply, err)
	}
	return nil
}
