// Package server serves JSON-RPC 2.0 over framed TCP connections.
//
// Request processing pipeline for every request frame:
//
//	Read frame → UnmarshalRequest → Middleware Chain → Dispatch → MarshalResponse → Write frame
//
// Any failure along the way becomes the error member of the response; nothing is
// written back for notifications. By default a connection carries exactly one request
// and is closed afterwards. In persistent mode a connection carries many requests,
// each processed in its own goroutine and answered under the request's frame sequence
// number.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mini-jsonrpc/dispatch"
	"mini-jsonrpc/message"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/protocol"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/rpcerror"
	"mini-jsonrpc/transport"
)

var (
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")
	// ErrServing is returned by a second call to Serve.
	ErrServing = errors.New("server: already serving")
)

// Server owns one dispatcher and one protocol, shared read-only by every connection.
type Server struct {
	opts       Options
	logger     *zap.Logger
	protocol   *protocol.Protocol
	dispatcher *dispatch.Dispatcher

	mu            sync.Mutex
	middlewares   []middleware.Middleware // Applied in the order they were added
	handler       middleware.HandlerFunc  // middleware(middleware(...(dispatch))), fixed by Serve
	listener      net.Listener
	conns         map[net.Conn]struct{}
	advertiseAddr string // Address announced to the registry, empty if not registered

	wg       sync.WaitGroup // Tracks connections and in-flight requests
	shutdown atomic.Bool
}

// New creates a server with an empty dispatcher.
func New(opts ...Option) *Server {
	o := buildOptions(opts)
	return &Server{
		opts:       o,
		logger:     o.Logger,
		protocol:   protocol.New(o.Codec),
		dispatcher: dispatch.New(),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Register makes fn callable as name. See dispatch.Dispatcher.Register.
func (s *Server) Register(fn any, name string) error {
	return s.dispatcher.Register(fn, name)
}

// RegisterService makes the exported methods of rcvr callable as "<name>.<Method>".
func (s *Server) RegisterService(rcvr any, name string) error {
	return s.dispatcher.RegisterService(rcvr, name)
}

// Dispatcher exposes the method registry.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Use registers a middleware. Middlewares added after Serve has started are ignored.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.logger.Warn("middleware added after Serve is ignored")
		return
	}
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe listens on the given address and calls Serve.
func (s *Server) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on ln, one goroutine per connection, until Shutdown.
// It always returns a non-nil error; after Shutdown the error is ErrServerClosed.
// A server serves one listener: a second call returns ErrServing.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	if s.listener != nil {
		s.mu.Unlock()
		ln.Close()
		return ErrServing
	}
	s.listener = ln
	// Build the middleware chain once, not per request:
	//   Chain(A, B, C)(handler) → A(B(C(handler)))
	// Connections are only accepted after the lock is released, so they see it.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	s.mu.Unlock()

	s.logger.Info("serving",
		zap.Stringer("addr", ln.Addr()),
		zap.Bool("persistent", s.opts.Persistent),
		zap.Strings("methods", s.dispatcher.Methods()))

	if err := s.register(ln.Addr()); err != nil {
		ln.Close()
		return err
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener, which makes Accept fail.
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConn(conn)
	}
}

func (s *Server) register(addr net.Addr) error {
	if s.opts.Registry == nil {
		return nil
	}
	advertise := s.opts.AdvertiseAddr
	if advertise == "" {
		advertise = addr.String()
	}
	instance := registry.ServiceInstance{Addr: advertise, Weight: s.opts.Weight}
	if err := s.opts.Registry.Register(context.Background(), s.opts.ServiceName, instance, s.opts.RegistryTTL); err != nil {
		return err
	}

	s.mu.Lock()
	s.advertiseAddr = advertise
	s.mu.Unlock()
	return nil
}

// track records an accepted connection; it fails once shutdown has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConn serves one connection and closes it.
func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.Stringer("remote", conn.RemoteAddr()))
	logger.Debug("connection accepted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.opts.Persistent {
		s.servePersistent(ctx, conn, logger)
		return
	}
	s.serveOnce(ctx, conn, logger)
}

// serveOnce reads one request, answers it and returns.
func (s *Server) serveOnce(ctx context.Context, conn net.Conn, logger *zap.Logger) {
	if s.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}

	r := &frameReader{r: conn}
	var (
		header *transport.Header
		body   []byte
		err    error
	)
	for {
		header, body, err = s.readFrame(r)
		if err != nil || header.MsgType != transport.MsgTypeHeartbeat {
			break
		}
	}
	if err != nil {
		s.readFailed(conn, err, logger, nil)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if resp := s.process(ctx, body, logger); resp != nil {
		s.writeResponse(conn, header.Seq, resp, logger)
	}
}

// servePersistent runs a read loop in a single goroutine (frame boundaries must be
// parsed sequentially) and dispatches each request to its own goroutine, so a slow
// handler does not hold up the requests behind it. writeMu keeps response frames
// from interleaving.
func (s *Server) servePersistent(ctx context.Context, conn net.Conn, logger *zap.Logger) {
	writeMu := &sync.Mutex{}
	r := &frameReader{r: conn}
	var requests sync.WaitGroup
	defer requests.Wait()

	for {
		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		} else {
			conn.SetReadDeadline(time.Time{})
		}
		// Checked after the deadline is reset so a concurrent Shutdown cannot be missed.
		if s.shutdown.Load() {
			return
		}
		header, body, err := s.readFrame(r)
		if err != nil {
			s.readFailed(conn, err, logger, writeMu)
			return
		}

		switch header.MsgType {
		case transport.MsgTypeHeartbeat:
			continue
		case transport.MsgTypeResponse:
			logger.Debug("ignoring response frame from client", zap.Uint32("seq", header.Seq))
			continue
		}

		requests.Add(1)
		go func(seq uint32, body []byte) {
			defer requests.Done()
			if resp := s.process(ctx, body, logger); resp != nil {
				writeMu.Lock()
				defer writeMu.Unlock()
				s.writeResponse(conn, seq, resp, logger)
			}
		}(header.Seq, body)
	}
}

// frameReader counts the bytes read for the current frame.
type frameReader struct {
	r io.Reader
	n int
}

func (fr *frameReader) Read(p []byte) (int, error) {
	n, err := fr.r.Read(p)
	fr.n += n
	return n, err
}

// readFrame reads the next frame. A frame cut short by a timeout or a hang-up is
// reported as a FrameError, so it is answered like any other malformed frame.
func (s *Server) readFrame(r *frameReader) (*transport.Header, []byte, error) {
	r.n = 0
	header, body, err := transport.ReadFrame(r, s.opts.MaxBodySize)
	if err == nil || r.n == 0 {
		return header, body, err
	}
	var frameErr *transport.FrameError
	if errors.As(err, &frameErr) || s.shutdown.Load() {
		return nil, nil, err
	}
	return nil, nil, &transport.FrameError{Reason: fmt.Sprintf("incomplete frame after %d bytes: %v", r.n, err)}
}

// readFailed handles the end of a connection's input. A frame that violates the
// framing rules still gets a ParseError response before the connection is dropped.
func (s *Server) readFailed(conn net.Conn, err error, logger *zap.Logger, writeMu *sync.Mutex) {
	var frameErr *transport.FrameError
	switch {
	case errors.As(err, &frameErr):
		logger.Warn("malformed frame", zap.Error(err))
		resp, merr := s.protocol.MarshalResponse(nil, nil, rpcerror.Wrap(rpcerror.KindParse, err))
		if merr != nil {
			return
		}
		if writeMu != nil {
			writeMu.Lock()
			defer writeMu.Unlock()
		}
		s.writeResponse(conn, 0, resp, logger)
	case errors.Is(err, io.EOF):
		logger.Debug("connection closed by peer")
	case s.shutdown.Load():
		logger.Debug("connection closed for shutdown")
	default:
		logger.Debug("read failed", zap.Error(err))
	}
}

// process turns one request body into response bytes, or nil for a notification.
func (s *Server) process(ctx context.Context, body []byte, logger *zap.Logger) []byte {
	var result any
	req, err := s.protocol.UnmarshalRequest(body)
	if err == nil {
		result, err = s.handler(ctx, req)
	}

	resp, merr := s.protocol.MarshalResponse(req, result, err)
	if merr != nil {
		logger.Error("failed to marshal response", zap.Error(merr))
		return nil
	}
	return resp
}

// dispatch is the innermost handler, wrapped by the middleware chain.
func (s *Server) dispatch(ctx context.Context, req *message.Request) (any, error) {
	return s.dispatcher.Dispatch(ctx, req.Method, req.Params, req.Named)
}

func (s *Server) writeResponse(conn net.Conn, seq uint32, resp []byte, logger *zap.Logger) {
	// Same seq as the request: this is how the client matches responses on a shared connection.
	if err := transport.WriteFrame(conn, &transport.Header{MsgType: transport.MsgTypeResponse, Seq: seq}, resp); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}

// Shutdown performs a graceful shutdown:
//  1. Deregister from the registry, so clients stop routing here
//  2. Set the shutdown flag and close the listener
//  3. Unblock connections waiting for their next request
//  4. Wait for in-flight requests to finish, or for ctx to expire
//
// When ctx expires first, the remaining connections are closed and ctx's error is
// returned; handlers still running are abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	advertise := s.advertiseAddr
	s.advertiseAddr = ""
	s.mu.Unlock()

	if advertise != "" {
		if err := s.opts.Registry.Deregister(ctx, s.opts.ServiceName, advertise); err != nil {
			s.logger.Warn("failed to deregister", zap.Error(err))
		}
	}

	// The flag must be set BEFORE the listener closes, otherwise the Accept error
	// would be reported as a real failure.
	s.mu.Lock()
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}
