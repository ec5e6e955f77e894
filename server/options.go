package server

import (
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/transport"
)

// Options configures a Server.
type Options struct {
	Codec       codec.Codec
	Logger      *zap.Logger
	MaxBodySize uint32

	// ReadTimeout bounds reading one request frame. Zero means no limit.
	ReadTimeout time.Duration

	// Persistent keeps a connection open for many requests and serves them concurrently.
	Persistent bool
	// IdleTimeout closes a persistent connection that sends nothing, heartbeats included.
	IdleTimeout time.Duration

	// Registry, when set, announces ServiceName -> AdvertiseAddr while serving.
	Registry      registry.Registry
	ServiceName   string
	AdvertiseAddr string // Defaults to the listener address
	Weight        int
	RegistryTTL   time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithCodec sets the serializer. JSON is used by default.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMaxBodySize bounds the size of a request frame.
func WithMaxBodySize(n uint32) Option {
	return func(o *Options) {
		o.MaxBodySize = n
	}
}

// WithReadTimeout bounds how long a connection may take to deliver a request.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = d
	}
}

// WithPersistent switches between one request per connection (the default) and
// long-lived multiplexed connections.
func WithPersistent(persistent bool) Option {
	return func(o *Options) {
		o.Persistent = persistent
	}
}

// WithIdleTimeout sets how long a persistent connection may stay silent.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

// WithRegistry announces the server in reg under serviceName while it is serving.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, ttl time.Duration) Option {
	return func(o *Options) {
		o.Registry = reg
		o.ServiceName = serviceName
		o.AdvertiseAddr = advertiseAddr
		o.RegistryTTL = ttl
	}
}

// WithWeight sets the load balancing weight announced to the registry.
func WithWeight(w int) Option {
	return func(o *Options) {
		o.Weight = w
	}
}

func buildOptions(opts []Option) Options {
	o := Options{
		Codec:       codec.Default(),
		Logger:      zap.NewNop(),
		MaxBodySize: transport.DefaultMaxBodySize,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
		Weight:      1,
		RegistryTTL: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
