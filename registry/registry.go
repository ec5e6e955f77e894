// Package registry lets servers announce themselves and clients find them.
//
// A server registers serviceName -> ServiceInstance under a TTL lease while it is
// serving and deregisters on shutdown; clients Discover the live instances per call
// or Watch the set for changes.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNoInstances reports that a service has no live instances.
var ErrNoInstances = errors.New("registry: no instances available")

// ServiceInstance describes one server address for a service.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

// Registry is the service directory.
type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl time.Duration) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list whenever it changes, until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
