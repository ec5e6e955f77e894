package registry

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	instance ServiceInstance
	expires  time.Time // zero means no expiry
}

// MemoryRegistry is an in-process Registry for tests and single-host setups.
// TTLs are honoured lazily: expired entries are dropped when the service is read.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]memoryEntry // service -> addr -> entry
	watchers map[string][]chan []ServiceInstance
	closed   bool
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]memoryEntry),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, ok := r.services[serviceName]
	if !ok {
		entries = make(map[string]memoryEntry)
		r.services[serviceName] = entries
	}
	e := memoryEntry{instance: instance}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	entries[instance.Addr] = e
	r.notifyLocked(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entries, ok := r.services[serviceName]; ok {
		delete(entries, addr)
	}
	r.notifyLocked(serviceName)
	return nil
}

// Discover returns the live instances sorted by address.
func (r *MemoryRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(serviceName), nil
}

func (r *MemoryRegistry) liveLocked(serviceName string) []ServiceInstance {
	now := time.Now()
	entries := r.services[serviceName]
	instances := make([]ServiceInstance, 0, len(entries))
	for addr, e := range entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(entries, addr)
			continue
		}
		instances = append(instances, e.instance)
	}
	slices.SortFunc(instances, func(a, b ServiceInstance) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	return instances
}

// notifyLocked pushes the current list to every watcher, replacing a snapshot the
// watcher has not consumed yet.
func (r *MemoryRegistry) notifyLocked(serviceName string) {
	instances := r.liveLocked(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}

func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch
	}
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	context.AfterFunc(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[serviceName]
		if i := slices.Index(watchers, ch); i >= 0 {
			r.watchers[serviceName] = slices.Delete(watchers, i, i+1)
			close(ch)
		}
	})
	return ch
}

// Close ends every watch.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for service, watchers := range r.watchers {
		for _, ch := range watchers {
			close(ch)
		}
		delete(r.watchers, service)
	}
	return nil
}
