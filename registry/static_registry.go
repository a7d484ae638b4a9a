package registry

import (
	"context"
	"sync"
)

// StaticRegistry is an in-memory Registry. The client seeds it with the
// configured host:port when no etcd endpoints are set.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]Instance
	watchers  map[string][]chan []Instance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		instances: make(map[string][]Instance),
		watchers:  make(map[string][]chan []Instance),
	}
}

// Register adds or replaces the instance with the same address. ttl is ignored.
func (r *StaticRegistry) Register(_ context.Context, service string, instance Instance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	insts := r.instances[service]
	replaced := false
	for i := range insts {
		if insts[i].Addr == instance.Addr {
			insts[i] = instance
			replaced = true
			break
		}
	}
	if !replaced {
		insts = append(insts, instance)
	}
	r.instances[service] = insts
	r.notifyLocked(service)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, service string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	insts := r.instances[service]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[service] = append(insts[:i:i], insts[i+1:]...)
			r.notifyLocked(service)
			break
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, service string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Instance(nil), r.instances[service]...), nil
}

// Watch emits the current list immediately and again after every change,
// until ctx is done.
func (r *StaticRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	ch <- append([]Instance(nil), r.instances[service]...)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[service]
		for i, w := range ws {
			if w == ch {
				r.watchers[service] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notifyLocked pushes the latest list to watchers, replacing a snapshot the
// watcher has not consumed yet.
func (r *StaticRegistry) notifyLocked(service string) {
	snapshot := append([]Instance(nil), r.instances[service]...)
	for _, ch := range r.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
