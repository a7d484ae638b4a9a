// Package registry also provides an etcd-backed Registry.
//
// etcd serves as a shared phonebook of framechan servers:
//
//	Key:   {prefix}{service}/{addr}     e.g. /framechan/framechan/10.0.0.5:8765
//	Value: JSON-encoded Instance
//
// Registration uses TTL leases: if a server dies without deregistering, the
// lease expires and etcd removes the entry.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"framechan/logging"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	prefix string
	log    zerolog.Logger

	mu     sync.Mutex
	leases map[string]registration // Keyed by etcd key
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc // Stops KeepAlive
}

// NewEtcdRegistry connects to endpoints. clientv3 dials lazily, so an
// unreachable cluster surfaces on the first request, not here.
func NewEtcdRegistry(endpoints []string, prefix string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "/framechan/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdRegistry{
		client: c,
		prefix: prefix,
		log:    logging.WithComponent("registry"),
		leases: make(map[string]registration),
	}, nil
}

func (r *EtcdRegistry) servicePrefix(service string) string {
	return r.prefix + service + "/"
}

// Register stores instance under a TTL lease and keeps the lease alive until
// Deregister or Close.
//
// Flow:
//  1. Grant a lease with the given TTL
//  2. Put the key with the lease attached
//  3. Start KeepAlive on a context owned by the registry, not by ctx
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.servicePrefix(service) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return err
	}

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
	}
	r.leases[key] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()

	// Drain KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
		r.log.Debug().Str("key", key).Msg("lease keepalive stopped")
	}()

	r.log.Info().Str("service", service).Str("addr", instance.Addr).Int64("ttl", ttl).Msg("registered")
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := r.servicePrefix(service) + addr

	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	if ok {
		reg.cancel()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			return err
		}
	}
	return nil
}

// Discover returns every instance currently registered for service.
// Malformed values are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Warn().Str("key", string(kv.Key)).Err(err).Msg("skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full instance list whenever anything under the service
// prefix changes. The channel closes when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the whole list instead of applying individual events
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.log.Warn().Str("service", service).Err(err).Msg("watch refresh failed")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops all keep-alives and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, reg := range r.leases {
		reg.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
