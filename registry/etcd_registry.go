package registry

// Etcd stores instances as JSON under
//
//	/portal/{scope}/{addr}
//
// attached to a TTL lease. The lease is kept alive while the process runs, so
// a crashed host disappears from the directory once the TTL elapses.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/portal/"

type Etcd struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, so refreshes reuse one lease
}

// NewEtcd connects to the given endpoints.
func NewEtcd(endpoints []string) (*Etcd, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &Etcd{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

func instanceKey(scope, addr string) string {
	return keyPrefix + scopeKey(scope) + "/" + addr
}

func scopePrefix(scope string) string {
	return keyPrefix + scopeKey(scope) + "/"
}

// Register puts the instance. The first registration of a key grants a lease and
// starts KeepAlive; later ones overwrite the value under the same lease.
func (r *Etcd) Register(ctx context.Context, scope string, instance Instance, ttl int64) error {
	key := instanceKey(scope, instance.Addr)
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	leaseID, ok := r.leases[key]
	if !ok {
		lease, err := r.client.Grant(ctx, ttl)
		if err != nil {
			return fmt.Errorf("registry: grant lease: %w", err)
		}
		leaseID = lease.ID

		// KeepAlive outlives ctx; it stops when the lease is revoked or the client closes
		ch, err := r.client.KeepAlive(context.Background(), leaseID)
		if err != nil {
			return fmt.Errorf("registry: keepalive: %w", err)
		}
		go func() {
			for range ch {
			}
		}()
		r.leases[key] = leaseID
	}

	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(leaseID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}
	return nil
}

// Deregister deletes the key and revokes its lease.
func (r *Etcd) Deregister(ctx context.Context, scope string, addr string) error {
	key := instanceKey(scope, addr)

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	if ok {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("registry: revoke lease: %w", err)
		}
	}
	return nil
}

// Discover returns every instance registered under scope. Malformed entries are
// skipped.
func (r *Etcd) Discover(ctx context.Context, scope string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, scopePrefix(scope), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %q: %w", scope, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the full list on every change under the scope prefix.
func (r *Etcd) Watch(ctx context.Context, scope string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, scopePrefix(scope), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, scope)
			if err != nil {
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

func (r *Etcd) Close() error {
	return r.client.Close()
}
