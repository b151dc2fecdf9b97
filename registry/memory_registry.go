package registry

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Registry for tests and single-process deployments.
// TTLs are ignored.
type Memory struct {
	mu        sync.Mutex
	instances map[string]map[string]Instance // scope key → addr → instance
	watchers  map[string][]chan []Instance
}

func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]map[string]Instance),
		watchers:  make(map[string][]chan []Instance),
	}
}

func (m *Memory) Register(ctx context.Context, scope string, instance Instance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scopeKey(scope)
	if m.instances[key] == nil {
		m.instances[key] = make(map[string]Instance)
	}
	m.instances[key][instance.Addr] = instance
	m.notifyLocked(key)
	return nil
}

func (m *Memory) Deregister(ctx context.Context, scope string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scopeKey(scope)
	delete(m.instances[key], addr)
	m.notifyLocked(key)
	return nil
}

func (m *Memory) Discover(ctx context.Context, scope string) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(scopeKey(scope)), nil
}

func (m *Memory) Watch(ctx context.Context, scope string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	key := scopeKey(scope)

	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[key]
		for i, w := range watchers {
			if w == ch {
				m.watchers[key] = append(watchers[:i:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// listLocked returns instances sorted by address so callers see a stable order.
func (m *Memory) listLocked(key string) []Instance {
	out := make([]Instance, 0, len(m.instances[key]))
	for _, inst := range m.instances[key] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notifyLocked replaces any unread update with the latest list.
func (m *Memory) notifyLocked(key string) {
	list := m.listLocked(key)
	for _, ch := range m.watchers[key] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
