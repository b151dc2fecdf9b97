package host

import (
	"time"

	"github.com/rs/zerolog"

	"portal-rpc/registry"
)

// DefaultDebounce is how long the host waits after the last registration before
// broadcasting its method list.
const DefaultDebounce = 50 * time.Millisecond

type Option func(*Host)

// WithScope partitions this host from other pairs sharing the transport.
func WithScope(scope string) Option {
	return func(h *Host) { h.scope = scope }
}

func WithDebounce(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.debounce = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithRegistry publishes instance under the host's scope after every capability
// broadcast, with the current method list filled in.
func WithRegistry(reg registry.Registry, instance registry.Instance, ttl int64) Option {
	return func(h *Host) {
		h.registry = reg
		h.instance = instance
		h.ttl = ttl
	}
}
