// Package registry is the directory through which guests find hosts. A host
// publishes one Instance per scope it serves, including the method names it
// currently exposes; guests discover instances for a scope and pick one with a
// load balancer.
//
// Discovery is outside the protocol core: a guest surface only ever needs a
// transport and the host's Peer, however they were obtained.
package registry

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("registry: no instances for scope")

type Instance struct {
	Addr    string   `json:"addr"`
	Weight  int      `json:"weight,omitempty"` // Weight for load balancing
	Version string   `json:"version,omitempty"`
	Methods []string `json:"methods,omitempty"` // Last capability set the host advertised
}

type Registry interface {
	// Register adds or refreshes instance under scope, expiring ttl seconds after
	// the owner stops renewing it.
	Register(ctx context.Context, scope string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, scope string, addr string) error
	Discover(ctx context.Context, scope string) ([]Instance, error)
	// Watch emits the full instance list whenever it changes, until ctx ends.
	Watch(ctx context.Context, scope string) <-chan []Instance
}

// scopeKey maps a scope to its directory segment. Unscoped hosts live under "_",
// which is not a legal scope name in configuration.
func scopeKey(scope string) string {
	if scope == "" {
		return "_"
	}
	return scope
}
