// Package loadbalance picks the host instance a guest connects to when a scope is
// served by several hosts.
//
//   - RoundRobin:      equal hosts, spread guests evenly
//   - WeightedRandom:  hosts of different capacity
//   - ConsistentHash:  the same guest key keeps landing on the same host
package loadbalance

import (
	"errors"
	"fmt"

	"portal-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

type Balancer interface {
	// Pick selects one instance. key identifies the caller; only key-affine
	// strategies look at it. Must be goroutine-safe.
	Pick(key string, instances []registry.Instance) (registry.Instance, error)
	Name() string
}

// ByName resolves a configuration name.
func ByName(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
	}
}
