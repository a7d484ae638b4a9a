// Package loadbalance picks which framechan server a client connects to
// when the registry returns more than one.
//
// Three strategies are implemented:
//   - RoundRobin:      spread connections evenly across equal servers
//   - WeightedRandom:  servers with different capacity
//   - ConsistentHash:  the same client id keeps landing on the same server
package loadbalance

import (
	"errors"
	"fmt"
	"strings"

	"framechan/registry"
)

const (
	NameRoundRobin     = "round_robin"
	NameWeightedRandom = "weighted_random"
	NameConsistentHash = "consistent_hash"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance per connection attempt.
type Balancer interface {
	// Pick selects one instance from the available list. key is the client
	// id; strategies that do not need affinity ignore it. Must be goroutine-safe.
	Pick(key string, instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name used in configuration.
	Name() string
}

// New builds a balancer from its configuration name. Empty means round robin.
func New(name string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameRoundRobin:
		return &RoundRobinBalancer{}, nil
	case NameWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case NameConsistentHash:
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
	}
}
