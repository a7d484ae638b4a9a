package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"framechan/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps client ids to instances on a hash ring, so a
// reconnecting client returns to the server that issued its last session.
//
// Each real instance owns N virtual nodes; without them a handful of servers
// can cluster on the ring and take uneven shares.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
//
// The ring is rebuilt only when the set of addresses passed to Pick changes.
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string            // Sorted, joined addresses the ring was built from
	ring      []uint32          // Sorted hash values
	nodes     map[uint32]string // Hash value → instance address
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: defaultReplicas}
}

func (b *ConsistentHashBalancer) Pick(key string, instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuildLocked(instances)
	hash := crc32.ChecksumIEEE([]byte(key))

	// Binary search: first node with hash >= key's hash, wrapping to 0
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("loadbalance: ring node %s not in instance list", addr)
}

func (b *ConsistentHashBalancer) rebuildLocked(instances []registry.Instance) {
	addrs := make([]string, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, inst.Addr)
	}
	sort.Strings(addrs)
	sig := strings.Join(addrs, ",")
	if sig == b.signature && b.ring != nil {
		return
	}

	b.signature = sig
	b.ring = make([]uint32, 0, len(addrs)*b.replicas)
	b.nodes = make(map[uint32]string, len(addrs)*b.replicas)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, h)
			b.nodes[h] = addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func (b *ConsistentHashBalancer) Name() string {
	return NameConsistentHash
}
