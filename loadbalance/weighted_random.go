package loadbalance

import (
	"math/rand"

	"framechan/registry"
)

// MaxWeight caps an instance weight so the sum of weights cannot overflow.
const MaxWeight = 1 << 20

// WeightedRandomBalancer picks an instance with probability proportional to
// its Weight. Non-positive weights count as 1; larger ones are capped at MaxWeight.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	var totalWeight int64
	for _, inst := range instances {
		totalWeight += weightOf(inst)
	}

	r := rand.Int63n(totalWeight)
	for i := range instances {
		r -= weightOf(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}

	// Unreachable: r < totalWeight
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return NameWeightedRandom
}

func weightOf(inst registry.Instance) int64 {
	switch {
	case inst.Weight <= 0:
		return 1
	case inst.Weight > MaxWeight:
		return MaxWeight
	}
	return int64(inst.Weight)
}
