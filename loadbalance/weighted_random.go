package loadbalance

import (
	"math/rand"

	"portal-rpc/registry"
)

// WeightedRandomBalancer picks proportionally to Instance.Weight. Instances
// without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	totalWeight := 0
	for _, inst := range instances {
		totalWeight += weightOf(inst)
	}

	r := rand.Intn(totalWeight)
	for _, inst := range instances {
		r -= weightOf(inst)
		if r < 0 {
			return inst, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "weighted_random"
}

func weightOf(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
