package services

// DiscountTier grants Percent off carts whose total is at least Threshold.
type DiscountTier struct {
	Threshold float64
	Percent   float64
}

// DiscountPolicy maps a cart total to a flat percentage. The highest
// matching tier wins.
type DiscountPolicy struct {
	Tiers []DiscountTier
}

func DefaultDiscountPolicy() DiscountPolicy {
	return DiscountPolicy{Tiers: []DiscountTier{
		{Threshold: 100, Percent: 10},
		{Threshold: 500, Percent: 20},
	}}
}

// Percent returns the discount for total, or 0 below the lowest tier.
func (p DiscountPolicy) Percent(total float64) float64 {
	var best DiscountTier
	for _, t := range p.Tiers {
		if total >= t.Threshold && t.Threshold >= best.Threshold {
			best = t
		}
	}
	return best.Percent
}
