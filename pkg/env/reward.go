package env

// Reward bounds of the environment. Illegal traversals earn the
// minimum, accuracies at 100% map to the maximum.
const (
	RewardIllegal = -0.1
	RewardMin     = -0.1
	RewardMax     = 4.0
)

func clampAccuracy(acc float64) float64 {
	if acc < 0 {
		return 0
	}
	if acc > 1 {
		return 1
	}
	return acc
}

// scaleReward maps an accuracy against the episode baseline. Matching
// the baseline exactly is worth nothing. Accuracies above it map
// linearly onto (0, 4] against the remaining headroom, accuracies below
// it onto [-0.1, 0) against the baseline itself. Both inputs are
// clamped fractions, so the denominators stay positive.
func scaleReward(baseline, acc float64) float64 {
	if baseline == acc {
		return 0.0
	}
	if baseline < acc {
		a1, a2 := baseline, 1.0
		b1, b2 := 0.0, RewardMax
		return b1 + (acc-a1)*(b2-b1)/(a2-a1)
	}
	a1, a2 := 0.0, baseline
	b1, b2 := RewardMin, 0.0
	return b1 + (acc-a1)*(b2-b1)/(a2-a1)
}
