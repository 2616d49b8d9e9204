package models

// DistributionPolicy decides how much the next claim on a pool receives.
// Implementations must drain the pool exactly: the amount for the last
// remaining share equals the full remaining amount.
type DistributionPolicy interface {
	NextAmount(remainingAmount float64, remainingShares int) float64
}

// EqualSplit divides the remaining amount evenly across the remaining shares.
// Because each grant is remaining/shares of the current remainder, the final
// share always receives exactly what is left.
type EqualSplit struct{}

func (EqualSplit) NextAmount(remainingAmount float64, remainingShares int) float64 {
	if remainingShares <= 0 {
		return 0
	}
	if remainingShares == 1 {
		return remainingAmount
	}
	return remainingAmount / float64(remainingShares)
}
