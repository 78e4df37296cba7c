package evolution

import "math/big"

const (
	// DefaultTotalLevels is the number of evolution tiers of a standard deployment.
	DefaultTotalLevels = 5
	// MinTotalLevels is the smallest tier count with at least one transition.
	MinTotalLevels = 2
	// PercentageDenominator scales reward percentages: values are stored in
	// hundredths of a percent, so 10 means 0.10%.
	PercentageDenominator = 10_000
)

// DefaultRewardPercentages mirrors the reference deployment:
// 0.1%, 10%, 100%, 1000% and 10000% of the base amount.
func DefaultRewardPercentages() []uint64 {
	return []uint64{10, 1_000, 10_000, 100_000, 1_000_000}
}

// DefaultCriteria returns the reference thresholds for levels 0 through 3.
func DefaultCriteria() ([]uint8, []Criterion) {
	levels := []uint8{0, 1, 2, 3}
	criteria := []Criterion{
		{MinReferrals: 10, MinVerifiedReferrals: 0, MinAmount: big.NewInt(10_000)},
		{MinReferrals: 100, MinVerifiedReferrals: 1, MinAmount: big.NewInt(100_000)},
		{MinReferrals: 1_000, MinVerifiedReferrals: 10, MinAmount: big.NewInt(1_000_000)},
		{MinReferrals: 10_000, MinVerifiedReferrals: 100, MinAmount: big.NewInt(10_000_000)},
	}
	return levels, criteria
}

func validateTotalLevels(total uint8) error {
	if total < MinTotalLevels {
		return ErrInvalidTotalLevels
	}
	return nil
}
