package evolution

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var percentageDenominator = uint256.NewInt(PercentageDenominator)

// RewardTable holds one reward percentage per level, in hundredths of a
// percent.
type RewardTable []uint64

// NewRewardTable validates that exactly one percentage is supplied per level.
func NewRewardTable(totalLevels uint8, percentages []uint64) (RewardTable, error) {
	if err := validateTotalLevels(totalLevels); err != nil {
		return nil, err
	}
	if len(percentages) != int(totalLevels) {
		return nil, fmt.Errorf("%w: %d percentages for %d levels", ErrLengthMismatch, len(percentages), totalLevels)
	}
	return append(RewardTable(nil), percentages...), nil
}

func (t RewardTable) Clone() RewardTable {
	if t == nil {
		return nil
	}
	return append(RewardTable(nil), t...)
}

// ApplyReward returns floor(base * percentage[level] / 10000). The product is
// computed at 512-bit width before dividing; a result beyond 256 bits is an
// arithmetic fault.
func (t RewardTable) ApplyReward(level uint8, base *big.Int) (*big.Int, error) {
	if int(level) >= len(t) {
		return nil, fmt.Errorf("%w: level %d, table has %d entries", ErrLevelOutOfRange, level, len(t))
	}
	if base == nil {
		return big.NewInt(0), nil
	}
	if base.Sign() < 0 {
		return nil, fmt.Errorf("%w: base %s", ErrNegativeAmount, base)
	}
	x, overflow := uint256.FromBig(base)
	if overflow {
		return nil, fmt.Errorf("%w: base %s", ErrRewardOverflow, base)
	}
	reward, overflow := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(t[level]), percentageDenominator)
	if overflow {
		return nil, fmt.Errorf("%w: base %s at level %d", ErrRewardOverflow, base, level)
	}
	return reward.ToBig(), nil
}
