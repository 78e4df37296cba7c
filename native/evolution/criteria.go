package evolution

import (
	"fmt"
	"math/big"
)

// Criterion holds the thresholds for promoting a user out of a level. All
// three must be met.
type Criterion struct {
	MinReferrals         uint64
	MinVerifiedReferrals uint64
	MinAmount            *big.Int
}

func (c Criterion) clone() Criterion {
	out := c
	out.MinAmount = new(big.Int)
	if c.MinAmount != nil {
		out.MinAmount.Set(c.MinAmount)
	}
	return out
}

// Met reports whether stats satisfy every threshold. Meeting a threshold
// exactly qualifies.
func (c Criterion) Met(stats Stats) bool {
	if stats.Referrals < c.MinReferrals {
		return false
	}
	if stats.VerifiedReferrals < c.MinVerifiedReferrals {
		return false
	}
	minAmount := c.MinAmount
	if minAmount == nil {
		minAmount = big.NewInt(0)
	}
	return stats.amount().Cmp(minAmount) >= 0
}

// CriterionSlot is one entry of the criteria table. Unconfigured slots block
// promotion out of their level.
type CriterionSlot struct {
	Configured bool
	Criterion  Criterion
}

// CriteriaTable is indexed by level and has one slot per transition
// (TotalLevels-1 entries).
type CriteriaTable []CriterionSlot

// NewCriteriaTable builds a complete table for totalLevels tiers from the
// supplied level/criterion pairs. Levels not listed are left unconfigured.
func NewCriteriaTable(totalLevels uint8, levels []uint8, criteria []Criterion) (CriteriaTable, error) {
	if err := validateTotalLevels(totalLevels); err != nil {
		return nil, err
	}
	if len(levels) != len(criteria) {
		return nil, fmt.Errorf("%w: %d levels, %d criteria", ErrLengthMismatch, len(levels), len(criteria))
	}
	table := make(CriteriaTable, int(totalLevels)-1)
	for i, level := range levels {
		if int(level) >= len(table) {
			return nil, fmt.Errorf("%w: level %d, max %d", ErrLevelOutOfRange, level, len(table)-1)
		}
		if table[level].Configured {
			return nil, fmt.Errorf("%w: level %d", ErrDuplicateLevel, level)
		}
		crit := criteria[i]
		if crit.MinAmount != nil && crit.MinAmount.Sign() < 0 {
			return nil, fmt.Errorf("%w: level %d min amount %s", ErrNegativeThreshold, level, crit.MinAmount)
		}
		table[level] = CriterionSlot{Configured: true, Criterion: crit.clone()}
	}
	return table, nil
}

// Clone returns a deep copy of the table.
func (t CriteriaTable) Clone() CriteriaTable {
	if t == nil {
		return nil
	}
	out := make(CriteriaTable, len(t))
	for i, slot := range t {
		out[i] = CriterionSlot{Configured: slot.Configured, Criterion: slot.Criterion.clone()}
	}
	return out
}

// TerminalLevel is the level with no outgoing transition.
func (t CriteriaTable) TerminalLevel() uint8 {
	return uint8(len(t))
}

// Evaluate explains why a user at level cannot evolve, or returns nil when it can.
func (t CriteriaTable) Evaluate(level uint8, stats Stats) error {
	if int(level) >= len(t) {
		return fmt.Errorf("%w: level %d", ErrTerminalLevel, level)
	}
	slot := t[level]
	if !slot.Configured {
		return fmt.Errorf("%w: level %d", ErrCriteriaNotConfigured, level)
	}
	if !slot.Criterion.Met(stats) {
		return fmt.Errorf("%w: level %d requires referrals>=%d verified>=%d amount>=%s, have %d/%d/%s",
			ErrCriteriaNotMet, level,
			slot.Criterion.MinReferrals, slot.Criterion.MinVerifiedReferrals, slot.Criterion.MinAmount,
			stats.Referrals, stats.VerifiedReferrals, stats.amount())
	}
	return nil
}

// IsEligible reports whether a user at level with stats may evolve.
func (t CriteriaTable) IsEligible(level uint8, stats Stats) bool {
	return t.Evaluate(level, stats) == nil
}
