package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/native/evolution"
)

// storedCriterion is the RLP form of a criteria table slot.
type storedCriterion struct {
	Configured           bool
	MinReferrals         uint64
	MinVerifiedReferrals uint64
	MinAmount            *big.Int
}

type storedParams struct {
	TotalLevels      uint8
	Owner            common.Address
	Approver         common.Address
	Criteria         []storedCriterion
	Rewards          []uint64
	CommitmentMaxAge uint64
	SingleUse        bool `rlp:"optional"`
}

type storedUser struct {
	Level             uint8
	Referrer          common.Address
	VerificationType  uint8
	Referrals         uint64
	VerifiedReferrals uint64
	TotalEarned       *big.Int
	Commitment        common.Hash
	RegisteredAt      uint64
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func encodeParams(p *evolution.Params) *storedParams {
	out := &storedParams{
		TotalLevels:      p.TotalLevels,
		Owner:            p.Owner,
		Approver:         p.Approver,
		Criteria:         make([]storedCriterion, len(p.Criteria)),
		Rewards:          append([]uint64{}, p.Rewards...),
		CommitmentMaxAge: p.CommitmentMaxAge,
		SingleUse:        p.SingleUseApprovals,
	}
	for i, slot := range p.Criteria {
		out.Criteria[i] = storedCriterion{
			Configured:           slot.Configured,
			MinReferrals:         slot.Criterion.MinReferrals,
			MinVerifiedReferrals: slot.Criterion.MinVerifiedReferrals,
			MinAmount:            nonNil(slot.Criterion.MinAmount),
		}
	}
	return out
}

func (s *storedParams) decode() *evolution.Params {
	params := &evolution.Params{
		TotalLevels:        s.TotalLevels,
		Owner:              s.Owner,
		Approver:           s.Approver,
		Criteria:           make(evolution.CriteriaTable, len(s.Criteria)),
		Rewards:            append(evolution.RewardTable{}, s.Rewards...),
		CommitmentMaxAge:   s.CommitmentMaxAge,
		SingleUseApprovals: s.SingleUse,
	}
	for i, c := range s.Criteria {
		params.Criteria[i] = evolution.CriterionSlot{
			Configured: c.Configured,
			Criterion: evolution.Criterion{
				MinReferrals:         c.MinReferrals,
				MinVerifiedReferrals: c.MinVerifiedReferrals,
				MinAmount:            nonNil(c.MinAmount),
			},
		}
	}
	return params
}

func encodeUser(u *evolution.User) *storedUser {
	return &storedUser{
		Level:             u.Level,
		Referrer:          u.Referrer,
		VerificationType:  uint8(u.VerificationType),
		Referrals:         u.Referrals,
		VerifiedReferrals: u.VerifiedReferrals,
		TotalEarned:       nonNil(u.TotalEarned),
		Commitment:        u.Commitment,
		RegisteredAt:      u.RegisteredAt,
	}
}

func (s *storedUser) decode(addr common.Address) *evolution.User {
	return &evolution.User{
		Address:           addr,
		Level:             s.Level,
		Referrer:          s.Referrer,
		VerificationType:  evolution.VerificationType(s.VerificationType),
		Referrals:         s.Referrals,
		VerifiedReferrals: s.VerifiedReferrals,
		TotalEarned:       nonNil(s.TotalEarned),
		Commitment:        s.Commitment,
		RegisteredAt:      s.RegisteredAt,
	}
}
