package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/crypto"
	"evlvault/native/evolution"
)

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid evolution.%s %q", field, raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("evolution.%s must not be negative", field)
	}
	return amount, nil
}

func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("evolution.%s: %w", field, err)
	}
	return addr, nil
}

// Genesis converts the evolution section into engine genesis parameters.
// defaultOwner is used when no Owner is configured.
func (e Evolution) Genesis(defaultOwner common.Address) (evolution.Genesis, error) {
	owner, err := parseOptionalAddress("Owner", e.Owner)
	if err != nil {
		return evolution.Genesis{}, err
	}
	if owner == (common.Address{}) {
		owner = defaultOwner
	}
	approver, err := parseOptionalAddress("Approver", e.Approver)
	if err != nil {
		return evolution.Genesis{}, err
	}
	pool, err := parseAmount("RewardPool", e.RewardPool)
	if err != nil {
		return evolution.Genesis{}, err
	}

	levels := make([]uint8, len(e.Criteria))
	criteria := make([]evolution.Criterion, len(e.Criteria))
	for i, row := range e.Criteria {
		minAmount, err := parseAmount(fmt.Sprintf("Criteria[%d].MinAmount", i), row.MinAmount)
		if err != nil {
			return evolution.Genesis{}, err
		}
		levels[i] = row.Level
		criteria[i] = evolution.Criterion{
			MinReferrals:         row.MinReferrals,
			MinVerifiedReferrals: row.MinVerifiedReferrals,
			MinAmount:            minAmount,
		}
	}

	whitelist := make([]common.Address, 0, len(e.FeeWhitelist))
	for i, raw := range e.FeeWhitelist {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return evolution.Genesis{}, fmt.Errorf("evolution.FeeWhitelist[%d]:%w", i, err)
		}
		whitelist = append(whitelist, addr)
	}

	return evolution.Genesis{
		TotalLevels:        e.TotalLevels,
		Owner:              owner,
		Approver:           approver,
		RewardPercentages:  append([]uint64(nil), e.RewardPercentages...),
		CriteriaLevels:     levels,
		Criteria:           criteria,
		RewardPool:         pool,
		CommitmentMaxAge:   e.CommitmentMaxAgeSeconds,
		SingleUseApprovals: e.SingleUseApprovals,
		FeeWhitelist:       whitelist,
	}, nil
}
