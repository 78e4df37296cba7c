package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/crypto"
	"evlvault/native/evolution"
)

type makeCommitmentParams struct {
	VerificationType uint8  `json:"verificationType"`
	Referrer         string `json:"referrer,omitempty"`
	Timestamp        uint64 `json:"timestamp"`
}

type makeCommitmentResult struct {
	Commitment string `json:"commitment"`
	Encoded    string `json:"encoded"`
}

type registerParams struct {
	User             string `json:"user"`
	VerificationType uint8  `json:"verificationType"`
	Referrer         string `json:"referrer,omitempty"`
	Timestamp        uint64 `json:"timestamp"`
	Commitment       string `json:"commitment,omitempty"`
	Signature        string `json:"signature"`
}

type userParams struct {
	User string `json:"user"`
}

type payRewardParams struct {
	User string `json:"user"`
	Base string `json:"base"`
}

type previewRewardParams struct {
	Level uint8  `json:"level"`
	Base  string `json:"base"`
}

type setApproverParams struct {
	Approver string `json:"approver"`
}

type setRewardPercentagesParams struct {
	Percentages []uint64 `json:"percentages"`
}

type criterionJSON struct {
	MinReferrals         uint64 `json:"minReferrals"`
	MinVerifiedReferrals uint64 `json:"minVerifiedReferrals"`
	MinAmount            string `json:"minAmount"`
}

type setCriteriaParams struct {
	Levels   []uint8         `json:"levels"`
	Criteria []criterionJSON `json:"criteria"`
}

type setWhitelistBatchParams struct {
	Addresses []string `json:"addresses"`
	Flags     []bool   `json:"flags"`
}

type transferOwnershipParams struct {
	Owner string `json:"owner"`
}

// UserResult is the wire form of a registered user.
type UserResult struct {
	Address           string `json:"address"`
	Bech32            string `json:"bech32"`
	Level             uint8  `json:"level"`
	Referrer          string `json:"referrer"`
	VerificationType  uint8  `json:"verificationType"`
	Verification      string `json:"verification"`
	Referrals         uint64 `json:"referrals"`
	VerifiedReferrals uint64 `json:"verifiedReferrals"`
	TotalEarned       string `json:"totalEarned"`
	Balance           string `json:"balance"`
	Commitment        string `json:"commitment"`
	RegisteredAt      uint64 `json:"registeredAt"`
	Eligible          bool   `json:"eligible"`
}

// CriterionResult describes the criteria slot for one level.
type CriterionResult struct {
	Level                uint8  `json:"level"`
	Configured           bool   `json:"configured"`
	MinReferrals         uint64 `json:"minReferrals"`
	MinVerifiedReferrals uint64 `json:"minVerifiedReferrals"`
	MinAmount            string `json:"minAmount"`
}

// ParamsResult summarises the active evolution configuration.
type ParamsResult struct {
	TotalLevels       uint8    `json:"totalLevels"`
	Owner             string   `json:"owner"`
	Approver          string   `json:"approver"`
	RewardPercentages []uint64 `json:"rewardPercentages"`
	CommitmentMaxAge  uint64   `json:"commitmentMaxAgeSeconds"`
	SingleUse         bool     `json:"singleUseApprovals"`
	RewardPool        string   `json:"rewardPool"`
}

// PayRewardResult reports a credited reward.
type PayRewardResult struct {
	User       string `json:"user"`
	Reward     string `json:"reward"`
	RewardPool string `json:"rewardPool"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func userResultFrom(user *evolution.User, balance *big.Int, eligible bool) UserResult {
	return UserResult{
		Address:           user.Address.Hex(),
		Bech32:            crypto.FromCommon(user.Address).String(),
		Level:             user.Level,
		Referrer:          user.Referrer.Hex(),
		VerificationType:  uint8(user.VerificationType),
		Verification:      user.VerificationType.String(),
		Referrals:         user.Referrals,
		VerifiedReferrals: user.VerifiedReferrals,
		TotalEarned:       amountString(user.TotalEarned),
		Balance:           amountString(balance),
		Commitment:        user.Commitment.Hex(),
		RegisteredAt:      user.RegisteredAt,
		Eligible:          eligible,
	}
}

func criteriaResultFrom(table evolution.CriteriaTable) []CriterionResult {
	out := make([]CriterionResult, len(table))
	for i, slot := range table {
		out[i] = CriterionResult{
			Level:                uint8(i),
			Configured:           slot.Configured,
			MinReferrals:         slot.Criterion.MinReferrals,
			MinVerifiedReferrals: slot.Criterion.MinVerifiedReferrals,
			MinAmount:            amountString(slot.Criterion.MinAmount),
		}
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAddressField(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseOptionalAddressField maps an empty value to the zero address.
func parseOptionalAddressField(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddressField(field, raw)
}

func parseAmountField(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 0)
	if !ok {
		return nil, fmt.Errorf("%s must be an integer", field)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return value, nil
}

func parseHashField(field, raw string) (common.Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Hash{}, nil
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s must be a 32-byte hex string", field)
	}
	return common.BytesToHash(decoded), nil
}

func parseSignatureField(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("signature required")
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("signature must be hex encoded")
	}
	return decoded, nil
}
