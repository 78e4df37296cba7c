package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/core/types"
)

const (
	TypeEvolutionRegistered           = "evolution.registered"
	TypeEvolutionPromoted             = "evolution.promoted"
	TypeEvolutionRewardPaid           = "evolution.rewardPaid"
	TypeEvolutionApproverUpdated      = "evolution.approverUpdated"
	TypeEvolutionCriteriaUpdated      = "evolution.criteriaUpdated"
	TypeEvolutionPercentagesUpdated   = "evolution.rewardPercentagesUpdated"
	TypeEvolutionWhitelistUpdated     = "evolution.whitelistUpdated"
	TypeEvolutionOwnershipTransferred = "evolution.ownershipTransferred"
)

// EvolutionRegistered is emitted when an approved registration lands a user at level 0.
type EvolutionRegistered struct {
	User             common.Address
	Referrer         common.Address
	VerificationType uint8
	Commitment       common.Hash
	Approver         common.Address
}

func (EvolutionRegistered) EventType() string { return TypeEvolutionRegistered }

func (e EvolutionRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeEvolutionRegistered,
		Attributes: map[string]string{
			"user":             e.User.Hex(),
			"referrer":         e.Referrer.Hex(),
			"verificationType": strconv.FormatUint(uint64(e.VerificationType), 10),
			"commitment":       e.Commitment.Hex(),
			"approver":         e.Approver.Hex(),
		},
	}
}

// EvolutionPromoted is emitted when a user moves up one level.
type EvolutionPromoted struct {
	User      common.Address
	FromLevel uint8
	ToLevel   uint8
}

func (EvolutionPromoted) EventType() string { return TypeEvolutionPromoted }

func (e EvolutionPromoted) Event() *types.Event {
	return &types.Event{
		Type: TypeEvolutionPromoted,
		Attributes: map[string]string{
			"user":      e.User.Hex(),
			"fromLevel": strconv.FormatUint(uint64(e.FromLevel), 10),
			"toLevel":   strconv.FormatUint(uint64(e.ToLevel), 10),
		},
	}
}

// EvolutionRewardPaid records a reward credited from the pool.
type EvolutionRewardPaid struct {
	User      common.Address
	Level     uint8
	Base      *big.Int
	Reward    *big.Int
	Remaining *big.Int
}

func (EvolutionRewardPaid) EventType() string { return TypeEvolutionRewardPaid }

func (e EvolutionRewardPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeEvolutionRewardPaid,
		Attributes: map[string]string{
			"user":      e.User.Hex(),
			"level":     strconv.FormatUint(uint64(e.Level), 10),
			"base":      bigString(e.Base),
			"reward":    bigString(e.Reward),
			"remaining": bigString(e.Remaining),
		},
	}
}

// EvolutionApproverUpdated is emitted on every approver write, including no-op rotations.
type EvolutionApproverUpdated struct {
	Caller   common.Address
	Previous common.Address
	Approver common.Address
}

func (EvolutionApproverUpdated) EventType() string { return TypeEvolutionApproverUpdated }

func (e EvolutionApproverUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEvolutionApproverUpdated,
		Attributes: map[string]string{
			"caller":   e.Caller.Hex(),
			"previous": e.Previous.Hex(),
			"approver": e.Approver.Hex(),
		},
	}
}

// EvolutionCriteriaUpdated reports the levels configured by a criteria replace.
type EvolutionCriteriaUpdated struct {
	Caller common.Address
	Levels []uint8
}

func (EvolutionCriteriaUpdated) EventType() string { return TypeEvolutionCriteriaUpdated }

func (e EvolutionCriteriaUpdated) Event() *types.Event {
	levels := make([]string, len(e.Levels))
	for i, level := range e.Levels {
		levels[i] = strconv.FormatUint(uint64(level), 10)
	}
	return &types.Event{
		Type: TypeEvolutionCriteriaUpdated,
		Attributes: map[string]string{
			"caller": e.Caller.Hex(),
			"levels": strings.Join(levels, ","),
		},
	}
}

// EvolutionPercentagesUpdated reports a reward percentage table replace.
type EvolutionPercentagesUpdated struct {
	Caller      common.Address
	Percentages []uint64
}

func (EvolutionPercentagesUpdated) EventType() string { return TypeEvolutionPercentagesUpdated }

func (e EvolutionPercentagesUpdated) Event() *types.Event {
	values := make([]string, len(e.Percentages))
	for i, pct := range e.Percentages {
		values[i] = strconv.FormatUint(pct, 10)
	}
	return &types.Event{
		Type: TypeEvolutionPercentagesUpdated,
		Attributes: map[string]string{
			"caller":      e.Caller.Hex(),
			"percentages": strings.Join(values, ","),
		},
	}
}

// EvolutionWhitelistUpdated reports a fee whitelist batch.
type EvolutionWhitelistUpdated struct {
	Caller  common.Address
	Entries int
}

func (EvolutionWhitelistUpdated) EventType() string { return TypeEvolutionWhitelistUpdated }

func (e EvolutionWhitelistUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEvolutionWhitelistUpdated,
		Attributes: map[string]string{
			"caller":  e.Caller.Hex(),
			"entries": strconv.Itoa(e.Entries),
		},
	}
}

// EvolutionOwnershipTransferred reports a change of the administrative owner.
type EvolutionOwnershipTransferred struct {
	Previous common.Address
	Owner    common.Address
}

func (EvolutionOwnershipTransferred) EventType() string { return TypeEvolutionOwnershipTransferred }

func (e EvolutionOwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeEvolutionOwnershipTransferred,
		Attributes: map[string]string{
			"previous": e.Previous.Hex(),
			"owner":    e.Owner.Hex(),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
