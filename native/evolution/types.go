package evolution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VerificationType reports the proof-of-personhood strength behind a
// registration, as attested by the off-chain approver.
type VerificationType uint8

const (
	VerificationDevice VerificationType = 0
	VerificationOrb    VerificationType = 1
)

// Valid reports whether the type is one the registration boundary accepts.
func (v VerificationType) Valid() bool {
	return v == VerificationDevice || v == VerificationOrb
}

func (v VerificationType) String() string {
	switch v {
	case VerificationDevice:
		return "device"
	case VerificationOrb:
		return "orb"
	default:
		return "unknown"
	}
}

// Stats are the per-user counters evaluated against evolution criteria.
type Stats struct {
	Referrals         uint64
	VerifiedReferrals uint64
	Amount            *big.Int
}

func (s Stats) amount() *big.Int {
	if s.Amount == nil {
		return big.NewInt(0)
	}
	return s.Amount
}

// User is the persisted registration record.
type User struct {
	Address           common.Address
	Level             uint8
	Referrer          common.Address
	VerificationType  VerificationType
	Referrals         uint64
	VerifiedReferrals uint64
	TotalEarned       *big.Int
	Commitment        common.Hash
	RegisteredAt      uint64
}

// Clone returns a deep copy of the record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.TotalEarned = new(big.Int)
	if u.TotalEarned != nil {
		clone.TotalEarned.Set(u.TotalEarned)
	}
	return &clone
}

// Stats derives the criteria inputs for the user.
func (u *User) Stats() Stats {
	if u == nil {
		return Stats{Amount: big.NewInt(0)}
	}
	amount := big.NewInt(0)
	if u.TotalEarned != nil {
		amount.Set(u.TotalEarned)
	}
	return Stats{
		Referrals:         u.Referrals,
		VerifiedReferrals: u.VerifiedReferrals,
		Amount:            amount,
	}
}

// RegistrationRequest carries everything the registration boundary needs to
// authorise a new user.
type RegistrationRequest struct {
	User             common.Address
	VerificationType VerificationType
	Referrer         common.Address
	Timestamp        uint64
	// Commitment is optional; when set it must equal the recomputed value.
	Commitment common.Hash
	Signature  []byte
}

// Params is the process-wide configuration container. It is replaced as a
// whole on every update.
type Params struct {
	TotalLevels      uint8
	Owner            common.Address
	Approver         common.Address
	Criteria         CriteriaTable
	Rewards          RewardTable
	CommitmentMaxAge uint64

	// SingleUseApprovals rejects a second registration over a commitment
	// that already registered someone.
	SingleUseApprovals bool
}

// Clone returns a deep copy of the parameters.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Criteria = p.Criteria.Clone()
	clone.Rewards = p.Rewards.Clone()
	return &clone
}

// TerminalLevel returns the highest reachable level index.
func (p *Params) TerminalLevel() uint8 {
	if p == nil || p.TotalLevels == 0 {
		return 0
	}
	return p.TotalLevels - 1
}

// Genesis seeds the parameters of a fresh deployment.
type Genesis struct {
	TotalLevels        uint8
	Owner              common.Address
	Approver           common.Address
	RewardPercentages  []uint64
	CriteriaLevels     []uint8
	Criteria           []Criterion
	RewardPool         *big.Int
	CommitmentMaxAge   uint64
	SingleUseApprovals bool
	FeeWhitelist       []common.Address
}
