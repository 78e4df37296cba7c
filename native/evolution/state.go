package evolution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader exposes committed evolution state.
type Reader interface {
	// Params returns nil when the module has not been initialised.
	Params() (*Params, error)
	User(addr common.Address) (*User, bool, error)
	Whitelisted(addr common.Address) (bool, error)
	CommitmentConsumed(commitment common.Hash) (bool, error)
	RewardPool() (*big.Int, error)
	Balance(addr common.Address) (*big.Int, error)
}

// Txn is a write transaction. Reads observe the transaction's own pending
// writes; nothing is visible to other readers until the transaction commits.
type Txn interface {
	Reader
	PutParams(params *Params) error
	PutUser(user *User) error
	SetWhitelisted(addr common.Address, exempt bool) error
	ConsumeCommitment(commitment common.Hash, user common.Address) error
	SetRewardPool(amount *big.Int) error
	SetBalance(addr common.Address, amount *big.Int) error
}

// State is the storage backend of the engine.
type State interface {
	Reader
	// Update runs fn in a transaction. The writes are committed atomically
	// when fn returns nil and discarded otherwise.
	Update(fn func(Txn) error) error
}
