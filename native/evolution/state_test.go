package evolution

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// memState is a map-backed State. Update works on a copy and swaps it in on
// success, which is enough to observe atomicity from the engine's side.
type memState struct {
	data *memData
	// failCommit forces the next Update to fail after fn has run.
	failCommit bool
}

type memData struct {
	params      *Params
	users       map[common.Address]*User
	whitelist   map[common.Address]bool
	commitments map[common.Hash]common.Address
	pool        *big.Int
	balances    map[common.Address]*big.Int
}

var errCommitFailed = errors.New("commit failed")

func newMemState() *memState {
	return &memState{data: &memData{
		users:       make(map[common.Address]*User),
		whitelist:   make(map[common.Address]bool),
		commitments: make(map[common.Hash]common.Address),
		pool:        big.NewInt(0),
		balances:    make(map[common.Address]*big.Int),
	}}
}

func (d *memData) clone() *memData {
	out := &memData{
		params:      d.params.Clone(),
		users:       make(map[common.Address]*User, len(d.users)),
		whitelist:   make(map[common.Address]bool, len(d.whitelist)),
		commitments: make(map[common.Hash]common.Address, len(d.commitments)),
		pool:        new(big.Int).Set(d.pool),
		balances:    make(map[common.Address]*big.Int, len(d.balances)),
	}
	for k, v := range d.users {
		out.users[k] = v.Clone()
	}
	for k, v := range d.whitelist {
		out.whitelist[k] = v
	}
	for k, v := range d.commitments {
		out.commitments[k] = v
	}
	for k, v := range d.balances {
		out.balances[k] = new(big.Int).Set(v)
	}
	return out
}

func (d *memData) Params() (*Params, error) { return d.params.Clone(), nil }

func (d *memData) User(addr common.Address) (*User, bool, error) {
	user, ok := d.users[addr]
	if !ok {
		return nil, false, nil
	}
	return user.Clone(), true, nil
}

func (d *memData) Whitelisted(addr common.Address) (bool, error) { return d.whitelist[addr], nil }

func (d *memData) CommitmentConsumed(commitment common.Hash) (bool, error) {
	_, ok := d.commitments[commitment]
	return ok, nil
}

func (d *memData) RewardPool() (*big.Int, error) { return new(big.Int).Set(d.pool), nil }

func (d *memData) Balance(addr common.Address) (*big.Int, error) {
	if bal, ok := d.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (d *memData) PutParams(params *Params) error {
	d.params = params.Clone()
	return nil
}

func (d *memData) PutUser(user *User) error {
	d.users[user.Address] = user.Clone()
	return nil
}

func (d *memData) SetWhitelisted(addr common.Address, exempt bool) error {
	d.whitelist[addr] = exempt
	return nil
}

func (d *memData) ConsumeCommitment(commitment common.Hash, user common.Address) error {
	d.commitments[commitment] = user
	return nil
}

func (d *memData) SetRewardPool(amount *big.Int) error {
	d.pool = new(big.Int).Set(amount)
	return nil
}

func (d *memData) SetBalance(addr common.Address, amount *big.Int) error {
	d.balances[addr] = new(big.Int).Set(amount)
	return nil
}

func (s *memState) Params() (*Params, error) { return s.data.Params() }
func (s *memState) User(addr common.Address) (*User, bool, error) { return s.data.User(addr) }
func (s *memState) Whitelisted(addr common.Address) (bool, error) { return s.data.Whitelisted(addr) }
func (s *memState) RewardPool() (*big.Int, error) { return s.data.RewardPool() }
func (s *memState) Balance(addr common.Address) (*big.Int, error) { return s.data.Balance(addr) }
func (s *memState) CommitmentConsumed(c common.Hash) (bool, error) { return s.data.CommitmentConsumed(c) }

func (s *memState) Update(fn func(Txn) error) error {
	working := s.data.clone()
	if err := fn(working); err != nil {
		return err
	}
	if s.failCommit {
		s.failCommit = false
		return errCommitFailed
	}
	s.data = working
	return nil
}
