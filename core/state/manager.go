package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"evlvault/native/evolution"
	"evlvault/storage"
)

// ErrManagerUnavailable is returned by methods invoked on a nil manager.
var ErrManagerUnavailable = errors.New("state: manager unavailable")

// Manager persists evolution state in a key/value database. Values are RLP
// encoded; every Update is written as a single batch.
type Manager struct {
	db storage.Database
	// commit serialises Update calls so overlapping transactions cannot
	// interleave their batches.
	commit sync.Mutex
	kvReader
}

var _ evolution.State = (*Manager)(nil)

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	m := &Manager{db: db}
	m.kvReader = kvReader{lookup: m.get}
	return m
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if m == nil || m.db == nil {
		return nil, ErrManagerUnavailable
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// Update runs fn against a buffered transaction and writes its changes in
// one batch when fn succeeds.
func (m *Manager) Update(fn func(evolution.Txn) error) error {
	if m == nil || m.db == nil {
		return ErrManagerUnavailable
	}
	m.commit.Lock()
	defer m.commit.Unlock()

	tx := newTxn(m)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// KVPut stores value under key using RLP encoding, outside any transaction.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m == nil || m.db == nil {
		return ErrManagerUnavailable
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	if m == nil || m.db == nil {
		return false, ErrManagerUnavailable
	}
	return m.kvReader.decode(key, out)
}

// kvReader implements evolution.Reader over a raw lookup function. A nil
// slice from lookup means the key is absent.
type kvReader struct {
	lookup func(key []byte) ([]byte, error)
}

func (r kvReader) decode(key []byte, out interface{}) (bool, error) {
	data, err := r.lookup(key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (r kvReader) Params() (*evolution.Params, error) {
	var stored storedParams
	ok, err := r.decode(evolutionParamsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.decode(), nil
}

func (r kvReader) User(addr common.Address) (*evolution.User, bool, error) {
	var stored storedUser
	ok, err := r.decode(UserKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.decode(addr), true, nil
}

func (r kvReader) Whitelisted(addr common.Address) (bool, error) {
	var exempt bool
	if _, err := r.decode(WhitelistKey(addr), &exempt); err != nil {
		return false, err
	}
	return exempt, nil
}

func (r kvReader) CommitmentConsumed(commitment common.Hash) (bool, error) {
	return r.decode(CommitmentKey(commitment), nil)
}

// CommitmentOwner returns the user whose registration consumed commitment.
func (r kvReader) CommitmentOwner(commitment common.Hash) (common.Address, bool, error) {
	var owner common.Address
	ok, err := r.decode(CommitmentKey(commitment), &owner)
	return owner, ok, err
}

func (r kvReader) amount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := r.decode(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (r kvReader) RewardPool() (*big.Int, error) {
	return r.amount(evolutionRewardPoolKey)
}

func (r kvReader) Balance(addr common.Address) (*big.Int, error) {
	return r.amount(BalanceKey(addr))
}
