package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"evlvault/native/evolution"
)

// txn buffers writes in memory. Reads consult the buffer before the
// database so a transaction observes its own writes.
type txn struct {
	kvReader
	m       *Manager
	pending map[string][]byte
	order   []string
}

var _ evolution.Txn = (*txn)(nil)

func newTxn(m *Manager) *txn {
	tx := &txn{m: m, pending: make(map[string][]byte)}
	tx.kvReader = kvReader{lookup: tx.get}
	return tx
}

func (tx *txn) get(key []byte) ([]byte, error) {
	if data, ok := tx.pending[string(key)]; ok {
		return data, nil
	}
	return tx.m.get(key)
}

func (tx *txn) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(key)
	if _, ok := tx.pending[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.pending[k] = encoded
	return nil
}

func (tx *txn) commit() error {
	if len(tx.order) == 0 {
		return nil
	}
	batch := tx.m.db.NewBatch()
	for _, k := range tx.order {
		batch.Put([]byte(k), tx.pending[k])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit %d writes: %w", batch.Len(), err)
	}
	return nil
}

func (tx *txn) PutParams(params *evolution.Params) error {
	if params == nil {
		return fmt.Errorf("state: nil params")
	}
	return tx.put(evolutionParamsKey, encodeParams(params))
}

func (tx *txn) PutUser(user *evolution.User) error {
	if user == nil {
		return fmt.Errorf("state: nil user")
	}
	return tx.put(UserKey(user.Address), encodeUser(user))
}

func (tx *txn) SetWhitelisted(addr common.Address, exempt bool) error {
	return tx.put(WhitelistKey(addr), exempt)
}

func (tx *txn) ConsumeCommitment(commitment common.Hash, user common.Address) error {
	return tx.put(CommitmentKey(commitment), user)
}

func (tx *txn) SetRewardPool(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: reward pool must be non-negative")
	}
	return tx.put(evolutionRewardPoolKey, amount)
}

func (tx *txn) SetBalance(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance not allowed")
	}
	return tx.put(BalanceKey(addr), amount)
}
