package state

import "github.com/ethereum/go-ethereum/common"

var (
	evolutionParamsKey     = []byte("evolution/params")
	evolutionRewardPoolKey = []byte("evolution/rewardPool")
	evolutionUserPrefix    = []byte("evolution/user/")
	whitelistPrefix        = []byte("evolution/whitelist/")
	commitmentPrefix       = []byte("evolution/commitment/")
	ledgerBalancePrefix    = []byte("ledger/balance/")
)

func prefixed(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

// UserKey returns the storage key of a registration record.
func UserKey(addr common.Address) []byte { return prefixed(evolutionUserPrefix, addr.Bytes()) }

// WhitelistKey returns the storage key of a fee exemption flag.
func WhitelistKey(addr common.Address) []byte { return prefixed(whitelistPrefix, addr.Bytes()) }

// CommitmentKey returns the storage key marking a consumed commitment.
func CommitmentKey(commitment common.Hash) []byte {
	return prefixed(commitmentPrefix, commitment.Bytes())
}

// BalanceKey returns the storage key of a ledger balance.
func BalanceKey(addr common.Address) []byte { return prefixed(ledgerBalancePrefix, addr.Bytes()) }
