package evolution

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// WhitelistEntry pairs an address with its fee-exemption flag.
type WhitelistEntry struct {
	Address common.Address
	Exempt  bool
}

// PairWhitelist zips a batch update. Nothing is returned unless every pair is
// valid, so a rejected batch never touches state.
func PairWhitelist(addrs []common.Address, flags []bool) ([]WhitelistEntry, error) {
	if len(addrs) != len(flags) {
		return nil, fmt.Errorf("%w: %d addresses, %d flags", ErrLengthMismatch, len(addrs), len(flags))
	}
	entries := make([]WhitelistEntry, len(addrs))
	for i, addr := range addrs {
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("%w: whitelist entry %d", ErrZeroAddress, i)
		}
		entries[i] = WhitelistEntry{Address: addr, Exempt: flags[i]}
	}
	return entries, nil
}

func requireOwner(params *Params, caller common.Address) error {
	if params == nil {
		return ErrNotInitialized
	}
	if caller != params.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	return nil
}
