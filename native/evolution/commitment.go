package evolution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// commitmentArgs is the ABI layout hashed into a registration commitment:
// abi.encode(uint8 verificationType, address referrer, uint256 timestamp).
// Every field occupies one 32-byte word, so distinct tuples never share an
// encoding.
var commitmentArgs = abi.Arguments{
	{Name: "verificationType", Type: mustABIType("uint8")},
	{Name: "referrer", Type: mustABIType("address")},
	{Name: "timestamp", Type: mustABIType("uint256")},
}

func mustABIType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeCommitment returns the canonical byte encoding hashed by MakeCommitment.
func EncodeCommitment(vt VerificationType, referrer common.Address, timestamp uint64) []byte {
	packed, err := commitmentArgs.Pack(uint8(vt), referrer, new(big.Int).SetUint64(timestamp))
	if err != nil {
		// The argument types are fixed above; Pack only fails on a type mismatch.
		panic(err)
	}
	return packed
}

// MakeCommitment derives the registration commitment signed by the approver.
// It is a pure function of its inputs.
func MakeCommitment(vt VerificationType, referrer common.Address, timestamp uint64) common.Hash {
	return ethcrypto.Keccak256Hash(EncodeCommitment(vt, referrer, timestamp))
}
