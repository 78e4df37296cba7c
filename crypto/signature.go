package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of the r || s || v wire form.
const SignatureLength = 65

// recoveryOffset is added to the raw recovery id in the wire form, matching
// what personal_sign and ethers' signMessage emit.
const recoveryOffset = 27

var (
	ErrMalformedSignature = errors.New("crypto: malformed signature")
	ErrInvalidSignature   = errors.New("crypto: invalid signature")
)

// Signature is a recoverable secp256k1 signature.
type Signature struct {
	V byte
	R [32]byte
	S [32]byte
}

// SplitSignature decodes the 65-byte r || s || v wire form.
func SplitSignature(b []byte) (Signature, error) {
	if len(b) != SignatureLength {
		return Signature{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(b))
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	return sig, nil
}

// DecodeSignature parses a 0x-prefixed hex signature.
func DecodeSignature(raw string) (Signature, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return SplitSignature(b)
}

// Bytes joins the signature back into its wire form.
func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

func (s Signature) Hex() string {
	return hexutil.Encode(s.Bytes())
}

// recoveryID normalises V to the raw 0/1 recovery id.
func (s Signature) recoveryID() (byte, bool) {
	switch s.V {
	case 0, 1:
		return s.V, true
	case recoveryOffset, recoveryOffset + 1:
		return s.V - recoveryOffset, true
	default:
		return 0, false
	}
}

// TextHash returns the EIP-191 personal message digest of msg.
func TextHash(msg []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(msg))
}

// SignText signs the personal message digest of msg. The returned signature
// carries V in {27, 28}.
func SignText(key *PrivateKey, msg []byte) (Signature, error) {
	if key == nil || key.PrivateKey == nil {
		return Signature{}, errors.New("crypto: nil private key")
	}
	raw, err := crypto.Sign(accounts.TextHash(msg), key.PrivateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("crypto: sign: %w", err)
	}
	sig, err := SplitSignature(raw)
	if err != nil {
		return Signature{}, err
	}
	sig.V += recoveryOffset
	return sig, nil
}

// RecoverTextSigner returns the address that produced sig over the personal
// message digest of msg. Signatures with s in the upper half of the curve
// order are rejected.
func RecoverTextSigner(msg []byte, sig Signature) (common.Address, error) {
	recID, ok := sig.recoveryID()
	if !ok {
		return common.Address{}, fmt.Errorf("%w: recovery id %d out of range", ErrInvalidSignature, sig.V)
	}
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(recID, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: non-canonical r/s values", ErrInvalidSignature)
	}
	raw := sig.Bytes()
	raw[64] = recID
	pub, err := crypto.SigToPub(accounts.TextHash(msg), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
