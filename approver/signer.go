// Package approver holds the registration approver's signing capability.
package approver

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/crypto"
	"evlvault/native/evolution"
)

// ErrNoKey is returned when a signer is constructed without key material.
var ErrNoKey = errors.New("approver: signing key not configured")

// Signer wraps the approver key. The key never leaves the struct and every
// signature is produced under a mutex.
type Signer struct {
	mu      sync.Mutex
	key     *crypto.PrivateKey
	address common.Address
}

// Approval is a signed registration commitment.
type Approval struct {
	VerificationType evolution.VerificationType
	Referrer         common.Address
	Timestamp        uint64
	Commitment       common.Hash
	Signature        crypto.Signature
	Approver         common.Address
}

// NewSigner takes ownership of key.
func NewSigner(key *crypto.PrivateKey) (*Signer, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, ErrNoKey
	}
	return &Signer{key: key, address: key.PubKey().Address()}, nil
}

// LoadSigner resolves key material from a keystore or hex key.
func LoadSigner(src crypto.KeySource, passphrase func() (string, error)) (*Signer, error) {
	key, err := src.Load(passphrase)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}

// Address is the identity that must be configured as the engine's approver.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign produces a personal-message signature over commitment. A cancelled
// context is reported before the key is used.
func (s *Signer) Sign(ctx context.Context, commitment common.Hash) (crypto.Signature, error) {
	if s == nil || s.key == nil {
		return crypto.Signature{}, ErrNoKey
	}
	if err := ctx.Err(); err != nil {
		return crypto.Signature{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return crypto.SignText(s.key, commitment.Bytes())
}

// SignRegistration computes the commitment for the given parameters and
// signs it.
func (s *Signer) SignRegistration(ctx context.Context, vt evolution.VerificationType, referrer common.Address, timestamp uint64) (Approval, error) {
	commitment := evolution.MakeCommitment(vt, referrer, timestamp)
	sig, err := s.Sign(ctx, commitment)
	if err != nil {
		return Approval{}, err
	}
	return Approval{
		VerificationType: vt,
		Referrer:         referrer,
		Timestamp:        timestamp,
		Commitment:       commitment,
		Signature:        sig,
		Approver:         s.address,
	}, nil
}

// Request converts the approval into a registration request for user.
func (a Approval) Request(user common.Address) evolution.RegistrationRequest {
	return evolution.RegistrationRequest{
		User:             user,
		VerificationType: a.VerificationType,
		Referrer:         a.Referrer,
		Timestamp:        a.Timestamp,
		Commitment:       a.Commitment,
		Signature:        a.Signature.Bytes(),
	}
}
