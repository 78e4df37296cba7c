package approverd

import (
	"errors"
	"fmt"
	"time"

	"evlvault/native/evolution"
)

var (
	// ErrVerificationNotAllowed is returned for verification types the
	// deployment does not sign.
	ErrVerificationNotAllowed = errors.New("approverd: verification type not allowed")
	// ErrTimestampSkew is returned when the requested timestamp is too far
	// from the approver's clock.
	ErrTimestampSkew = errors.New("approverd: timestamp outside accepted skew")
)

// Policy decides whether a registration may be signed.
type Policy struct {
	maxSkew   time.Duration
	allowed   map[evolution.VerificationType]struct{}
	singleUse bool
}

// NewPolicy validates cfg and builds the policy.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.MaxTimestampSkew.Duration < 0 {
		return nil, fmt.Errorf("policy max_timestamp_skew must not be negative")
	}
	allowed := make(map[evolution.VerificationType]struct{}, len(cfg.AllowedVerificationTypes))
	for _, raw := range cfg.AllowedVerificationTypes {
		vt := evolution.VerificationType(raw)
		if !vt.Valid() {
			return nil, fmt.Errorf("policy allows unknown verification type %d", raw)
		}
		allowed[vt] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("policy must allow at least one verification type")
	}
	return &Policy{maxSkew: cfg.MaxTimestampSkew.Duration, allowed: allowed, singleUse: cfg.SingleUse}, nil
}

// SingleUse reports whether each commitment may be signed only once.
func (p *Policy) SingleUse() bool {
	return p.singleUse
}

// Check validates a signing request against the approver's clock.
func (p *Policy) Check(vt evolution.VerificationType, timestamp uint64, now time.Time) error {
	if _, ok := p.allowed[vt]; !ok {
		return fmt.Errorf("%w: %s", ErrVerificationNotAllowed, vt)
	}
	if p.maxSkew == 0 {
		return nil
	}
	if timestamp > uint64(1<<62) {
		return fmt.Errorf("%w: %d", ErrTimestampSkew, timestamp)
	}
	delta := now.Sub(time.Unix(int64(timestamp), 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > p.maxSkew {
		return fmt.Errorf("%w: %s from now", ErrTimestampSkew, delta.Round(time.Second))
	}
	return nil
}
