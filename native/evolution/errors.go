package evolution

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine wraps exactly one of them
// so callers can branch with errors.Is.
var (
	ErrValidation    = errors.New("evolution: invalid input")
	ErrAuthorization = errors.New("evolution: unauthorized")
	ErrIneligible    = errors.New("evolution: ineligible")
	ErrArithmetic    = errors.New("evolution: arithmetic fault")
)

var (
	ErrLengthMismatch          = classify(ErrValidation, "sequence lengths differ")
	ErrLevelOutOfRange         = classify(ErrValidation, "level out of range")
	ErrDuplicateLevel          = classify(ErrValidation, "duplicate level")
	ErrNegativeThreshold       = classify(ErrValidation, "negative threshold")
	ErrInvalidTotalLevels      = classify(ErrValidation, "total levels must be between 2 and 255")
	ErrUnknownVerificationType = classify(ErrValidation, "unknown verification type")
	ErrMalformedSignature      = classify(ErrValidation, "malformed signature")
	ErrCommitmentMismatch      = classify(ErrValidation, "commitment does not match registration parameters")
	ErrZeroAddress             = classify(ErrValidation, "zero address")
	ErrAlreadyRegistered       = classify(ErrValidation, "user already registered")
	ErrNotRegistered           = classify(ErrValidation, "user not registered")
	ErrUnknownReferrer         = classify(ErrValidation, "referrer not registered")
	ErrSelfReferral            = classify(ErrValidation, "user cannot refer itself")

	ErrNotOwner           = classify(ErrAuthorization, "caller is not the owner")
	ErrApproverNotSet     = classify(ErrAuthorization, "approver not configured")
	ErrSignerMismatch     = classify(ErrAuthorization, "signature not issued by the current approver")
	ErrInvalidSignature   = classify(ErrAuthorization, "invalid signature")
	ErrCommitmentExpired  = classify(ErrAuthorization, "commitment timestamp outside accepted window")
	ErrCommitmentConsumed = classify(ErrAuthorization, "commitment already used")

	ErrTerminalLevel         = classify(ErrIneligible, "terminal level reached")
	ErrCriteriaNotConfigured = classify(ErrIneligible, "no criteria configured for level")
	ErrCriteriaNotMet        = classify(ErrIneligible, "evolution criteria not met")

	ErrNegativeAmount     = classify(ErrArithmetic, "negative amount")
	ErrRewardOverflow     = classify(ErrArithmetic, "reward computation overflows 256 bits")
	ErrRewardPoolDepleted = classify(ErrArithmetic, "reward exceeds remaining supply")
)

var (
	ErrNotInitialized     = errors.New("evolution: parameters not initialised")
	ErrAlreadyInitialized = errors.New("evolution: parameters already initialised")
	ErrNilState           = errors.New("evolution: state not configured")
)

func classify(class error, msg string) error {
	return fmt.Errorf("%w: %s", class, msg)
}

// ErrorClass names the taxonomy class of err for logs and metric labels.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrIneligible):
		return "ineligible"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	default:
		return "internal"
	}
}
