package domain

import "errors"

// Lookup errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrUnauthorized = errors.New("unauthorized")
)

// Validation errors: bad input shape or range. Safe to retry after correcting
// the input; no state is changed.
var (
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInvalidOutcomeCount = errors.New("market needs at least two outcomes")
	ErrInvalidFee          = errors.New("invalid house fee")
	ErrBetTooSmall         = errors.New("bet below minimum")
	ErrBetTooLarge         = errors.New("bet above maximum")
	ErrMalformedRequest    = errors.New("malformed request")
)

// State errors: a legitimate state-machine conflict. Surfaced to the caller,
// never retried automatically.
var (
	ErrMarketClosed      = errors.New("market closed for betting")
	ErrAlreadyResolved   = errors.New("market already settled")
	ErrMarketNotResolved = errors.New("market not resolved")
	ErrAlreadyClaimed    = errors.New("bet already claimed")
)

// Resource errors: the caller must act externally before retrying.
var (
	ErrInsufficientBalance = errors.New("insufficient gold balance")
)

// ErrInvariantViolation marks a broken internal invariant (for example
// totalPool != sum(pools)). The operation is aborted and nothing is applied.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrorKind groups errors by how a caller is expected to react.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindState
	KindResource
	KindNotFound
	KindUnauthorized
)

// String returns the lower-case kind name used in API error bodies.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// KindOf classifies err. Wrapped errors are unwrapped with errors.Is.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidOutcomeCount),
		errors.Is(err, ErrInvalidFee),
		errors.Is(err, ErrBetTooSmall),
		errors.Is(err, ErrBetTooLarge),
		errors.Is(err, ErrMalformedRequest):
		return KindValidation
	case errors.Is(err, ErrMarketClosed),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrMarketNotResolved),
		errors.Is(err, ErrAlreadyClaimed):
		return KindState
	case errors.Is(err, ErrInsufficientBalance):
		return KindResource
	default:
		return KindInternal
	}
}
