package license

import "errors"

var (
	ErrNotFound         = errors.New("license: not found")
	ErrRevoked          = errors.New("license: revoked")
	ErrTampered         = errors.New("license: integrity signature mismatch")
	ErrExpired          = errors.New("license: expired")
	ErrDeviceLimit      = errors.New("license: device limit reached")
	ErrUnknownTier      = errors.New("license: unknown tier")
	ErrPriceMismatch    = errors.New("license: paid amount does not match tier price")
	ErrEventProcessed   = errors.New("license: event already processed")
	ErrDuplicatePayment = errors.New("license: payment already produced a license")
)

// PersistenceError wraps transient storage failures distinct from licensing
// semantic errors. Callers surface these as retry-worthy.
type PersistenceError struct{ Err error }

func (e PersistenceError) Error() string { return "persistence: " + e.Err.Error() }
func (e PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be surfaced as retry-worthy to the
// caller rather than a terminal rejection.
func IsTransient(err error) bool {
	var pe PersistenceError
	return errors.As(err, &pe)
}
