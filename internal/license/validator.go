package license

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Validator runs the activation-time checks against a stored license.
// Check order is fixed and short-circuits on the first failure:
// revoked, tampered, expired, then device binding.
type Validator struct {
	store           Store
	integritySecret []byte
	now             func() time.Time
}

func NewValidator(store Store, integritySecret []byte) *Validator {
	return &Validator{store: store, integritySecret: integritySecret, now: time.Now}
}

// Validate checks the license identified by key for activation on deviceID.
// Registering a previously unseen device is the only mutation performed, and
// it is atomic with the quota check in the store. Persistence failures are
// returned as errors; every policy outcome is a ValidationResult.
func (v *Validator) Validate(ctx context.Context, key, deviceID string) (ValidationResult, error) {
	l, err := v.store.GetLicense(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return ValidationResult{Valid: false, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return ValidationResult{}, err
	}

	if !l.IsActive {
		return ValidationResult{Valid: false, Reason: ReasonRevoked}, nil
	}

	// A locally edited cached copy fails here; a tampered record is never
	// auto-repaired.
	if !VerifyIntegrity(v.integritySecret, l) {
		log.Warn().Str("key", key).Msg("integrity signature mismatch on validation")
		return ValidationResult{Valid: false, Reason: ReasonTampered}, nil
	}

	if l.ExpiredAt(v.now()) {
		return ValidationResult{Valid: false, Reason: ReasonExpired}, nil
	}

	already, err := v.store.RegisterDevice(ctx, key, deviceID)
	if errors.Is(err, ErrDeviceLimit) {
		return ValidationResult{Valid: false, Reason: ReasonDeviceLimit}, nil
	}
	if err != nil {
		return ValidationResult{}, err
	}
	if !already {
		log.Info().Str("key", key).Str("device", deviceID).Msg("device registered")
	}
	return ValidationResult{Valid: true}, nil
}
