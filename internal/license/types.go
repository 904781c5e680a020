package license

import "time"

// Tier identifies the purchased product tier. Set at issuance, immutable.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
	TierGovernment   Tier = "government"
	TierLifetime     Tier = "lifetime"
)

// Customer is the purchaser identity attached to a license. Email is the
// identity used for support lookup and re-delivery.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// License is the persisted entitlement record. Key, Tier, Customer,
// IssuedAt, ExpiresAt, MaxDevices and SourcePaymentID are immutable once
// issued and are covered by IntegritySignature. Only UsedDevices (via device
// registration) and IsActive (via revocation) ever change.
type License struct {
	Key                string    `json:"key"`
	Tier               Tier      `json:"tier"`
	Customer           Customer  `json:"customer"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	MaxDevices         int       `json:"max_devices"`
	UsedDevices        int       `json:"used_devices"`
	IsActive           bool      `json:"is_active"`
	IntegritySignature string    `json:"integrity_signature"`
	SourcePaymentID    string    `json:"source_payment_id"`
}

// ExpiredAt reports whether the license is past its expiry at the given
// instant. Lifetime licenses carry a concrete far-future ExpiresAt, so the
// same comparison covers every tier.
func (l *License) ExpiredAt(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// DeviceRegistration records one hardware fingerprint bound to a license.
// (LicenseKey, DeviceID) pairs are unique so repeated activations from the
// same machine never consume additional slots.
type DeviceRegistration struct {
	LicenseKey   string    `json:"license_key"`
	DeviceID     string    `json:"device_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ProcessedEvent is a dedup ledger entry for an inbound payment event.
// Its existence short-circuits re-issuance on provider redelivery.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Validation reason codes returned to the product at activation time.
const (
	ReasonRevoked     = "revoked"
	ReasonTampered    = "tampered"
	ReasonExpired     = "expired"
	ReasonDeviceLimit = "device-limit-reached"
	ReasonNotFound    = "not-found"
)

// ValidationResult is the verdict returned by the validator.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
