package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// IssueRequest carries the normalized purchase facts extracted from a
// payment-completion event.
type IssueRequest struct {
	Tier            Tier
	Customer        Customer
	SourcePaymentID string
	AmountCents     int64
	EventID         string
}

// Engine maps a paid tier to its entitlements and creates License records.
type Engine struct {
	store           Store
	keygen          *Generator
	integritySecret []byte
	now             func() time.Time
}

func NewEngine(store Store, keygen *Generator, integritySecret []byte) *Engine {
	return &Engine{store: store, keygen: keygen, integritySecret: integritySecret, now: time.Now}
}

// Issue creates the license for a paid tier. Idempotent on SourcePaymentID:
// a second call with the same payment returns the existing record. This is
// defense in depth behind the pipeline's own event dedup.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*License, error) {
	if existing, err := e.store.GetLicenseByPayment(ctx, req.SourcePaymentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	limits, ok := req.Tier.GetLimits()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, req.Tier)
	}

	// Amount must match the catalog within rounding tolerance. A mismatch may
	// mean a tampered or stale price table, so it aborts issuance outright.
	diff := req.AmountCents - limits.PriceCents
	if diff < -PriceToleranceCents || diff > PriceToleranceCents {
		log.Warn().
			Str("tier", string(req.Tier)).
			Int64("amount_cents", req.AmountCents).
			Int64("expected_cents", limits.PriceCents).
			Str("payment_id", req.SourcePaymentID).
			Msg("amount/tier mismatch, issuance aborted")
		return nil, fmt.Errorf("%w: paid %d, expected %d", ErrPriceMismatch,
			req.AmountCents, limits.PriceCents)
	}

	key, err := e.keygen.Generate(req.Tier, req.Customer.Email)
	if err != nil {
		return nil, err
	}

	issued := e.now().UTC().Truncate(time.Second)
	l := &License{
		Key:             key,
		Tier:            req.Tier,
		Customer:        req.Customer,
		IssuedAt:        issued,
		ExpiresAt:       issued.AddDate(limits.Years, 0, 0),
		MaxDevices:      limits.MaxDevices,
		UsedDevices:     0,
		IsActive:        true,
		SourcePaymentID: req.SourcePaymentID,
	}
	l.IntegritySignature = SignIntegrity(e.integritySecret, l)

	if err := e.store.CreateLicense(ctx, l, req.EventID); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			// Lost a race with a concurrent delivery of the same payment.
			return e.store.GetLicenseByPayment(ctx, req.SourcePaymentID)
		}
		return nil, err
	}

	log.Info().
		Str("key", l.Key).
		Str("tier", string(l.Tier)).
		Str("email", l.Customer.Email).
		Time("expires_at", l.ExpiresAt).
		Int("max_devices", l.MaxDevices).
		Msg("license issued")
	return l, nil
}

// Revoke permanently deactivates a license (fraud, chargeback). Expired or
// revoked records are never deleted; they remain for audit and support.
func (e *Engine) Revoke(ctx context.Context, key string) error {
	if err := e.store.Revoke(ctx, key); err != nil {
		return err
	}
	log.Warn().Str("key", key).Msg("license revoked")
	return nil
}

// Lookup fetches a license by key for support and re-delivery.
func (e *Engine) Lookup(ctx context.Context, key string) (*License, error) {
	return e.store.GetLicense(ctx, key)
}

// LookupByEmail lists all licenses held by a customer email.
func (e *Engine) LookupByEmail(ctx context.Context, email string) ([]*License, error) {
	return e.store.GetLicensesByEmail(ctx, email)
}
