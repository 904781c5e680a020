// Package webhook is the ingestion pipeline for payment-provider events:
// authenticity check on the raw body, dedup against the processed-event
// ledger, then issuance through the entitlement engine. Every inbound
// delivery resolves to a terminal disposition; nothing propagates an
// unhandled fault back to the provider.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/rescuepc/licensing/internal/crypto"
	"github.com/rescuepc/licensing/internal/license"
)

// SignatureHeader carries the provider's hex HMAC-SHA256 over the raw body.
const SignatureHeader = "X-Payment-Signature"

// Notifier enqueues license delivery to the purchaser. Failures here never
// roll back issuance; the license is the authoritative grant.
type Notifier interface {
	EnqueueLicenseDelivery(ctx context.Context, l *license.License) error
}

// Handler processes inbound payment webhooks.
type Handler struct {
	secret   []byte
	store    license.Store
	engine   *license.Engine
	notifier Notifier
}

func NewHandler(secret []byte, store license.Store, engine *license.Engine, notifier Notifier) *Handler {
	return &Handler{secret: secret, store: store, engine: engine, notifier: notifier}
}

// Handle is the webhook endpoint. Responses: 200 accepted-or-duplicate,
// 401 bad signature, 400 schema rejection, 5xx transient persistence
// failure (the provider redelivers; the dedup ledger makes that safe).
func (h *Handler) Handle(c echo.Context) error {
	// Verification must run over the raw, unparsed body. Re-serializing the
	// JSON first would invalidate the signature.
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	signature := c.Request().Header.Get(SignatureHeader)
	if !crypto.VerifyHMAC(h.secret, body, signature) {
		log.Warn().
			Str("remote", c.RealIP()).
			Bool("signature_present", signature != "").
			Msg("webhook signature verification failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid webhook signature",
		})
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid event payload",
		})
	}

	switch event.Type {
	case EventPaymentSucceeded:
		return h.handlePaymentSucceeded(c, &event)
	case EventChargeRefunded:
		return h.handleChargeRefunded(c, &event)
	default:
		// The provider's event set grows over time; unknown types are
		// accepted so it stops redelivering them.
		log.Info().Str("event_id", event.ID).Str("type", event.Type).
			Msg("ignoring unrecognized webhook event type")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *Handler) handlePaymentSucceeded(c echo.Context, event *Event) error {
	ctx := c.Request().Context()

	seen, err := h.store.SeenEvent(ctx, event.ID)
	if err != nil {
		return h.transient(c, event, err)
	}
	if seen {
		// Redelivery of an already-ledgered event is an idempotent no-op.
		log.Info().Str("event_id", event.ID).Msg("duplicate webhook event")
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	}

	req, err := extractPurchase(event)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("rejecting malformed completion event")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	l, err := h.engine.Issue(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, license.ErrEventProcessed), errors.Is(err, license.ErrDuplicatePayment):
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	case errors.Is(err, license.ErrPriceMismatch), errors.Is(err, license.ErrUnknownTier):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case license.IsTransient(err):
		return h.transient(c, event, err)
	default:
		return h.transient(c, event, err)
	}

	// Delivery is retried independently by the job queue. The license
	// exists even if the email never sends.
	if h.notifier != nil {
		if err := h.notifier.EnqueueLicenseDelivery(ctx, l); err != nil {
			log.Error().Err(err).Str("key", l.Key).Msg("failed to enqueue license delivery")
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "accepted", "key": l.Key})
}

// handleChargeRefunded revokes the license minted for the refunded payment.
// Revocation is idempotent, so this path skips the dedup ledger.
func (h *Handler) handleChargeRefunded(c echo.Context, event *Event) error {
	ctx := c.Request().Context()

	ref, err := extractRefund(event)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	l, err := h.store.GetLicenseByPayment(ctx, ref.PaymentIntent)
	if errors.Is(err, license.ErrNotFound) {
		log.Warn().Str("payment_id", ref.PaymentIntent).Msg("refund for unknown payment")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	if err != nil {
		return h.transient(c, event, err)
	}

	if err := h.engine.Revoke(ctx, l.Key); err != nil {
		return h.transient(c, event, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) transient(c echo.Context, event *Event, err error) error {
	log.Error().Err(err).Str("event_id", event.ID).Msg("transient failure processing webhook")
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "temporary failure, retry",
	})
}
