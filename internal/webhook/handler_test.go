package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuepc/licensing/internal/crypto"
	"github.com/rescuepc/licensing/internal/license"
)

var (
	webhookSecret   = []byte("whsec_test")
	keygenSecret    = []byte("keygen-secret")
	integritySecret = []byte("integrity-secret")
)

type capturedDelivery struct {
	keys []string
}

func (c *capturedDelivery) EnqueueLicenseDelivery(_ context.Context, l *license.License) error {
	c.keys = append(c.keys, l.Key)
	return nil
}

// flakyStore forces transient failures for the persistence-failure path.
type flakyStore struct {
	license.Store
	failCreate bool
}

func (f *flakyStore) CreateLicense(ctx context.Context, l *license.License, eventID string) error {
	if f.failCreate {
		return license.PersistenceError{Err: fmt.Errorf("connection reset")}
	}
	return f.Store.CreateLicense(ctx, l, eventID)
}

func newTestHandler(store license.Store) (*Handler, *capturedDelivery) {
	engine := license.NewEngine(store, license.NewGenerator(keygenSecret), integritySecret)
	delivered := &capturedDelivery{}
	return NewHandler(webhookSecret, store, engine, delivered), delivered
}

func paymentEvent(eventID, paymentID, productCode string, amount int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": EventPaymentSucceeded,
		"data": map[string]any{
			"object": map[string]any{
				"id":            paymentID,
				"amount":        amount,
				"currency":      "usd",
				"receipt_email": "dana@example.com",
				"customer_details": map[string]any{
					"name": "Dana Ortiz",
				},
				"metadata": map[string]any{
					"product_code": productCode,
				},
			},
		},
	})
	return body
}

func post(t *testing.T, h *Handler, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/payment", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sign {
		req.Header.Set(SignatureHeader, crypto.SignHMAC(webhookSecret, body))
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h.Handle(e.NewContext(req, rec)))
	return rec
}

func disposition(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleIssuesLicense(t *testing.T) {
	store := license.NewMemStore()
	h, delivered := newTestHandler(store)

	rec := post(t, h, paymentEvent("evt_1", "pi_1", "rescuepc_professional", 19999), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	out := disposition(t, rec)
	assert.Equal(t, "accepted", out["status"])
	assert.NotEmpty(t, out["key"])

	l, err := store.GetLicenseByPayment(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, license.TierProfessional, l.Tier)
	assert.Equal(t, []string{l.Key}, delivered.keys)
}

func TestHandleIdempotentOnRedelivery(t *testing.T) {
	store := license.NewMemStore()
	h, delivered := newTestHandler(store)

	body := paymentEvent("evt_2", "pi_2", "rescuepc_basic", 4999)

	const deliveries = 5
	var accepted, duplicates int
	for i := 0; i < deliveries; i++ {
		rec := post(t, h, body, true)
		require.Equal(t, http.StatusOK, rec.Code)
		switch disposition(t, rec)["status"] {
		case "accepted":
			accepted++
		case "duplicate":
			duplicates++
		}
	}

	// Exactly one issuance, N-1 duplicate dispositions, one delivery.
	assert.Equal(t, 1, accepted)
	assert.Equal(t, deliveries-1, duplicates)
	assert.Len(t, delivered.keys, 1)

	all, err := store.GetLicensesByEmail(context.Background(), "dana@example.com")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	store := license.NewMemStore()
	h, delivered := newTestHandler(store)

	body := paymentEvent("evt_3", "pi_3", "rescuepc_basic", 4999)

	// Missing signature.
	rec := post(t, h, body, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// One byte flipped in the body with the original signature header.
	e := echo.New()
	sig := crypto.SignHMAC(webhookSecret, body)
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)/2] ^= 0x01
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/payment", strings.NewReader(string(tampered)))
	req.Header.Set(SignatureHeader, sig)
	rec = httptest.NewRecorder()
	require.NoError(t, h.Handle(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// No side effects reached the store or the mailer.
	_, err := store.GetLicenseByPayment(context.Background(), "pi_3")
	assert.ErrorIs(t, err, license.ErrNotFound)
	assert.Empty(t, delivered.keys)
}

func TestHandleIgnoresUnknownEventType(t *testing.T) {
	store := license.NewMemStore()
	h, _ := newTestHandler(store)

	body, _ := json.Marshal(map[string]any{
		"id":   "evt_4",
		"type": "customer.subscription.trial_will_end",
		"data": map[string]any{"object": map[string]any{}},
	})
	rec := post(t, h, body, true)

	// Unknown types are accepted so the provider stops redelivering them.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", disposition(t, rec)["status"])
}

func TestHandleRejectsSchemaViolations(t *testing.T) {
	store := license.NewMemStore()
	h, _ := newTestHandler(store)

	// Unparseable JSON.
	garbage := []byte(`{"id":`)
	rec := post(t, h, garbage, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown product code.
	rec = post(t, h, paymentEvent("evt_5", "pi_5", "rescuepc_platinum", 4999), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Amount/tier mismatch is a terminal rejection, never silently
	// corrected.
	rec = post(t, h, paymentEvent("evt_6", "pi_6", "rescuepc_enterprise", 4999), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTransientFailureIsRetryWorthy(t *testing.T) {
	mem := license.NewMemStore()
	store := &flakyStore{Store: mem, failCreate: true}
	h, _ := newTestHandler(store)

	body := paymentEvent("evt_7", "pi_7", "rescuepc_basic", 4999)

	rec := post(t, h, body, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The provider redelivers; once the store recovers the same event
	// issues exactly one license.
	store.failCreate = false
	rec = post(t, h, body, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accepted", disposition(t, rec)["status"])

	rec = post(t, h, body, true)
	assert.Equal(t, "duplicate", disposition(t, rec)["status"])
}

func TestHandleRefundRevokes(t *testing.T) {
	store := license.NewMemStore()
	h, _ := newTestHandler(store)

	rec := post(t, h, paymentEvent("evt_8", "pi_8", "rescuepc_lifetime", 49999), true)
	require.Equal(t, http.StatusOK, rec.Code)
	key := disposition(t, rec)["key"]
	require.NotEmpty(t, key)

	refund, _ := json.Marshal(map[string]any{
		"id":   "evt_9",
		"type": EventChargeRefunded,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "ch_1",
				"payment_intent": "pi_8",
			},
		},
	})
	rec = post(t, h, refund, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "revoked", disposition(t, rec)["status"])

	l, err := store.GetLicense(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, l.IsActive)

	// Refund for a payment that never issued anything is ignored.
	unknown, _ := json.Marshal(map[string]any{
		"id":   "evt_10",
		"type": EventChargeRefunded,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "ch_2",
				"payment_intent": "pi_never",
			},
		},
	})
	rec = post(t, h, unknown, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", disposition(t, rec)["status"])
}
