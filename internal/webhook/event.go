package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rescuepc/licensing/internal/license"
)

// Event types the pipeline recognizes. The provider's event set may grow;
// anything else is accepted-and-ignored.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventChargeRefunded   = "charge.refunded"
)

// Event is the provider's webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// paymentObject is the payment entity inside a completion event.
type paymentObject struct {
	ID              string `json:"id"`
	Amount          int64  `json:"amount"` // cents
	Currency        string `json:"currency"`
	ReceiptEmail    string `json:"receipt_email"`
	CustomerDetails struct {
		Name    string `json:"name"`
		Company string `json:"company"`
		Phone   string `json:"phone"`
	} `json:"customer_details"`
	Metadata struct {
		ProductCode string `json:"product_code"`
	} `json:"metadata"`
}

// refundObject is the charge entity inside a refund event.
type refundObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
}

var errMalformedEvent = errors.New("webhook: malformed event payload")

// extractPurchase normalizes a completion event into the facts the engine
// needs. Schema violations are terminal rejections, never retried.
func extractPurchase(ev *Event) (license.IssueRequest, error) {
	var pay paymentObject
	if err := json.Unmarshal(ev.Data.Object, &pay); err != nil {
		return license.IssueRequest{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if pay.ID == "" || pay.ReceiptEmail == "" {
		return license.IssueRequest{}, fmt.Errorf("%w: missing payment id or email", errMalformedEvent)
	}
	tier, ok := license.ResolveProductCode(pay.Metadata.ProductCode)
	if !ok {
		return license.IssueRequest{}, fmt.Errorf("%w: unknown product code %q",
			errMalformedEvent, pay.Metadata.ProductCode)
	}
	name := pay.CustomerDetails.Name
	if name == "" {
		name = "Customer"
	}
	return license.IssueRequest{
		Tier: tier,
		Customer: license.Customer{
			Name:    name,
			Email:   pay.ReceiptEmail,
			Company: pay.CustomerDetails.Company,
			Phone:   pay.CustomerDetails.Phone,
		},
		SourcePaymentID: pay.ID,
		AmountCents:     pay.Amount,
		EventID:         ev.ID,
	}, nil
}

func extractRefund(ev *Event) (refundObject, error) {
	var ref refundObject
	if err := json.Unmarshal(ev.Data.Object, &ref); err != nil {
		return refundObject{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if ref.PaymentIntent == "" {
		return refundObject{}, fmt.Errorf("%w: refund without payment_intent", errMalformedEvent)
	}
	return ref, nil
}
