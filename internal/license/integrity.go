package license

import (
	"fmt"
	"strings"

	"github.com/rescuepc/licensing/internal/crypto"
)

// canonicalPayload serializes the immutable fields in a fixed order. The
// integrity signature is an HMAC over this string, so any edit to a
// persisted or exported copy is detectable without the signing secret.
func canonicalPayload(l *License) string {
	return strings.Join([]string{
		l.Key,
		string(l.Tier),
		l.Customer.Name,
		l.Customer.Email,
		l.Customer.Company,
		l.Customer.Phone,
		fmt.Sprintf("%d", l.IssuedAt.Unix()),
		fmt.Sprintf("%d", l.ExpiresAt.Unix()),
		fmt.Sprintf("%d", l.MaxDevices),
		l.SourcePaymentID,
	}, "|")
}

// SignIntegrity computes the integrity signature for the license.
func SignIntegrity(secret []byte, l *License) string {
	return crypto.SignHMAC(secret, []byte(canonicalPayload(l)))
}

// VerifyIntegrity checks the stored signature against the immutable fields
// in constant time.
func VerifyIntegrity(secret []byte, l *License) bool {
	return crypto.VerifyHMAC(secret, []byte(canonicalPayload(l)), l.IntegritySignature)
}
