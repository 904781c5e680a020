package license

import (
	"encoding/json"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/rescuepc/licensing/internal/crypto"
)

// ExportToken renders the license as an HS256 JWT for offline support
// verification. The claims embed the immutable fields plus the integrity
// signature, so exported copies stay tamper-evident even when detached from
// the store.
func ExportToken(l *License, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"sub":         l.Customer.Email,
		"key":         l.Key,
		"tier":        string(l.Tier),
		"max_devices": l.MaxDevices,
		"payment_id":  l.SourcePaymentID,
		"sig":         l.IntegritySignature,
		"iat":         l.IssuedAt.Unix(),
		"exp":         l.ExpiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign export token: %w", err)
	}
	return signed, nil
}

// ParseExportToken verifies an exported token and returns its claims.
// Expired tokens fail with ErrExpired; any signature problem is ErrTampered.
func ParseExportToken(tokenStr string, secret []byte) (jwt.MapClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrTampered
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTampered
	}
	return claims, nil
}

// SealedBackup encrypts the full license record for support backups.
// The blob authenticates itself; any offline edit fails Open.
func SealedBackup(l *License, passphrase string) ([]byte, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal license: %w", err)
	}
	return crypto.Seal(passphrase, raw)
}

// OpenBackup decrypts a sealed backup back into a license record.
func OpenBackup(blob []byte, passphrase string) (*License, error) {
	raw, err := crypto.Open(passphrase, blob)
	if err != nil {
		return nil, err
	}
	var l License
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("unmarshal license: %w", err)
	}
	return &l, nil
}
