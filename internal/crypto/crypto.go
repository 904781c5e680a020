// Package crypto holds the integrity primitives shared by the licensing
// pipeline: HMAC signing with constant-time verification, keyed hashing for
// key derivation, and authenticated encryption for records at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

var (
	ErrBadCiphertext = errors.New("crypto: ciphertext invalid or tampered")
	ErrShortSalt     = errors.New("crypto: salt must be at least 16 bytes")
)

// SignHMAC computes HMAC-SHA256 over data and returns it hex-encoded.
func SignHMAC(secret []byte, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a hex-encoded signature against data in constant time.
// An empty or malformed signature never verifies.
func VerifyHMAC(secret []byte, data []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignHMAC(secret, data)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// KeyedDigest returns the first n hex characters of HMAC-SHA256(key, data),
// uppercased. Used for the traceable segment of license keys; not a
// uniqueness or security boundary on its own.
func KeyedDigest(key []byte, data string, n int) string {
	sum := SignHMAC(key, []byte(data))
	if n > len(sum) {
		n = len(sum)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		c := sum[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// scrypt parameters follow the OWASP recommended minimums for interactive
// use: N=32768, r=8, p=1, 32-byte key for AES-256.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 32
	nonceLen     = 12
)

// Seal encrypts plaintext with AES-256-GCM under a key derived from the
// passphrase via scrypt. Output layout: salt || nonce || ciphertext+tag.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("crypto: plaintext cannot be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := deriveGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, salt)
	out := make([]byte, 0, saltLen+nonceLen+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open reverses Seal. Any modification of the stored blob, including the
// salt prefix, fails authentication.
func Open(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltLen+nonceLen+1 {
		return nil, ErrBadCiphertext
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	ciphertext := blob[saltLen+nonceLen:]

	gcm, err := deriveGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	return plaintext, nil
}

func deriveGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	if len(salt) < 16 {
		return nil, ErrShortSalt
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
