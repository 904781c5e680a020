package crypto

import (
	"bytes"
	"testing"
)

func TestVerifyHMAC(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	sig := SignHMAC(secret, body)
	if !VerifyHMAC(secret, body, sig) {
		t.Fatal("valid signature did not verify")
	}

	// Flipping a single byte of the body must fail even though the
	// signature header is unchanged.
	tampered := bytes.Clone(body)
	tampered[10] ^= 0x01
	if VerifyHMAC(secret, tampered, sig) {
		t.Error("signature verified against tampered body")
	}

	if VerifyHMAC(secret, body, "") {
		t.Error("empty signature verified")
	}
	if VerifyHMAC([]byte("other-secret"), body, sig) {
		t.Error("signature verified under wrong secret")
	}
}

func TestKeyedDigest(t *testing.T) {
	key := []byte("keygen-secret")

	d := KeyedDigest(key, "user@example.com|professional", 8)
	if len(d) != 8 {
		t.Fatalf("expected 8 chars, got %d", len(d))
	}
	for _, c := range d {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			t.Fatalf("non-uppercase-hex char %q in digest %s", c, d)
		}
	}

	// Deterministic for the same input, distinct across inputs.
	if d != KeyedDigest(key, "user@example.com|professional", 8) {
		t.Error("digest not deterministic")
	}
	if d == KeyedDigest(key, "user@example.com|basic", 8) {
		t.Error("digest collision across distinct inputs")
	}
}

func TestSealOpen(t *testing.T) {
	plaintext := []byte(`{"key":"RPC-PRO-9F2A1C3D-1B2K4J","tier":"professional"}`)

	blob, err := Seal("backup-passphrase", plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open("backup-passphrase", blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: %s", got)
	}

	if _, err := Open("wrong-passphrase", blob); err == nil {
		t.Error("Open succeeded with wrong passphrase")
	}

	// Any bit flip anywhere in the blob must fail authentication.
	for _, idx := range []int{0, saltLen, saltLen + nonceLen, len(blob) - 1} {
		mutated := bytes.Clone(blob)
		mutated[idx] ^= 0x80
		if _, err := Open("backup-passphrase", mutated); err == nil {
			t.Errorf("Open succeeded with byte %d flipped", idx)
		}
	}
}
