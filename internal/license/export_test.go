package license

import (
	"errors"
	"testing"
	"time"
)

var exportSecret = []byte("export-secret")

func TestExportTokenRoundTrip(t *testing.T) {
	engine, _ := newTestEngine()
	l := issueFor(t, engine, TierEnterprise, "pi_e1")

	token, err := ExportToken(l, exportSecret)
	if err != nil {
		t.Fatalf("ExportToken: %v", err)
	}

	claims, err := ParseExportToken(token, exportSecret)
	if err != nil {
		t.Fatalf("ParseExportToken: %v", err)
	}
	if claims["key"] != l.Key {
		t.Errorf("key claim = %v", claims["key"])
	}
	if claims["tier"] != string(TierEnterprise) {
		t.Errorf("tier claim = %v", claims["tier"])
	}
	if claims["sig"] != l.IntegritySignature {
		t.Error("integrity signature not carried in export")
	}
	if claims["sub"] != l.Customer.Email {
		t.Errorf("sub claim = %v", claims["sub"])
	}
}

func TestExportTokenWrongSecret(t *testing.T) {
	engine, _ := newTestEngine()
	l := issueFor(t, engine, TierBasic, "pi_e2")

	token, err := ExportToken(l, exportSecret)
	if err != nil {
		t.Fatalf("ExportToken: %v", err)
	}
	if _, err := ParseExportToken(token, []byte("other-secret")); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
	if _, err := ParseExportToken(token+"x", exportSecret); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered for mangled token, got %v", err)
	}
}

func TestExportTokenExpired(t *testing.T) {
	engine, _ := newTestEngine()
	engine.now = func() time.Time { return time.Now().AddDate(-2, 0, 0) }
	l := issueFor(t, engine, TierBasic, "pi_e3") // 1-year tier issued 2 years ago

	token, err := ExportToken(l, exportSecret)
	if err != nil {
		t.Fatalf("ExportToken: %v", err)
	}
	if _, err := ParseExportToken(token, exportSecret); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestSealedBackupRoundTrip(t *testing.T) {
	engine, _ := newTestEngine()
	l := issueFor(t, engine, TierGovernment, "pi_e4")

	blob, err := SealedBackup(l, "backup-pass")
	if err != nil {
		t.Fatalf("SealedBackup: %v", err)
	}
	got, err := OpenBackup(blob, "backup-pass")
	if err != nil {
		t.Fatalf("OpenBackup: %v", err)
	}
	if got.Key != l.Key || got.Tier != l.Tier || got.IntegritySignature != l.IntegritySignature {
		t.Errorf("backup round trip mismatch: %+v", got)
	}
	// The restored record still passes integrity verification.
	if !VerifyIntegrity(testIntegritySecret, got) {
		t.Error("restored backup fails integrity check")
	}

	if _, err := OpenBackup(blob, "wrong-pass"); err == nil {
		t.Error("backup opened with wrong passphrase")
	}
}

func TestIntegrityCoversImmutableFields(t *testing.T) {
	engine, _ := newTestEngine()
	l := issueFor(t, engine, TierProfessional, "pi_e5")

	mutations := map[string]func(*License){
		"tier":        func(c *License) { c.Tier = TierLifetime },
		"email":       func(c *License) { c.Customer.Email = "attacker@example.com" },
		"expires_at":  func(c *License) { c.ExpiresAt = c.ExpiresAt.AddDate(50, 0, 0) },
		"max_devices": func(c *License) { c.MaxDevices = 9999 },
		"payment_id":  func(c *License) { c.SourcePaymentID = "pi_forged" },
		"key":         func(c *License) { c.Key = "RPC-LIF-DEADBEEF-FORGED" },
	}
	for field, mutate := range mutations {
		cp := *l
		mutate(&cp)
		if VerifyIntegrity(testIntegritySecret, &cp) {
			t.Errorf("mutating %s not detected by integrity signature", field)
		}
	}

	// UsedDevices and IsActive are the mutable fields; changing them must
	// not break the signature.
	cp := *l
	cp.UsedDevices = 2
	cp.IsActive = false
	if !VerifyIntegrity(testIntegritySecret, &cp) {
		t.Error("mutable-field change broke the integrity signature")
	}
}
