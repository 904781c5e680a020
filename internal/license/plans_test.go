package license

import "testing"

func TestTierCatalog(t *testing.T) {
	for tier, limits := range TierDefinitions {
		if limits.Tier != tier {
			t.Errorf("catalog entry %s carries wrong tier %s", tier, limits.Tier)
		}
		if limits.PriceCents <= 0 {
			t.Errorf("tier %s has no price", tier)
		}
		if limits.MaxDevices < 1 {
			t.Errorf("tier %s has no device allowance", tier)
		}
		if limits.Years < 1 {
			t.Errorf("tier %s has no duration", tier)
		}
	}

	lifetime := TierDefinitions[TierLifetime]
	if lifetime.Years != 100 {
		t.Errorf("lifetime duration should be the 100-year constant, got %d", lifetime.Years)
	}
}

func TestResolveProductCode(t *testing.T) {
	cases := map[string]Tier{
		"rescuepc_basic":        TierBasic,
		"rescuepc_professional": TierProfessional,
		"rescuepc_enterprise":   TierEnterprise,
		"rescuepc_government":   TierGovernment,
		"rescuepc_lifetime":     TierLifetime,
	}
	for code, want := range cases {
		got, ok := ResolveProductCode(code)
		if !ok || got != want {
			t.Errorf("ResolveProductCode(%q) = %v, %v; want %v", code, got, ok, want)
		}
	}

	if _, ok := ResolveProductCode("rescuepc_platinum"); ok {
		t.Error("unknown product code resolved")
	}
	if _, ok := ResolveProductCode(""); ok {
		t.Error("empty product code resolved")
	}
}

func TestHasFeature(t *testing.T) {
	if !TierBasic.HasFeature("repair_toolkit") {
		t.Error("basic should include the repair toolkit")
	}
	if TierBasic.HasFeature("fleet_deployment") {
		t.Error("basic should not include fleet deployment")
	}
	if !TierLifetime.HasFeature("lifetime_updates") {
		t.Error("lifetime should include lifetime updates")
	}
	if Tier("platinum").HasFeature("repair_toolkit") {
		t.Error("unknown tier should grant nothing")
	}
}

func TestTierIsValid(t *testing.T) {
	for _, tier := range []Tier{TierBasic, TierProfessional, TierEnterprise, TierGovernment, TierLifetime} {
		if !tier.IsValid() {
			t.Errorf("tier %s should be valid", tier)
		}
	}
	if Tier("platinum").IsValid() {
		t.Error("unknown tier reported valid")
	}
}
