package license

// TierLimits defines the price, quota and policy for one tier.
type TierLimits struct {
	Tier       Tier
	PriceCents int64    // expected charge in USD cents
	MaxDevices int      // device registrations allowed
	Years      int      // license duration; lifetime uses 100 years
	Features   []string // feature flags granted
}

// lifetimeYears is the concrete duration used for "lifetime" grants. A fixed
// far-future expiry keeps every expiration check on one comparison path;
// 100 years stays well inside time.Time's range for downstream arithmetic.
const lifetimeYears = 100

// PriceToleranceCents absorbs currency rounding between the provider's
// charge and the catalog price. Anything beyond it aborts issuance.
const PriceToleranceCents = 50

// TierDefinitions maps each tier to its limits.
var TierDefinitions = map[Tier]TierLimits{
	TierBasic: {
		Tier:       TierBasic,
		PriceCents: 4999,
		MaxDevices: 1,
		Years:      1,
		Features: []string{
			"repair_toolkit",
			"driver_database_basic",
			"standard_support",
		},
	},
	TierProfessional: {
		Tier:       TierProfessional,
		PriceCents: 19999,
		MaxDevices: 3,
		Years:      1,
		Features: []string{
			"repair_toolkit",
			"driver_database_full",
			"priority_support",
		},
	},
	TierEnterprise: {
		Tier:       TierEnterprise,
		PriceCents: 49999,
		MaxDevices: 25,
		Years:      1,
		Features: []string{
			"repair_toolkit",
			"driver_database_full",
			"priority_support",
			"fleet_deployment",
		},
	},
	TierGovernment: {
		Tier:       TierGovernment,
		PriceCents: 99999,
		MaxDevices: 100,
		Years:      1,
		Features: []string{
			"repair_toolkit",
			"driver_database_full",
			"priority_support",
			"fleet_deployment",
			"compliance_reporting",
		},
	},
	TierLifetime: {
		Tier:       TierLifetime,
		PriceCents: 49999,
		MaxDevices: 999999, // effectively unlimited
		Years:      lifetimeYears,
		Features: []string{
			"repair_toolkit",
			"driver_database_full",
			"priority_support",
			"fleet_deployment",
			"lifetime_updates",
		},
	},
}

// productCodes is the canonical mapping from the payment provider's product
// identifier to a tier. Tier resolution always goes through an explicit
// product code; the paid amount is only cross-checked, never used to guess
// the tier.
var productCodes = map[string]Tier{
	"rescuepc_basic":        TierBasic,
	"rescuepc_professional": TierProfessional,
	"rescuepc_enterprise":   TierEnterprise,
	"rescuepc_government":   TierGovernment,
	"rescuepc_lifetime":     TierLifetime,
}

// ResolveProductCode returns the tier sold under a product code.
func ResolveProductCode(code string) (Tier, bool) {
	t, ok := productCodes[code]
	return t, ok
}

// GetLimits returns the limits for the tier, or false for unknown tiers.
func (t Tier) GetLimits() (TierLimits, bool) {
	limits, ok := TierDefinitions[t]
	return limits, ok
}

// HasFeature checks whether the tier grants a feature flag.
func (t Tier) HasFeature(feature string) bool {
	limits, ok := TierDefinitions[t]
	if !ok {
		return false
	}
	for _, f := range limits.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// IsValid reports whether the tier exists in the catalog.
func (t Tier) IsValid() bool {
	_, ok := TierDefinitions[t]
	return ok
}

func (t Tier) String() string { return string(t) }
