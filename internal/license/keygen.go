package license

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rescuepc/licensing/internal/crypto"
)

// tierPrefixes are the human-visible key prefixes per tier.
var tierPrefixes = map[Tier]string{
	TierBasic:        "RPC-BAS",
	TierProfessional: "RPC-PRO",
	TierEnterprise:   "RPC-ENT",
	TierGovernment:   "RPC-GOV",
	TierLifetime:     "RPC-LIF",
}

// Generator mints license keys of the form
// <TIER-PREFIX>-<8HEX>-<SERIAL>, e.g. RPC-PRO-9F2A1C3D-1B2K4J3M9QZ.
// The 8-hex segment is a keyed digest of email+tier, traceable but
// cosmetic. The serial combines a millisecond timestamp with a randomly
// seeded atomic counter, so concurrent issuance within one timer tick still
// yields distinct keys.
type Generator struct {
	secret []byte
	serial atomic.Uint64
}

func NewGenerator(secret []byte) *Generator {
	g := &Generator{secret: secret}
	var seed [8]byte
	if _, err := cryptorand.Read(seed[:]); err == nil {
		g.serial.Store(binary.BigEndian.Uint64(seed[:]))
	}
	return g
}

const serialCounterBits = 20 // 1M issuances per millisecond before reuse

// Generate returns a new key for the tier and purchaser email. Uniqueness
// holds in-process by construction; the storage layer's unique constraint
// is the cross-process backstop.
func (g *Generator) Generate(tier Tier, email string) (string, error) {
	prefix, ok := tierPrefixes[tier]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	digest := crypto.KeyedDigest(g.secret, email+"|"+string(tier), 8)

	n := g.serial.Add(1)
	stamp := uint64(time.Now().UnixMilli())
	raw := stamp<<serialCounterBits | n&(1<<serialCounterBits-1)
	serial := strings.ToUpper(strconv.FormatUint(raw, 36))

	return fmt.Sprintf("%s-%s-%s", prefix, digest, serial), nil
}
