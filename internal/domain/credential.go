package domain

import "time"

// Tier enumerates billing tiers for API credentials.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits describes what a tier is entitled to per day.
type TierLimits struct {
	DailyLimit   int
	MaxFileSize  int64
	BatchAllowed bool
}

var tierTable = map[Tier]TierLimits{
	TierFree:       {DailyLimit: 50, MaxFileSize: 5 << 20, BatchAllowed: false},
	TierPro:        {DailyLimit: 1000, MaxFileSize: 20 << 20, BatchAllowed: true},
	TierEnterprise: {DailyLimit: 100_000, MaxFileSize: 50 << 20, BatchAllowed: true},
}

// LimitsForTier returns the static limits for a tier. Unknown tiers fall
// back to the free tier.
func LimitsForTier(tier Tier) TierLimits {
	if limits, ok := tierTable[tier]; ok {
		return limits
	}
	return tierTable[TierFree]
}

// ValidTier reports whether the tier exists in the tier table.
func ValidTier(tier Tier) bool {
	_, ok := tierTable[tier]
	return ok
}

// Credential is an API key identity used for quota admission.
type Credential struct {
	Key        string
	OwnerEmail string
	Tier       Tier
	UsedCount  int
	LimitCount int
	LastReset  time.Time
	IsActive   bool
	CreatedAt  time.Time
}

// Remaining returns how many requests the credential may still make today.
func (c *Credential) Remaining() int {
	if c.UsedCount >= c.LimitCount {
		return 0
	}
	return c.LimitCount - c.UsedCount
}

// BatchAllowed reports whether the credential's tier permits batch uploads.
func (c *Credential) BatchAllowed() bool {
	return LimitsForTier(c.Tier).BatchAllowed
}

// RedactedKey returns the key prefix safe for inclusion in responses.
func (c *Credential) RedactedKey() string {
	if len(c.Key) <= 8 {
		return c.Key
	}
	return c.Key[:8] + "..."
}
