package entities

import "time"

// Tier is a display and eligibility bucket derived from a token balance
type Tier string

const (
	TierCitizen       Tier = "Citizen"
	TierIndustrialist Tier = "Industrialist"
	TierMagnate       Tier = "Magnate"
	TierTycoon        Tier = "Tycoon"
)

// Tier thresholds in whole tokens
const (
	IndustrialistThreshold = 50_000
	MagnateThreshold       = 250_000
	TycoonThreshold        = 1_000_000
)

// BalanceSourceKind tells a confirmed amount apart from a fallback
type BalanceSourceKind string

const (
	BalanceSourceLive     BalanceSourceKind = "live"
	BalanceSourceCached   BalanceSourceKind = "cached"
	BalanceSourceDegraded BalanceSourceKind = "degraded"
)

// Balance is the result of a wallet balance lookup
type Balance struct {
	Address   string
	Amount    uint64 // raw minor units
	Tier      Tier
	Source    BalanceSourceKind
	FetchedAt time.Time
}

// Degraded returns true if the lookup failed and Amount is a conservative default
func (b *Balance) Degraded() bool {
	return b.Source == BalanceSourceDegraded
}

// MaxTokenDecimals is the largest decimals value whose scale fits in a uint64
const MaxTokenDecimals = 19

// WholeTokens converts a raw amount to whole tokens for the given decimals.
// Decimals beyond MaxTokenDecimals leave no whole tokens.
func WholeTokens(raw uint64, decimals uint8) uint64 {
	if decimals > MaxTokenDecimals {
		return 0
	}
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return raw / scale
}

// ClassifyTier buckets a raw token amount into a tier
func ClassifyTier(raw uint64, decimals uint8) Tier {
	whole := WholeTokens(raw, decimals)
	switch {
	case whole >= TycoonThreshold:
		return TierTycoon
	case whole >= MagnateThreshold:
		return TierMagnate
	case whole >= IndustrialistThreshold:
		return TierIndustrialist
	default:
		return TierCitizen
	}
}
