package entities

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      uint64
		decimals uint8
		want     Tier
	}{
		{name: "zero is citizen", raw: 0, decimals: 6, want: TierCitizen},
		{name: "just below industrialist", raw: 49_999_999_999, decimals: 6, want: TierCitizen},
		{name: "exactly industrialist", raw: 50_000_000_000, decimals: 6, want: TierIndustrialist},
		{name: "magnate", raw: 250_000_000_000, decimals: 6, want: TierMagnate},
		{name: "tycoon", raw: 1_000_000_000_000, decimals: 6, want: TierTycoon},
		{name: "no decimals", raw: 1_000_000, decimals: 0, want: TierTycoon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyTier(tt.raw, tt.decimals))
		})
	}
}

func TestWholeTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(1234), WholeTokens(1234, 0))
	assert.Equal(t, uint64(1), WholeTokens(1_999_999, 6))
	assert.Equal(t, uint64(1), WholeTokens(10_000_000_000_000_000_000, MaxTokenDecimals))
	assert.Zero(t, WholeTokens(math.MaxUint64, MaxTokenDecimals+1))
}

func TestLinkChallenge_IsExpired(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	challenge := &LinkChallenge{CreatedAt: created}
	window := 10 * time.Minute

	assert.False(t, challenge.IsExpired(created.Add(window), window))
	assert.True(t, challenge.IsExpired(created.Add(window+time.Second), window))
	assert.Equal(t, created.Add(window), challenge.ExpiresAt(window))
}

func TestGenerateChallengeCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateChallengeCode()
		assert.NoError(t, err)
		assert.Len(t, code, ChallengeCodeLength)
		for _, c := range code {
			assert.Contains(t, challengeAlphabet, string(c))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestChallengeMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Link Wealth Wars wallet ABC234 for tg_42", ChallengeMessage("ABC234", TelegramIdentityID(42)))
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("%w: round 5 is CLOSED", ErrRoundNotOpen)
	assert.True(t, errors.Is(wrapped, ErrRoundNotOpen))
	assert.Equal(t, KindStateConflict, KindOf(wrapped))
	assert.Equal(t, "round_not_open", CodeOf(wrapped))

	storeErr := Transient("load round", errors.New("connection reset"))
	assert.True(t, errors.Is(storeErr, ErrStoreUnavailable))
	assert.Equal(t, KindTransient, KindOf(storeErr))

	// domain errors pass through untouched
	assert.Equal(t, wrapped, Transient("load round", wrapped))
	assert.Nil(t, Transient("noop", nil))

	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
}

func TestClaim_Lease(t *testing.T) {
	t.Parallel()

	now := time.Now()
	claim := &Claim{Status: ClaimStatusPending}
	assert.False(t, claim.InFlight(now))

	claim.Lease(now, time.Minute)
	assert.True(t, claim.InFlight(now.Add(30*time.Second)))
	assert.False(t, claim.InFlight(now.Add(2*time.Minute)))
	assert.Equal(t, 1, claim.Attempts)

	claim.ReleaseLease()
	assert.False(t, claim.InFlight(now))

	claim.Confirm("sig", now)
	assert.True(t, claim.IsConfirmed())
	assert.False(t, claim.InFlight(now))
	assert.Equal(t, "wealthwars:payout:12", IdempotencyKeyFor(ClaimKindPayout, 12))
}
