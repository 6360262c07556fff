package entities

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// ChallengeCodeLength is the number of characters in a link code
	ChallengeCodeLength = 6

	// challengeAlphabet omits 0/O and 1/I so codes can be read aloud
	challengeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// LinkChallenge is a one-time message an identity must sign with its wallet
type LinkChallenge struct {
	IdentityID     string    `db:"identity_id"`
	Code           string    `db:"code"`
	Message        string    `db:"message"`
	ClaimedAddress *string   `db:"claimed_address"` // optional, set when the caller names the wallet up front
	PlatformHandle *string   `db:"platform_handle"`
	Username       string    `db:"username"`
	CreatedAt      time.Time `db:"created_at"`
}

// IsExpired returns true if the challenge is older than the window
func (c *LinkChallenge) IsExpired(now time.Time, window time.Duration) bool {
	return now.Sub(c.CreatedAt) > window
}

// ExpiresAt returns when the challenge stops being accepted
func (c *LinkChallenge) ExpiresAt(window time.Duration) time.Time {
	return c.CreatedAt.Add(window)
}

// ChallengeMessage builds the exact text the wallet signs
func ChallengeMessage(code, identityID string) string {
	return fmt.Sprintf("Link Wealth Wars wallet %s for %s", code, identityID)
}

// GenerateChallengeCode returns a cryptographically random link code
func GenerateChallengeCode() (string, error) {
	max := big.NewInt(int64(len(challengeAlphabet)))
	code := make([]byte, ChallengeCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate challenge code: %w", err)
		}
		code[i] = challengeAlphabet[n.Int64()]
	}
	return string(code), nil
}
