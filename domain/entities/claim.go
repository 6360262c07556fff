package entities

import (
	"fmt"
	"time"
)

// ClaimKind distinguishes winner payouts from void-round refunds
type ClaimKind string

const (
	ClaimKindPayout ClaimKind = "payout"
	ClaimKindRefund ClaimKind = "refund"
)

// ClaimStatus tracks a claim through its two phases
type ClaimStatus string

const (
	// ClaimStatusPending means a transfer was initiated but not confirmed
	ClaimStatusPending ClaimStatus = "PENDING"
	// ClaimStatusConfirmed means the transfer landed and the entry is marked claimed
	ClaimStatusConfirmed ClaimStatus = "CONFIRMED"
)

// Claim is the persisted proof of an off-band settlement transfer
type Claim struct {
	ID             int64       `db:"id"`
	EntryID        int64       `db:"entry_id"`
	RoundID        int64       `db:"round_id"`
	Kind           ClaimKind   `db:"kind"`
	Amount         int64       `db:"amount"`
	Destination    string      `db:"destination"`
	IdempotencyKey string      `db:"idempotency_key"`
	Status         ClaimStatus `db:"status"`
	LeaseExpiresAt *time.Time  `db:"lease_expires_at"` // NULL when no attempt is in flight
	Attempts       int         `db:"attempts"`
	TxSignature    *string     `db:"tx_signature"`
	CreatedAt      time.Time   `db:"created_at"`
	ConfirmedAt    *time.Time  `db:"confirmed_at"`
}

// IsConfirmed returns true once the transfer is confirmed
func (c *Claim) IsConfirmed() bool {
	return c.Status == ClaimStatusConfirmed
}

// InFlight returns true if another attempt holds an unexpired lease
func (c *Claim) InFlight(now time.Time) bool {
	return c.Status == ClaimStatusPending && c.LeaseExpiresAt != nil && now.Before(*c.LeaseExpiresAt)
}

// Abandoned returns true if an attempt with an unknown outcome let its lease lapse.
// A released lease means the attempt failed and is not abandoned.
func (c *Claim) Abandoned(now time.Time) bool {
	return c.Status == ClaimStatusPending && c.LeaseExpiresAt != nil && !now.Before(*c.LeaseExpiresAt)
}

// Lease marks a new attempt in flight until now+ttl
func (c *Claim) Lease(now time.Time, ttl time.Duration) {
	expires := now.Add(ttl)
	c.LeaseExpiresAt = &expires
	c.Attempts++
}

// ReleaseLease lets the next attempt proceed immediately
func (c *Claim) ReleaseLease() {
	c.LeaseExpiresAt = nil
}

// Confirm records the transfer signature
func (c *Claim) Confirm(txSignature string, now time.Time) {
	c.Status = ClaimStatusConfirmed
	c.TxSignature = &txSignature
	c.ConfirmedAt = &now
	c.LeaseExpiresAt = nil
}

// IdempotencyKeyFor derives the transfer idempotency key for an entry claim
func IdempotencyKeyFor(kind ClaimKind, entryID int64) string {
	return fmt.Sprintf("wealthwars:%s:%d", kind, entryID)
}
