package entities

import "time"

// BasisPointsDivisor is 100% expressed in basis points
const BasisPointsDivisor = 10000

// DefaultMinEntries is the entry count below which a closed round is voided
const DefaultMinEntries = 2

// RoundStatus is the lifecycle state of a round
type RoundStatus string

const (
	RoundStatusOpen    RoundStatus = "OPEN"
	RoundStatusClosed  RoundStatus = "CLOSED"
	RoundStatusSettled RoundStatus = "SETTLED"
	RoundStatusVoid    RoundStatus = "VOID"
)

// CloseReason records why a round stopped accepting entries
type CloseReason string

const (
	CloseReasonExpired CloseReason = "expired"
	CloseReasonFull    CloseReason = "full"
	CloseReasonAdmin   CloseReason = "admin"
)

// Valid returns true for a known close reason
func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonExpired, CloseReasonFull, CloseReasonAdmin:
		return true
	}
	return false
}

// Round is one instance of the game from opening to settlement or void
type Round struct {
	ID               int64        `db:"id"`
	Authority        string       `db:"authority"`
	Status           RoundStatus  `db:"status"`
	TicketPrice      int64        `db:"ticket_price"` // minor units per ticket
	PotTotal         int64        `db:"pot_total"`    // always the sum of entry stakes
	EntryCount       int          `db:"entry_count"`
	MaxEntries       int          `db:"max_entries"`
	MinEntries       int          `db:"min_entries"`
	FeeBps           int          `db:"fee_bps"`
	CreatedAt        time.Time    `db:"created_at"`
	EndsAt           time.Time    `db:"ends_at"`
	ClosedAt         *time.Time   `db:"closed_at"`
	CloseReason      *CloseReason `db:"close_reason"`
	SettledAt        *time.Time   `db:"settled_at"`
	WinnerIdentityID *string      `db:"winner_identity_id"`
	WinningEntryID   *int64       `db:"winning_entry_id"`
	PayoutAmount     *int64       `db:"payout_amount"`
	HouseFee         *int64       `db:"house_fee"`
	VoidReason       *string      `db:"void_reason"`
}

// IsOpen returns true if the round is in the OPEN state
func (r *Round) IsOpen() bool {
	return r.Status == RoundStatusOpen
}

// IsTerminal returns true once the round is settled or void
func (r *Round) IsTerminal() bool {
	return r.Status == RoundStatusSettled || r.Status == RoundStatusVoid
}

// DeadlinePassed returns true once now is at or past EndsAt
func (r *Round) DeadlinePassed(now time.Time) bool {
	return !now.Before(r.EndsAt)
}

// AcceptsEntries returns true if the round is open and its deadline has not passed
func (r *Round) AcceptsEntries(now time.Time) bool {
	return r.IsOpen() && !r.DeadlinePassed(now)
}

// IsFull returns true when no slots remain
func (r *Round) IsFull() bool {
	return r.EntryCount >= r.MaxEntries
}

// RemainingSlots returns how many more entries the round accepts
func (r *Round) RemainingSlots() int {
	if r.IsFull() {
		return 0
	}
	return r.MaxEntries - r.EntryCount
}

// Close moves an open round to CLOSED
func (r *Round) Close(reason CloseReason, now time.Time) {
	r.Status = RoundStatusClosed
	r.CloseReason = &reason
	r.ClosedAt = &now
}

// Settle records the winner and the payout split
func (r *Round) Settle(winner *Entry, payout, houseFee int64, now time.Time) {
	r.Status = RoundStatusSettled
	identityID := winner.IdentityID
	entryID := winner.ID
	r.WinnerIdentityID = &identityID
	r.WinningEntryID = &entryID
	r.PayoutAmount = &payout
	r.HouseFee = &houseFee
	r.SettledAt = &now
}

// Void moves the round to VOID, making every entry refundable
func (r *Round) Void(reason string, now time.Time) {
	r.Status = RoundStatusVoid
	r.VoidReason = &reason
	if r.ClosedAt == nil {
		r.ClosedAt = &now
	}
	r.SettledAt = &now
}

// IsWinningEntry returns true if entryID is the recorded winning entry
func (r *Round) IsWinningEntry(entryID int64) bool {
	return r.WinningEntryID != nil && *r.WinningEntryID == entryID
}

// SplitPot divides a pot into the winner payout and the house fee.
// The payout is floored so any remainder stays with the house.
func SplitPot(pot int64, feeBps int) (payout, houseFee int64) {
	keep := int64(BasisPointsDivisor - feeBps)
	// split the multiplication so large pots cannot overflow
	payout = (pot/BasisPointsDivisor)*keep + (pot%BasisPointsDivisor)*keep/BasisPointsDivisor
	return payout, pot - payout
}
