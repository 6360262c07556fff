package entities

import "time"

// Entry is one participant's stake and ticket allocation within a round.
// Only Claimed changes after creation and it never goes back to false.
type Entry struct {
	ID            int64     `db:"id"`
	RoundID       int64     `db:"round_id"`
	IdentityID    string    `db:"identity_id"`
	WalletAddress string    `db:"wallet_address"` // wallet at time of entry
	Stake         int64     `db:"stake"`
	Tickets       int       `db:"tickets"`
	Claimed       bool      `db:"claimed"`
	Exclusive     bool      `db:"exclusive"` // at most one exclusive entry per identity and round
	CreatedAt     time.Time `db:"created_at"`
}

// EntryRequest describes an entry the ledger is asked to add
type EntryRequest struct {
	IdentityID    string
	WalletAddress string
	Stake         int64
	Tickets       int
}

// TotalTickets sums ticket counts across entries
func TotalTickets(entries []*Entry) int64 {
	var total int64
	for _, e := range entries {
		total += int64(e.Tickets)
	}
	return total
}

// TotalStake sums stakes across entries
func TotalStake(entries []*Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Stake
	}
	return total
}
