package services

import (
	"fmt"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"
)

// SelectWinner draws one ticket uniformly across all entries.
// An entry holding N tickets is N times as likely to win as a single-ticket entry.
func SelectWinner(entries []*entities.Entry, rng interfaces.RandomSource) (*entities.Entry, error) {
	total := entities.TotalTickets(entries)
	if total <= 0 {
		return nil, entities.ErrNoEntries
	}

	ticket, err := rng.Int63n(total)
	if err != nil {
		return nil, err
	}
	if ticket < 0 || ticket >= total {
		return nil, fmt.Errorf("random ticket %d out of range [0, %d)", ticket, total)
	}

	var cumulative int64
	for _, entry := range entries {
		cumulative += int64(entry.Tickets)
		if ticket < cumulative {
			return entry, nil
		}
	}

	return nil, fmt.Errorf("ticket %d not covered by %d entries", ticket, len(entries))
}
