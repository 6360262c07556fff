package events

// EventType identifies a domain event
type EventType string

const (
	EventTypeWalletLinked  EventType = "wallet_linked"
	EventTypeRoundCreated  EventType = "round_created"
	EventTypeEntryAdded    EventType = "entry_added"
	EventTypeRoundClosed   EventType = "round_closed"
	EventTypeRoundSettled  EventType = "round_settled"
	EventTypeRoundVoided   EventType = "round_voided"
	EventTypePayoutClaimed EventType = "payout_claimed"
	EventTypeRefundClaimed EventType = "refund_claimed"
)

// Event is the base interface for all domain events
type Event interface {
	Type() EventType
}

// WalletLinkedEvent is published after a wallet is bound to an identity
type WalletLinkedEvent struct {
	IdentityID    string `json:"identity_id"`
	WalletAddress string `json:"wallet_address"`
}

func (e WalletLinkedEvent) Type() EventType {
	return EventTypeWalletLinked
}

// RoundCreatedEvent is published when a round opens
type RoundCreatedEvent struct {
	RoundID     int64  `json:"round_id"`
	Authority   string `json:"authority"`
	TicketPrice int64  `json:"ticket_price"`
	MaxEntries  int    `json:"max_entries"`
	FeeBps      int    `json:"fee_bps"`
	EndsAtUnix  int64  `json:"ends_at"`
}

func (e RoundCreatedEvent) Type() EventType {
	return EventTypeRoundCreated
}

// EntryAddedEvent is published once per committed entry
type EntryAddedEvent struct {
	RoundID    int64  `json:"round_id"`
	EntryID    int64  `json:"entry_id"`
	IdentityID string `json:"identity_id"`
	Stake      int64  `json:"stake"`
	Tickets    int    `json:"tickets"`
	PotTotal   int64  `json:"pot_total"`
	EntryCount int    `json:"entry_count"`
}

func (e EntryAddedEvent) Type() EventType {
	return EventTypeEntryAdded
}

// RoundClosedEvent is published when a round stops accepting entries
type RoundClosedEvent struct {
	RoundID    int64  `json:"round_id"`
	Reason     string `json:"reason"`
	PotTotal   int64  `json:"pot_total"`
	EntryCount int    `json:"entry_count"`
}

func (e RoundClosedEvent) Type() EventType {
	return EventTypeRoundClosed
}

// RoundSettledEvent is published when a winner is drawn
type RoundSettledEvent struct {
	RoundID          int64  `json:"round_id"`
	WinningEntryID   int64  `json:"winning_entry_id"`
	WinnerIdentityID string `json:"winner_identity_id"`
	PotTotal         int64  `json:"pot_total"`
	Payout           int64  `json:"payout"`
	HouseFee         int64  `json:"house_fee"`
}

func (e RoundSettledEvent) Type() EventType {
	return EventTypeRoundSettled
}

// RoundVoidedEvent is published when a round is voided and entries become refundable
type RoundVoidedEvent struct {
	RoundID    int64  `json:"round_id"`
	Reason     string `json:"reason"`
	EntryCount int    `json:"entry_count"`
}

func (e RoundVoidedEvent) Type() EventType {
	return EventTypeRoundVoided
}

// PayoutClaimedEvent is published after a payout transfer is confirmed
type PayoutClaimedEvent struct {
	RoundID     int64  `json:"round_id"`
	EntryID     int64  `json:"entry_id"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	TxSignature string `json:"tx_signature"`
}

func (e PayoutClaimedEvent) Type() EventType {
	return EventTypePayoutClaimed
}

// RefundClaimedEvent is published after a refund transfer is confirmed
type RefundClaimedEvent struct {
	RoundID     int64  `json:"round_id"`
	EntryID     int64  `json:"entry_id"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	TxSignature string `json:"tx_signature"`
}

func (e RefundClaimedEvent) Type() EventType {
	return EventTypeRefundClaimed
}
