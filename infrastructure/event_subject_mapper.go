package infrastructure

import (
	"fmt"

	"wealthwars/domain/events"
)

var eventSubjects = map[events.EventType]string{
	events.EventTypeWalletLinked:  "wealthwars.identity.wallet_linked",
	events.EventTypeRoundCreated:  "wealthwars.round.created",
	events.EventTypeEntryAdded:    "wealthwars.round.entry_added",
	events.EventTypeRoundClosed:   "wealthwars.round.closed",
	events.EventTypeRoundSettled:  "wealthwars.round.settled",
	events.EventTypeRoundVoided:   "wealthwars.round.voided",
	events.EventTypePayoutClaimed: "wealthwars.claim.payout",
	events.EventTypeRefundClaimed: "wealthwars.claim.refund",
}

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a domain event to its NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	if subject, ok := eventSubjects[event.Type()]; ok {
		return subject
	}
	return fmt.Sprintf("wealthwars.unknown.%s", event.Type())
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	for eventType, s := range eventSubjects {
		if s == subject {
			return eventType
		}
	}
	return events.EventType(subject)
}

// GetAllSubjects returns the subjects the stream must capture
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{"wealthwars.>"}
}
