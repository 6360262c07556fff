package infrastructure

import (
	"wealthwars/domain/events"

	log "github.com/sirupsen/logrus"
)

// NoopEventPublisher drops every event.
// Used when NATS is not configured and by admin commands.
type NoopEventPublisher struct{}

// NewNoopEventPublisher creates a new no-op event publisher
func NewNoopEventPublisher() *NoopEventPublisher {
	return &NoopEventPublisher{}
}

// Publish does nothing with the event
func (n *NoopEventPublisher) Publish(event events.Event) error {
	log.WithField("eventType", event.Type()).Debug("Dropping event, no bus configured")
	return nil
}
