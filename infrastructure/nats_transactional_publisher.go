package infrastructure

import (
	"context"
	"sync"

	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// TransactionalPublisher holds events until the owning transaction commits
type TransactionalPublisher struct {
	realPublisher interfaces.EventPublisher
	mu            sync.Mutex
	pending       []events.Event
}

var _ interfaces.TransactionalEventPublisher = (*TransactionalPublisher)(nil)

// NewTransactionalPublisher creates a new transactional publisher
func NewTransactionalPublisher(realPublisher interfaces.EventPublisher) *TransactionalPublisher {
	return &TransactionalPublisher{
		realPublisher: realPublisher,
		pending:       make([]events.Event, 0),
	}
}

// Publish queues the event without publishing it
func (p *TransactionalPublisher) Publish(event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"pendingCount": len(p.pending),
	}).Debug("Queueing event until commit")

	p.pending = append(p.pending, event)
	return nil
}

// Flush publishes every queued event in order.
// A failed event is logged and skipped because the transaction already committed.
func (p *TransactionalPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = make([]events.Event, 0)
	p.mu.Unlock()

	for _, event := range pending {
		if ctx.Err() != nil {
			log.WithField("eventType", event.Type()).Warn("Context ended before event flush; publishing anyway")
		}
		if err := p.realPublisher.Publish(event); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
				"error":     err,
			}).Error("Failed to publish event during flush")
		}
	}
	return nil
}

// Discard drops every queued event
func (p *TransactionalPublisher) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) > 0 {
		log.WithField("discardedEventCount", len(p.pending)).Debug("Discarding events after rollback")
	}
	p.pending = p.pending[:0]
}

// Pending returns the number of queued events
func (p *TransactionalPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
