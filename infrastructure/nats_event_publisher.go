package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"wealthwars/domain/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EventEnvelope wraps every event published to NATS
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// LocalHandler receives events in the publishing process
type LocalHandler func(context.Context, events.Event) error

// NATSEventPublisher implements the EventPublisher interface using NATS
type NATSEventPublisher struct {
	natsClient    *NATSClient
	subjectMapper *EventSubjectMapper
	timeout       time.Duration

	mu            sync.RWMutex
	localHandlers map[events.EventType][]LocalHandler
}

// NewNATSEventPublisher creates a new NATS event publisher
func NewNATSEventPublisher(natsClient *NATSClient, subjectMapper *EventSubjectMapper) *NATSEventPublisher {
	return &NATSEventPublisher{
		natsClient:    natsClient,
		subjectMapper: subjectMapper,
		timeout:       5 * time.Second,
		localHandlers: make(map[events.EventType][]LocalHandler),
	}
}

// Publish runs local handlers and then publishes the event to its subject
func (p *NATSEventPublisher) Publish(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	eventType := event.Type()

	p.mu.RLock()
	handlers := p.localHandlers[eventType]
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			log.WithFields(log.Fields{
				"eventType": eventType,
				"error":     err,
			}).Error("Local event handler failed")
		}
	}

	envelope, err := NewEventEnvelope(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := p.subjectMapper.MapEventToSubject(event)
	if err := p.natsClient.Publish(ctx, subject, data, envelope.EventID); err != nil {
		if strings.Contains(err.Error(), "no response from stream") {
			log.WithField("subject", subject).Warn("No stream bound to subject, event dropped")
			return nil
		}
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	log.WithFields(log.Fields{
		"eventType": eventType,
		"eventId":   envelope.EventID,
		"subject":   subject,
	}).Debug("Successfully published event to NATS")
	return nil
}

// RegisterLocalHandler registers a handler invoked in-process for an event type
func (p *NATSEventPublisher) RegisterLocalHandler(eventType events.EventType, handler LocalHandler) {
	p.mu.Lock()
	p.localHandlers[eventType] = append(p.localHandlers[eventType], handler)
	count := len(p.localHandlers[eventType])
	p.mu.Unlock()

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": count,
	}).Info("Registered local event handler")
}

// EnsureDomainEventStream ensures the domain event stream exists
func (p *NATSEventPublisher) EnsureDomainEventStream() error {
	return p.natsClient.EnsureStream(DomainEventStream, p.subjectMapper.GetAllSubjects())
}

// NewEventEnvelope serializes an event into an envelope with a fresh id
func NewEventEnvelope(event events.Event) (*EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     time.Now().UTC(),
		SourceService: "wealthwars",
		Payload:       payload,
	}, nil
}
