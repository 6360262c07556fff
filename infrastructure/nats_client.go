package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// DomainEventStream is the JetStream stream that carries game events
const DomainEventStream = "wealthwars_events"

// NATSClient wraps a NATS connection with JetStream
type NATSClient struct {
	servers              string
	name                 string
	nc                   *nats.Conn
	js                   nats.JetStreamContext
	mu                   sync.RWMutex
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// NewNATSClient creates a new NATS client
func NewNATSClient(servers string) *NATSClient {
	return &NATSClient{
		servers:              servers,
		name:                 "wealthwars",
		reconnectDelay:       2 * time.Second,
		maxReconnectAttempts: 10,
	}
}

// Connect establishes a connection to the NATS server with JetStream
func (c *NATSClient) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnectAttempts),
		nats.ReconnectWait(c.reconnectDelay),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(c.servers, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream(nats.Context(ctx))
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.mu.Lock()
	c.nc = nc
	c.js = js
	c.mu.Unlock()

	log.WithField("servers", c.servers).Info("Connected to NATS with JetStream")
	return nil
}

// Close drains and closes the connection
func (c *NATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		log.WithError(err).Warn("Failed to drain NATS connection")
		c.nc.Close()
	}
	c.nc = nil
	c.js = nil
	log.Info("NATS connection closed")
	return nil
}

// IsConnected returns true if the client is connected to NATS
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc != nil && c.nc.IsConnected()
}

// EnsureStream creates the stream if it does not exist yet
func (c *NATSClient) EnsureStream(streamName string, subjects []string) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return fmt.Errorf("not connected to NATS JetStream")
	}

	if _, err := js.StreamInfo(streamName); err == nil {
		log.WithField("stream", streamName).Info("JetStream stream already exists")
		return nil
	}

	cfg := &nats.StreamConfig{
		Name:        streamName,
		Subjects:    subjects,
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Description: "Wealth Wars round lifecycle events",
	}
	if _, err := js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", streamName, err)
	}

	log.WithFields(log.Fields{
		"stream":   streamName,
		"subjects": subjects,
	}).Info("Created JetStream stream")
	return nil
}

// Publish publishes a message to the subject using JetStream.
// msgID lets the server drop duplicates within its dedupe window.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return fmt.Errorf("not connected to NATS JetStream")
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	if _, err := js.Publish(subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish message to subject %s: %w", subject, err)
	}

	log.WithFields(log.Fields{
		"subject": subject,
		"size":    len(data),
	}).Debug("Published message to NATS")
	return nil
}
