package testhelpers

import (
	"context"
	"sync"
	"time"

	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	"github.com/stretchr/testify/mock"
)

// MockBalanceSource is a mock implementation of BalanceSource
type MockBalanceSource struct {
	mock.Mock
}

func (m *MockBalanceSource) QueryBalance(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint64), args.Error(1)
}

// MockTransferSink is a mock implementation of TransferSink
type MockTransferSink struct {
	mock.Mock
}

func (m *MockTransferSink) Transfer(ctx context.Context, req interfaces.TransferRequest) (*interfaces.TransferReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.TransferReceipt), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// RecordingPublisher keeps every published event
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *RecordingPublisher) Publish(event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the published events
func (p *RecordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// OfType returns published events of one type
func (p *RecordingPublisher) OfType(eventType events.EventType) []events.Event {
	var matched []events.Event
	for _, event := range p.Events() {
		if event.Type() == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// FakeClock is a settable clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock fixed at now
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FixedRandom always draws the same value, reduced into range
type FixedRandom struct {
	Value int64
}

func (r FixedRandom) Int63n(n int64) (int64, error) {
	return r.Value % n, nil
}

// FakeTransferSink records transfers and replays receipts by idempotency key
type FakeTransferSink struct {
	mu        sync.Mutex
	Fail      error
	Delay     time.Duration
	calls     int
	transfers []interfaces.TransferRequest
	receipts  map[string]string
}

// NewFakeTransferSink creates an empty sink
func NewFakeTransferSink() *FakeTransferSink {
	return &FakeTransferSink{receipts: make(map[string]string)}
}

func (s *FakeTransferSink) Transfer(ctx context.Context, req interfaces.TransferRequest) (*interfaces.TransferReceipt, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	if sig, ok := s.receipts[req.IdempotencyKey]; ok {
		return &interfaces.TransferReceipt{TransactionID: sig, Reused: true}, nil
	}
	sig := "sig-" + req.IdempotencyKey
	s.receipts[req.IdempotencyKey] = sig
	s.transfers = append(s.transfers, req)
	return &interfaces.TransferReceipt{TransactionID: sig}, nil
}

// SetFail changes the error returned by later transfers
func (s *FakeTransferSink) SetFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = err
}

// Calls returns how many times Transfer was invoked, failures included
func (s *FakeTransferSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Transfers returns the distinct transfers sent
func (s *FakeTransferSink) Transfers() []interfaces.TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interfaces.TransferRequest(nil), s.transfers...)
}

// MockMetrics is a mock implementation of MetricsRecorder
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordLinkAttempt(outcome string) { m.Called(outcome) }

func (m *MockMetrics) RecordBalanceLookup(source string) { m.Called(source) }

func (m *MockMetrics) RecordEntry(roundID int64, stake int64) { m.Called(roundID, stake) }

func (m *MockMetrics) RecordRoundTransition(status string) { m.Called(status) }

func (m *MockMetrics) RecordClaim(kind, outcome string) { m.Called(kind, outcome) }
