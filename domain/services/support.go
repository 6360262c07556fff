package services

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"
)

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// CryptoRandom draws from crypto/rand
type CryptoRandom struct{}

func (CryptoRandom) Int63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid random bound %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("failed to draw random number: %w", err)
	}
	return v.Int64(), nil
}

// Authority is the administrative identity allowed to run the round lifecycle
type Authority struct {
	Name   string
	secret string
}

// NewAuthority creates an authority gate for the given scope and shared secret
func NewAuthority(name, secret string) Authority {
	return Authority{Name: name, secret: secret}
}

// Authorize checks a credential in constant time
func (a Authority) Authorize(credential string) error {
	if a.secret == "" || credential == "" {
		return entities.ErrAuthorityRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.secret), []byte(credential)) != 1 {
		return entities.ErrAuthorityRequired
	}
	return nil
}

type noopMetrics struct{}

func (noopMetrics) RecordLinkAttempt(string) {}
func (noopMetrics) RecordBalanceLookup(string) {}
func (noopMetrics) RecordEntry(int64, int64) {}
func (noopMetrics) RecordRoundTransition(string) {}
func (noopMetrics) RecordClaim(string, string) {}

func metricsOrNoop(m interfaces.MetricsRecorder) interfaces.MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

func clockOrSystem(c interfaces.Clock) interfaces.Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}

// outcomeOf labels a result for metrics
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return entities.CodeOf(err)
}
