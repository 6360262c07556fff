package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"
	"wealthwars/domain/utils"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// BalanceCacheConfig tunes the balance cache
type BalanceCacheConfig struct {
	TTL          time.Duration // lifetime of a live result
	DegradedTTL  time.Duration // lifetime of a fallback result
	MaxEntries   int
	Decimals     uint8 // token decimals used for tier thresholds
	MaxRetries   uint64
	RetryBackoff time.Duration
	RateLimit    rate.Limit // lookups per second against the source
	RateBurst    int
	FetchTimeout time.Duration // bounds a shared lookup independently of its callers
}

// DefaultBalanceCacheConfig returns the production defaults
func DefaultBalanceCacheConfig() BalanceCacheConfig {
	return BalanceCacheConfig{
		TTL:          30 * time.Second,
		DegradedTTL:  5 * time.Second,
		MaxEntries:   1000,
		Decimals:     9,
		MaxRetries:   2,
		RetryBackoff: 200 * time.Millisecond,
		RateLimit:    10,
		RateBurst:    20,
		FetchTimeout: 5 * time.Second,
	}
}

type cachedBalance struct {
	balance   entities.Balance
	expiresAt time.Time
}

var _ interfaces.BalanceService = (*BalanceCache)(nil)

// BalanceCache memoizes balance source lookups with a TTL and LRU bound
type BalanceCache struct {
	source  interfaces.BalanceSource
	clock   interfaces.Clock
	metrics interfaces.MetricsRecorder
	cfg     BalanceCacheConfig
	limiter *rate.Limiter
	group   singleflight.Group
	entries *lru.Cache[string, cachedBalance]
}

// NewBalanceCache creates a new balance cache in front of source
func NewBalanceCache(source interfaces.BalanceSource, clock interfaces.Clock, cfg BalanceCacheConfig, metrics interfaces.MetricsRecorder) *BalanceCache {
	defaults := DefaultBalanceCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.DegradedTTL <= 0 {
		cfg.DegradedTTL = defaults.DegradedTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}

	// lru.New only fails for a non-positive size
	entries, _ := lru.New[string, cachedBalance](cfg.MaxEntries)

	return &BalanceCache{
		source:  source,
		clock:   clockOrSystem(clock),
		metrics: metricsOrNoop(metrics),
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		entries: entries,
	}
}

// GetBalance returns the cached balance or fetches it from the source.
// Source failures come back as a zero Citizen balance marked degraded.
// Concurrent lookups of a cold wallet share one fetch; a caller whose ctx ends
// first gets ErrBalanceUnavailable while the fetch carries on for the others.
func (c *BalanceCache) GetBalance(ctx context.Context, address string) (*entities.Balance, error) {
	if _, err := utils.ParseWalletAddress(address); err != nil {
		return nil, err
	}

	if cached, ok := c.lookup(address); ok {
		c.metrics.RecordBalanceLookup(string(entities.BalanceSourceCached))
		return cached, nil
	}

	flight := c.group.DoChan(address, func() (interface{}, error) {
		// another caller may have filled the key while we waited
		if cached, ok := c.lookup(address); ok {
			return cached, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()
		balance := c.fetch(fetchCtx, address)
		c.store(balance)
		return balance, nil
	})

	select {
	case res := <-flight:
		balance := *(res.Val.(*entities.Balance))
		c.metrics.RecordBalanceLookup(string(balance.Source))
		return &balance, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", entities.ErrBalanceUnavailable, ctx.Err())
	}
}

// Invalidate drops a cached balance, e.g. after a payout to that wallet
func (c *BalanceCache) Invalidate(address string) {
	c.entries.Remove(address)
}

// Len returns the number of cached wallets
func (c *BalanceCache) Len() int {
	return c.entries.Len()
}

func (c *BalanceCache) lookup(address string) (*entities.Balance, bool) {
	entry, ok := c.entries.Get(address)
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.entries.Remove(address)
		return nil, false
	}

	balance := entry.balance
	if balance.Source == entities.BalanceSourceLive {
		balance.Source = entities.BalanceSourceCached
	}
	return &balance, true
}

func (c *BalanceCache) store(balance *entities.Balance) {
	ttl := c.cfg.TTL
	if balance.Degraded() {
		ttl = c.cfg.DegradedTTL
	}
	c.entries.Add(balance.Address, cachedBalance{balance: *balance, expiresAt: balance.FetchedAt.Add(ttl)})
}

// fetch queries the source with bounded retries. Lookups are read-only so retrying is safe.
func (c *BalanceCache) fetch(ctx context.Context, address string) *entities.Balance {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx)

	attempts := 0
	amount, err := backoff.RetryWithData(func() (uint64, error) {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, backoff.Permanent(err)
		}
		amount, err := c.source.QueryBalance(ctx, address)
		if err != nil && errors.Is(err, entities.ErrInvalidAddress) {
			return 0, backoff.Permanent(err)
		}
		return amount, err
	}, retry)

	now := c.clock.Now()
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"wallet":   address,
			"attempts": attempts,
		}).Warn("Balance lookup failed, using degraded balance")
		return &entities.Balance{
			Address:   address,
			Amount:    0,
			Tier:      entities.TierCitizen,
			Source:    entities.BalanceSourceDegraded,
			FetchedAt: now,
		}
	}

	return &entities.Balance{
		Address:   address,
		Amount:    amount,
		Tier:      entities.ClassifyTier(amount, c.cfg.Decimals),
		Source:    entities.BalanceSourceLive,
		FetchedAt: now,
	}
}
