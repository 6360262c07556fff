package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"
	"wealthwars/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRoundService_CreateRoundValidation(t *testing.T) {
	t.Parallel()

	valid := interfaces.CreateRoundParams{TicketPrice: 100, MaxEntries: 10, Duration: time.Hour, FeeBps: 500}

	tests := []struct {
		name       string
		credential string
		modify     func(p *interfaces.CreateRoundParams)
		wantErr    error
	}{
		{name: "wrong credential", credential: "nope", wantErr: entities.ErrAuthorityRequired},
		{name: "empty credential", credential: "", wantErr: entities.ErrAuthorityRequired},
		{name: "zero price", modify: func(p *interfaces.CreateRoundParams) { p.TicketPrice = 0 }, wantErr: entities.ErrInvalidTicketPrice},
		{name: "zero max entries", modify: func(p *interfaces.CreateRoundParams) { p.MaxEntries = 0 }, wantErr: entities.ErrInvalidMaxEntries},
		{name: "zero duration", modify: func(p *interfaces.CreateRoundParams) { p.Duration = 0 }, wantErr: entities.ErrInvalidDuration},
		{name: "negative fee", modify: func(p *interfaces.CreateRoundParams) { p.FeeBps = -1 }, wantErr: entities.ErrInvalidFee},
		{name: "fee takes whole pot", modify: func(p *interfaces.CreateRoundParams) { p.FeeBps = 10000 }, wantErr: entities.ErrInvalidFee},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			params := valid
			if tt.modify != nil {
				tt.modify(&params)
			}
			credential := tt.credential
			if tt.modify != nil {
				credential = testAuthoritySecret
			}

			_, err := env.rounds.CreateRound(env.ctx, credential, params)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, env.events.Events())
		})
	}
}

func TestRoundService_CreateRound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	round := env.createRound(t, 3, 2000)
	assert.Equal(t, entities.RoundStatusOpen, round.Status)
	assert.Equal(t, testAuthorityName, round.Authority)
	assert.Equal(t, int64(0), round.PotTotal)
	assert.Equal(t, entities.DefaultMinEntries, round.MinEntries)
	assert.Equal(t, testStart.Add(time.Hour), round.EndsAt)

	created := env.events.OfType(events.EventTypeRoundCreated)
	require.Len(t, created, 1)
	assert.Equal(t, round.ID, created[0].(events.RoundCreatedEvent).RoundID)

	_, err := env.rounds.CreateRound(env.ctx, testAuthoritySecret, interfaces.CreateRoundParams{
		TicketPrice: 100, MaxEntries: 2, Duration: time.Minute,
	})
	assert.ErrorIs(t, err, entities.ErrRoundAlreadyOpen)

	current, err := env.rounds.CurrentRound(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, round.ID, current.ID)
}

func TestRoundService_CurrentRoundFallsBackToLatest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	_, err := env.rounds.CurrentRound(env.ctx)
	assert.ErrorIs(t, err, entities.ErrRoundNotFound)

	round := env.createRound(t, 3, 0)
	_, err = env.rounds.AdminVoid(env.ctx, testAuthoritySecret, round.ID, "")
	require.NoError(t, err)

	current, err := env.rounds.CurrentRound(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, round.ID, current.ID)
	assert.Equal(t, entities.RoundStatusVoid, current.Status)

	// a voided round frees the authority to open another
	next := env.createRound(t, 3, 0)
	assert.NotEqual(t, round.ID, next.ID)
}

func TestRoundService_AddEntryChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(env *testEnv, round *entities.Round)
		req     entities.EntryRequest
		wantErr error
	}{
		{
			name:    "stake below ticket price",
			req:     entities.EntryRequest{IdentityID: "p1", WalletAddress: "w1", Stake: testTicketPrice - 1, Tickets: 1},
			wantErr: entities.ErrStakeBelowTicketPrice,
		},
		{
			name:    "zero tickets",
			req:     entities.EntryRequest{IdentityID: "p1", WalletAddress: "w1", Stake: testTicketPrice, Tickets: 0},
			wantErr: entities.ErrInvalidTicketCount,
		},
		{
			name:    "stake not a multiple of price",
			req:     entities.EntryRequest{IdentityID: "p1", WalletAddress: "w1", Stake: testTicketPrice + 1, Tickets: 1},
			wantErr: entities.ErrStakeMismatch,
		},
		{
			name:    "stake disagrees with tickets",
			req:     entities.EntryRequest{IdentityID: "p1", WalletAddress: "w1", Stake: 2 * testTicketPrice, Tickets: 3},
			wantErr: entities.ErrStakeMismatch,
		},
		{
			name: "duplicate identity",
			setup: func(env *testEnv, round *entities.Round) {
				_, err := env.rounds.AddEntry(env.ctx, round.ID, entryRequest("p1", "w1", 1))
				require.NoError(t, err)
			},
			req:     entryRequest("p1", "w1", 1),
			wantErr: entities.ErrDuplicateEntry,
		},
		{
			name: "deadline passed",
			setup: func(env *testEnv, round *entities.Round) {
				env.clock.Advance(time.Hour)
			},
			req:     entryRequest("p1", "w1", 1),
			wantErr: entities.ErrRoundNotOpen,
		},
		{
			name: "round closed",
			setup: func(env *testEnv, round *entities.Round) {
				_, err := env.rounds.Close(env.ctx, testAuthoritySecret, round.ID, entities.CloseReasonAdmin)
				require.NoError(t, err)
			},
			req:     entryRequest("p1", "w1", 1),
			wantErr: entities.ErrRoundNotOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			round := env.createRound(t, 5, 0)
			if tt.setup != nil {
				tt.setup(env, round)
			}
			before := env.round(t, round.ID)

			_, err := env.rounds.AddEntry(env.ctx, round.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, entities.KindOf(tt.wantErr), entities.KindOf(err))

			after := env.round(t, round.ID)
			assert.Equal(t, before.PotTotal, after.PotTotal)
			assert.Equal(t, before.EntryCount, after.EntryCount)
		})
	}

	t.Run("unknown round", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		_, err := env.rounds.AddEntry(env.ctx, 99, entryRequest("p1", "w1", 1))
		assert.ErrorIs(t, err, entities.ErrRoundNotFound)
	})
}

func TestRoundService_AddEntryGrowsPotAndClosesWhenFull(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 2, 0)

	first, err := env.rounds.AddEntry(env.ctx, round.ID, entryRequest("p1", "w1", 1))
	require.NoError(t, err)
	assert.Equal(t, testTicketPrice, first.Stake)

	_, err = env.rounds.AddEntry(env.ctx, round.ID, entryRequest("p2", "w2", 3))
	require.NoError(t, err)

	stored := env.round(t, round.ID)
	assert.Equal(t, 4*testTicketPrice, stored.PotTotal)
	assert.Equal(t, 2, stored.EntryCount)
	assert.Equal(t, entities.RoundStatusClosed, stored.Status)
	require.NotNil(t, stored.CloseReason)
	assert.Equal(t, entities.CloseReasonFull, *stored.CloseReason)

	_, err = env.rounds.AddEntry(env.ctx, round.ID, entryRequest("p3", "w3", 1))
	assert.ErrorIs(t, err, entities.ErrRoundNotOpen)

	closed := env.events.OfType(events.EventTypeRoundClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "full", closed[0].(events.RoundClosedEvent).Reason)
	assert.Len(t, env.events.OfType(events.EventTypeEntryAdded), 2)
}

func TestRoundService_AllowMultipleEntries(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.rounds = NewRoundService(env.uowFactory, nil, env.authority, env.clock, RoundConfig{AllowMultipleEntries: true}, nil)
	round := env.createRound(t, 5, 0)

	for i := 0; i < 3; i++ {
		_, err := env.rounds.AddEntry(env.ctx, round.ID, entryRequest("p1", "w1", 1))
		require.NoError(t, err)
	}
	assert.Equal(t, 3*testTicketPrice, env.round(t, round.ID).PotTotal)
}

func TestRoundService_ConcurrentEntriesNeverOvershoot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 10, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, full := 0, 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			_, err := env.rounds.AddEntry(context.Background(), round.ID, entryRequest(id, "w"+id, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case entities.KindOf(err) == entities.KindStateConflict:
				full++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 30, full)

	stored := env.round(t, round.ID)
	assert.Equal(t, 10, stored.EntryCount)
	assert.Equal(t, 10*testTicketPrice, stored.PotTotal)

	entries, err := env.rounds.ListEntries(env.ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.PotTotal, entities.TotalStake(entries))
}

func TestRoundService_JoinRound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := env.linkedPlayer(t, "tg_1")

	source := &testhelpers.MockBalanceSource{}
	source.On("QueryBalance", mock.Anything, wallet.Address).Return(uint64(2*testTicketPrice), nil)
	balances := NewBalanceCache(source, env.clock, testCacheConfig(), nil)
	env.rounds = NewRoundService(env.uowFactory, balances, env.authority, env.clock, RoundConfig{RequireBalance: true, MaxTicketsPerEntry: 5}, nil)

	round := env.createRound(t, 5, 0)

	_, err := env.rounds.JoinRound(env.ctx, round.ID, "tg_1", 3)
	assert.ErrorIs(t, err, entities.ErrInsufficientBalance)

	_, err = env.rounds.JoinRound(env.ctx, round.ID, "tg_1", 6)
	assert.ErrorIs(t, err, entities.ErrInvalidTicketCount)

	entry, err := env.rounds.JoinRound(env.ctx, round.ID, "tg_1", 2)
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, entry.WalletAddress)
	assert.Equal(t, 2*testTicketPrice, entry.Stake)
	assert.Equal(t, 2, entry.Tickets)

	_, err = env.rounds.JoinRound(env.ctx, round.ID, "tg_unknown", 1)
	assert.ErrorIs(t, err, entities.ErrIdentityNotFound)

	_, err = env.identities.GetOrCreate(env.ctx, "tg_nowallet", "bob")
	require.NoError(t, err)
	_, err = env.rounds.JoinRound(env.ctx, round.ID, "tg_nowallet", 1)
	assert.ErrorIs(t, err, entities.ErrWalletNotLinked)
}

func TestRoundService_JoinRoundRefusesDegradedBalance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := env.linkedPlayer(t, "tg_1")

	source := &testhelpers.MockBalanceSource{}
	source.On("QueryBalance", mock.Anything, wallet.Address).Return(uint64(0), fmt.Errorf("rpc down"))
	balances := NewBalanceCache(source, env.clock, testCacheConfig(), nil)
	env.rounds = NewRoundService(env.uowFactory, balances, env.authority, env.clock, RoundConfig{RequireBalance: true}, nil)

	round := env.createRound(t, 5, 0)
	_, err := env.rounds.JoinRound(env.ctx, round.ID, "tg_1", 1)
	assert.ErrorIs(t, err, entities.ErrBalanceUnavailable)
	assert.Equal(t, entities.KindTransient, entities.KindOf(err))
}

func TestRoundService_Close(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reason  entities.CloseReason
		advance time.Duration
		entries int
		wantErr error
	}{
		{name: "admin close any time", reason: entities.CloseReasonAdmin},
		{name: "expired before deadline", reason: entities.CloseReasonExpired, advance: 59 * time.Minute, wantErr: entities.ErrRoundStillRunning},
		{name: "expired at deadline", reason: entities.CloseReasonExpired, advance: time.Hour},
		{name: "full while not full", reason: entities.CloseReasonFull, entries: 2, wantErr: entities.ErrRoundNotFull},
		{name: "unknown reason", reason: entities.CloseReason("bored"), wantErr: entities.ErrInvalidCloseReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			round := env.createRound(t, 3, 0)
			for i := 0; i < tt.entries; i++ {
				id := fmt.Sprintf("p%d", i)
				_, err := env.rounds.AddEntry(env.ctx, round.ID, entryRequest(id, "w"+id, 1))
				require.NoError(t, err)
			}
			env.clock.Advance(tt.advance)

			closed, err := env.rounds.Close(env.ctx, testAuthoritySecret, round.ID, tt.reason)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, entities.RoundStatusOpen, env.round(t, round.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, entities.RoundStatusClosed, closed.Status)
			require.NotNil(t, closed.ClosedAt)
			assert.Equal(t, env.clock.Now(), *closed.ClosedAt)

			_, err = env.rounds.Close(env.ctx, testAuthoritySecret, round.ID, entities.CloseReasonAdmin)
			assert.ErrorIs(t, err, entities.ErrRoundNotOpen)
		})
	}
}

func TestRoundService_CloseRequiresAuthority(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 3, 0)

	_, err := env.rounds.Close(env.ctx, "guess", round.ID, entities.CloseReasonAdmin)
	assert.ErrorIs(t, err, entities.ErrAuthorityRequired)

	_, err = env.rounds.AdminVoid(env.ctx, "guess", round.ID, "")
	assert.ErrorIs(t, err, entities.ErrAuthorityRequired)
}

func TestRoundService_AutoClose(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 3, 0)

	_, err := env.rounds.AutoClose(env.ctx, round.ID)
	assert.ErrorIs(t, err, entities.ErrRoundStillRunning)

	env.clock.Advance(time.Hour)
	closed, err := env.rounds.AutoClose(env.ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.CloseReasonExpired, *closed.CloseReason)
}

func TestRoundService_AdminVoid(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 3, 0)
	_, err := env.rounds.AddEntry(env.ctx, round.ID, entryRequest("p1", "w1", 1))
	require.NoError(t, err)

	voided, err := env.rounds.AdminVoid(env.ctx, testAuthoritySecret, round.ID, "maintenance")
	require.NoError(t, err)
	assert.Equal(t, entities.RoundStatusVoid, voided.Status)
	require.NotNil(t, voided.VoidReason)
	assert.Equal(t, "maintenance", *voided.VoidReason)
	assert.Equal(t, testTicketPrice, voided.PotTotal)

	_, err = env.rounds.AdminVoid(env.ctx, testAuthoritySecret, round.ID, "again")
	assert.ErrorIs(t, err, entities.ErrAlreadySettled)
	assert.Len(t, env.events.OfType(events.EventTypeRoundVoided), 1)
}

// commitFailingFactory fails Commit while fail is set and rolls the work back
type commitFailingFactory struct {
	inner interfaces.UnitOfWorkFactory
	fail  atomic.Bool
}

func (f *commitFailingFactory) Create() interfaces.UnitOfWork {
	return &commitFailingUnitOfWork{UnitOfWork: f.inner.Create(), fail: &f.fail}
}

type commitFailingUnitOfWork struct {
	interfaces.UnitOfWork
	fail *atomic.Bool
}

func (u *commitFailingUnitOfWork) Commit() error {
	if u.fail.Load() {
		return errors.New("connection lost")
	}
	return u.UnitOfWork.Commit()
}

func TestRoundService_TransitionMetricsFollowCommit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	factory := &commitFailingFactory{inner: env.uowFactory}
	metrics := &testhelpers.MockMetrics{}
	metrics.On("RecordRoundTransition", mock.Anything).Return()
	rounds := NewRoundService(factory, nil, env.authority, env.clock, RoundConfig{}, metrics)

	round, err := rounds.CreateRound(env.ctx, testAuthoritySecret, interfaces.CreateRoundParams{
		TicketPrice: testTicketPrice,
		MaxEntries:  5,
		Duration:    time.Hour,
	})
	require.NoError(t, err)
	metrics.AssertNumberOfCalls(t, "RecordRoundTransition", 1)

	factory.fail.Store(true)
	_, err = rounds.Close(env.ctx, testAuthoritySecret, round.ID, entities.CloseReasonAdmin)
	assert.ErrorIs(t, err, entities.ErrStoreUnavailable)
	_, err = rounds.AdminVoid(env.ctx, testAuthoritySecret, round.ID, "cancelled")
	assert.ErrorIs(t, err, entities.ErrStoreUnavailable)
	metrics.AssertNumberOfCalls(t, "RecordRoundTransition", 1)
	assert.Equal(t, entities.RoundStatusOpen, env.round(t, round.ID).Status)

	factory.fail.Store(false)
	_, err = rounds.Close(env.ctx, testAuthoritySecret, round.ID, entities.CloseReasonAdmin)
	require.NoError(t, err)
	metrics.AssertCalled(t, "RecordRoundTransition", string(entities.RoundStatusClosed))
	metrics.AssertNumberOfCalls(t, "RecordRoundTransition", 2)
}
