package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"
	"wealthwars/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settledRound returns a settled three-player round and its winning entry
func settledRound(t *testing.T, env *testEnv) (*entities.Round, []*entities.Entry, *entities.Entry) {
	t.Helper()
	round := env.createRound(t, 3, 2000)
	entries := fillRound(t, env, round, 3)
	result, err := env.settlement.Settle(env.ctx, testAuthoritySecret, round.ID)
	require.NoError(t, err)
	return result.Round, entries, result.WinningEntry
}

func TestClaimService_ClaimPayout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 2})
	round, _, winner := settledRound(t, env)

	result, err := env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	require.NoError(t, err)
	assert.True(t, result.Entry.Claimed)
	assert.Equal(t, entities.ClaimStatusConfirmed, result.Claim.Status)
	assert.Equal(t, int64(2_400_000), result.Claim.Amount)
	assert.Equal(t, entities.IdempotencyKeyFor(entities.ClaimKindPayout, winner.ID), result.Claim.IdempotencyKey)
	require.NotNil(t, result.Claim.TxSignature)

	transfers := env.sink.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, winner.WalletAddress, transfers[0].Destination)
	assert.Equal(t, int64(2_400_000), transfers[0].Amount)

	paid := env.events.OfType(events.EventTypePayoutClaimed)
	require.Len(t, paid, 1)
	assert.Equal(t, round.ID, paid[0].(events.PayoutClaimedEvent).RoundID)

	_, err = env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrAlreadyClaimed)
	assert.Len(t, env.sink.Transfers(), 1)
}

func TestClaimService_ClaimPayoutRejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 0})
	_, entries, winner := settledRound(t, env)
	loser := entries[1]
	require.NotEqual(t, winner.ID, loser.ID)

	_, err := env.claims.ClaimPayout(env.ctx, 999, winner.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrEntryNotFound)

	_, err = env.claims.ClaimPayout(env.ctx, loser.ID, loser.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrNotWinner)

	_, err = env.claims.ClaimPayout(env.ctx, winner.ID, loser.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrWalletMismatch)

	_, err = env.claims.ClaimRefund(env.ctx, loser.ID, loser.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrRefundUnavailable)

	assert.Empty(t, env.sink.Transfers())
}

func TestClaimService_PayoutNeedsSettledRound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 3, 0)
	entries := fillRound(t, env, round, 2)

	_, err := env.claims.ClaimPayout(env.ctx, entries[0].ID, entries[0].WalletAddress)
	assert.ErrorIs(t, err, entities.ErrRoundNotSettled)

	_, err = env.rounds.AdminVoid(env.ctx, testAuthoritySecret, round.ID, "")
	require.NoError(t, err)
	_, err = env.claims.ClaimPayout(env.ctx, entries[0].ID, entries[0].WalletAddress)
	assert.ErrorIs(t, err, entities.ErrRoundNotSettled)
}

func TestClaimService_ConcurrentClaimsPayOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 1})
	_, _, winner := settledRound(t, env)
	env.sink.Delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, alreadyClaimed int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.claims.ClaimPayout(context.Background(), winner.ID, winner.WalletAddress)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, entities.ErrAlreadyClaimed):
				alreadyClaimed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, alreadyClaimed)
	assert.Len(t, env.sink.Transfers(), 1)
}

func TestClaimService_TransferFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 0})
	_, _, winner := settledRound(t, env)

	env.sink.SetFail(errors.New("rpc timeout"))
	_, err := env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrTransferFailed)
	assert.Equal(t, entities.KindTransient, entities.KindOf(err))

	entries, err := env.rounds.ListEntries(env.ctx, winner.RoundID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.Claimed)
	}

	env.sink.SetFail(nil)
	result, err := env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claim.Attempts)
	assert.Len(t, env.sink.Transfers(), 1)
}

func TestClaimService_UnknownOutcomeHoldsLease(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 0})
	_, _, winner := settledRound(t, env)

	// the transfer was sent but never confirmed within the sink's timeout
	env.sink.SetFail(fmt.Errorf("%w: transaction not confirmed yet", interfaces.ErrTransferOutcomeUnknown))
	_, err := env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrTransferFailed)
	assert.ErrorIs(t, err, interfaces.ErrTransferOutcomeUnknown)

	// an immediate retry must not start a second transfer
	_, err = env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrAlreadyClaimed)
	assert.Equal(t, 1, env.sink.Calls())

	resumed, err := env.claims.ResumeStaleClaims(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
	assert.Equal(t, 1, env.sink.Calls())

	// once the lease lapses the sweep re-drives it with the same key
	env.sink.SetFail(nil)
	env.clock.Advance(time.Minute)
	resumed, err = env.claims.ResumeStaleClaims(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, 2, env.sink.Calls())

	transfers := env.sink.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, entities.IdempotencyKeyFor(entities.ClaimKindPayout, winner.ID), transfers[0].IdempotencyKey)
}

func TestClaimService_DefiniteFailureIsNotResumed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 0})
	_, _, winner := settledRound(t, env)

	env.sink.SetFail(errors.New("treasury key not configured"))
	_, err := env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	require.ErrorIs(t, err, entities.ErrTransferFailed)
	assert.NotErrorIs(t, err, interfaces.ErrTransferOutcomeUnknown)

	env.sink.SetFail(nil)
	env.clock.Advance(5 * time.Minute)
	resumed, err := env.claims.ResumeStaleClaims(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
	assert.Equal(t, 1, env.sink.Calls())
	assert.Empty(t, env.sink.Transfers())

	result, err := env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	require.NoError(t, err)
	assert.True(t, result.Entry.Claimed)
	assert.Equal(t, 2, env.sink.Calls())
}

func TestClaimService_RefundsEveryEntryOfVoidRound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	round := env.createRound(t, 5, 0)

	stakes := []int{1, 2, 3}
	entries := make([]*entities.Entry, 0, len(stakes))
	for i, tickets := range stakes {
		wallet := newTestWallet(t)
		entry, err := env.rounds.AddEntry(env.ctx, round.ID, entryRequest(string(rune('a'+i)), wallet.Address, tickets))
		require.NoError(t, err)
		entries = append(entries, entry)
	}

	_, err := env.rounds.AdminVoid(env.ctx, testAuthoritySecret, round.ID, "cancelled")
	require.NoError(t, err)

	var refunded int64
	for _, entry := range entries {
		result, err := env.claims.ClaimRefund(env.ctx, entry.ID, entry.WalletAddress)
		require.NoError(t, err)
		assert.Equal(t, entry.Stake, result.Claim.Amount)
		refunded += result.Claim.Amount

		_, err = env.claims.ClaimRefund(env.ctx, entry.ID, entry.WalletAddress)
		assert.ErrorIs(t, err, entities.ErrAlreadyClaimed)
	}

	assert.Equal(t, env.round(t, round.ID).PotTotal, refunded)
	assert.Len(t, env.events.OfType(events.EventTypeRefundClaimed), 3)
}

func TestClaimService_ResumeStaleClaims(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testhelpers.FixedRandom{Value: 0})
	_, _, winner := settledRound(t, env)

	// a transfer that hangs past the caller's deadline leaves a leased PENDING claim
	env.sink.Delay = time.Second
	ctx, cancel := context.WithTimeout(env.ctx, 10*time.Millisecond)
	defer cancel()
	_, err := env.claims.ClaimPayout(ctx, winner.ID, winner.WalletAddress)
	require.Error(t, err)
	env.sink.Delay = 0

	resumed, err := env.claims.ResumeStaleClaims(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	env.clock.Advance(2 * time.Minute)
	resumed, err = env.claims.ResumeStaleClaims(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	_, err = env.claims.ClaimPayout(env.ctx, winner.ID, winner.WalletAddress)
	assert.ErrorIs(t, err, entities.ErrAlreadyClaimed)
	assert.Len(t, env.sink.Transfers(), 1)

	resumed, err = env.claims.ResumeStaleClaims(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
}
