package services

import (
	"testing"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/events"
	"wealthwars/domain/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletLinkService_LinksVerifiedWallet(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := newTestWallet(t)

	challenge, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_42", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, entities.ChallengeMessage(challenge.Code, "tg_42"), challenge.Message)
	assert.Len(t, challenge.Code, entities.ChallengeCodeLength)

	address, err := env.links.FinishLink(env.ctx, "tg_42", wallet.Address, wallet.Sign(challenge.Message))
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, address)

	identity, err := env.identities.Get(env.ctx, "tg_42")
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, identity.Wallet())
	assert.Equal(t, "alice", identity.Username)

	linked := env.events.OfType(events.EventTypeWalletLinked)
	require.Len(t, linked, 1)
	assert.Equal(t, events.WalletLinkedEvent{IdentityID: "tg_42", WalletAddress: wallet.Address}, linked[0])

	// the challenge is single use
	_, err = env.links.FinishLink(env.ctx, "tg_42", wallet.Address, wallet.Sign(challenge.Message))
	assert.ErrorIs(t, err, entities.ErrNoPendingChallenge)
}

func TestWalletLinkService_ExpiredChallengeIsDiscarded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := newTestWallet(t)

	challenge, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1"})
	require.NoError(t, err)

	env.clock.Advance(11 * time.Minute)

	_, err = env.links.FinishLink(env.ctx, "tg_1", wallet.Address, wallet.Sign(challenge.Message))
	assert.ErrorIs(t, err, entities.ErrChallengeExpired)

	_, err = env.links.FinishLink(env.ctx, "tg_1", wallet.Address, wallet.Sign(challenge.Message))
	assert.ErrorIs(t, err, entities.ErrNoPendingChallenge)
}

func TestWalletLinkService_ChallengeValidAtWindowEdge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := newTestWallet(t)

	challenge, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1"})
	require.NoError(t, err)

	env.clock.Advance(DefaultChallengeWindow)
	_, err = env.links.FinishLink(env.ctx, "tg_1", wallet.Address, wallet.Sign(challenge.Message))
	assert.NoError(t, err)
}

func TestWalletLinkService_RejectsBadSignatures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sign    func(w, other testWallet, message string) []byte
		wantErr error
	}{
		{
			name:    "different message",
			sign:    func(w, _ testWallet, _ string) []byte { return w.Sign("Link Wealth Wars wallet XXXXXX for tg_7") },
			wantErr: entities.ErrSignatureInvalid,
		},
		{
			name:    "different key",
			sign:    func(_, other testWallet, message string) []byte { return other.Sign(message) },
			wantErr: entities.ErrSignatureInvalid,
		},
		{
			name:    "truncated signature",
			sign:    func(w, _ testWallet, message string) []byte { return w.Sign(message)[:32] },
			wantErr: entities.ErrSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			wallet, other := newTestWallet(t), newTestWallet(t)

			challenge, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_7"})
			require.NoError(t, err)

			_, err = env.links.FinishLink(env.ctx, "tg_7", wallet.Address, tt.sign(wallet, other, challenge.Message))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, entities.KindAuth, entities.KindOf(err))

			// a failed attempt leaves the challenge in place
			_, err = env.links.FinishLink(env.ctx, "tg_7", wallet.Address, wallet.Sign(challenge.Message))
			assert.NoError(t, err)
		})
	}
}

func TestWalletLinkService_InvalidAddress(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	_, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1", ClaimedAddress: "not-a-wallet"})
	assert.ErrorIs(t, err, entities.ErrInvalidAddress)

	_, err = env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1"})
	require.NoError(t, err)
	_, err = env.links.FinishLink(env.ctx, "tg_1", "0OIl", make([]byte, 64))
	assert.ErrorIs(t, err, entities.ErrInvalidAddress)
}

func TestWalletLinkService_ClaimedAddressMustMatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	claimed, other := newTestWallet(t), newTestWallet(t)

	challenge, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1", ClaimedAddress: claimed.Address})
	require.NoError(t, err)

	_, err = env.links.FinishLink(env.ctx, "tg_1", other.Address, other.Sign(challenge.Message))
	assert.ErrorIs(t, err, entities.ErrInvalidAddress)

	_, err = env.links.FinishLink(env.ctx, "tg_1", claimed.Address, claimed.Sign(challenge.Message))
	assert.NoError(t, err)
}

func TestWalletLinkService_RestartInvalidatesPreviousMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := newTestWallet(t)

	first, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_9"})
	require.NoError(t, err)
	second, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_9"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Message, second.Message)

	_, err = env.links.FinishLink(env.ctx, "tg_9", wallet.Address, wallet.Sign(first.Message))
	assert.ErrorIs(t, err, entities.ErrSignatureInvalid)

	_, err = env.links.FinishLink(env.ctx, "tg_9", wallet.Address, wallet.Sign(second.Message))
	assert.NoError(t, err)
}

func TestWalletLinkService_WalletBelongsToOneIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	wallet := newTestWallet(t)

	challenge1, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1"})
	require.NoError(t, err)
	_, err = env.links.FinishLink(env.ctx, "tg_1", wallet.Address, wallet.Sign(challenge1.Message))
	require.NoError(t, err)

	challenge2, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_2"})
	require.NoError(t, err)
	_, err = env.links.FinishLink(env.ctx, "tg_2", wallet.Address, wallet.Sign(challenge2.Message))
	assert.ErrorIs(t, err, entities.ErrWalletAlreadyLinked)

	// relinking the same wallet to its owner is fine
	challenge3, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_1"})
	require.NoError(t, err)
	_, err = env.links.FinishLink(env.ctx, "tg_1", wallet.Address, wallet.Sign(challenge3.Message))
	assert.NoError(t, err)
}

func TestWalletLinkService_SweepExpired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	_, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_old"})
	require.NoError(t, err)
	env.clock.Advance(20 * time.Minute)
	_, err = env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "tg_new"})
	require.NoError(t, err)

	removed, err := env.links.SweepExpired(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	wallet := newTestWallet(t)
	_, err = env.links.FinishLink(env.ctx, "tg_old", wallet.Address, wallet.Sign("anything"))
	assert.ErrorIs(t, err, entities.ErrNoPendingChallenge)
}

func TestWalletLinkService_RequiresIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	_, err := env.links.StartLink(env.ctx, interfaces.StartLinkRequest{IdentityID: "  "})
	assert.ErrorIs(t, err, entities.ErrIdentityRequired)
}
