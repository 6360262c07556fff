package services

import (
	"context"
	"testing"
	"time"

	"wealthwars/domain/entities"
	"wealthwars/domain/interfaces"
	"wealthwars/domain/testhelpers"
	"wealthwars/infrastructure"
	"wealthwars/repository/memstore"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

const (
	testAuthorityName   = "house"
	testAuthoritySecret = "s3cret"
	testTicketPrice     = int64(1_000_000)
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv wires the services onto an in-memory store
type testEnv struct {
	ctx        context.Context
	clock      *testhelpers.FakeClock
	events     *testhelpers.RecordingPublisher
	sink       *testhelpers.FakeTransferSink
	uowFactory interfaces.UnitOfWorkFactory
	authority  Authority

	links      interfaces.WalletLinkService
	identities interfaces.IdentityService
	rounds     interfaces.RoundService
	settlement interfaces.SettlementService
	claims     interfaces.ClaimService
}

func newTestEnv(t *testing.T, rng interfaces.RandomSource) *testEnv {
	t.Helper()
	env := &testEnv{
		ctx:       context.Background(),
		clock:     testhelpers.NewFakeClock(testStart),
		events:    &testhelpers.RecordingPublisher{},
		sink:      testhelpers.NewFakeTransferSink(),
		authority: NewAuthority(testAuthorityName, testAuthoritySecret),
	}
	env.uowFactory = infrastructure.NewUnitOfWorkFactory(memstore.New().UnitOfWorkFactory(), env.events)
	env.links = NewWalletLinkService(env.uowFactory, env.clock, DefaultChallengeWindow, nil)
	env.identities = NewIdentityService(env.uowFactory, env.clock)
	env.rounds = NewRoundService(env.uowFactory, nil, env.authority, env.clock, RoundConfig{}, nil)
	env.settlement = NewSettlementService(env.uowFactory, env.authority, env.clock, rng, nil)
	env.claims = NewClaimService(env.uowFactory, env.sink, nil, env.clock, time.Minute, nil)
	return env
}

// testWallet is an ed25519 keypair with its base58 address
type testWallet struct {
	Address string
	Private solana.PrivateKey
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	priv, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return testWallet{Address: priv.PublicKey().String(), Private: priv}
}

func (w testWallet) Sign(message string) []byte {
	sig, err := w.Private.Sign([]byte(message))
	if err != nil {
		panic(err)
	}
	return sig[:]
}

// linkedPlayer creates an identity with a verified wallet
func (e *testEnv) linkedPlayer(t *testing.T, id string) testWallet {
	t.Helper()
	wallet := newTestWallet(t)
	challenge, err := e.links.StartLink(e.ctx, interfaces.StartLinkRequest{IdentityID: id, Username: id})
	require.NoError(t, err)
	_, err = e.links.FinishLink(e.ctx, id, wallet.Address, wallet.Sign(challenge.Message))
	require.NoError(t, err)
	return wallet
}

func (e *testEnv) createRound(t *testing.T, maxEntries int, feeBps int) *entities.Round {
	t.Helper()
	round, err := e.rounds.CreateRound(e.ctx, testAuthoritySecret, interfaces.CreateRoundParams{
		TicketPrice: testTicketPrice,
		MaxEntries:  maxEntries,
		Duration:    time.Hour,
		FeeBps:      feeBps,
	})
	require.NoError(t, err)
	return round
}

func (e *testEnv) round(t *testing.T, id int64) *entities.Round {
	t.Helper()
	round, err := e.rounds.GetRound(e.ctx, id)
	require.NoError(t, err)
	return round
}

// entryRequest builds a request for a player who may not hold a linked wallet
func entryRequest(identityID, wallet string, tickets int) entities.EntryRequest {
	return entities.EntryRequest{
		IdentityID:    identityID,
		WalletAddress: wallet,
		Stake:         testTicketPrice * int64(tickets),
		Tickets:       tickets,
	}
}
