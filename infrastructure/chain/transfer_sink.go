package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wealthwars/domain/interfaces"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// MemoProgramID is the SPL memo program v2
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

var (
	errNotConfirmed     = errors.New("transaction not confirmed yet")
	errBlockhashExpired = errors.New("blockhash expired before the transaction landed")
	errFailedOnChain    = errors.New("transaction failed on chain")
)

var _ interfaces.TransferSink = (*TransferSink)(nil)

// TransferSinkConfig tunes the treasury sink
type TransferSinkConfig struct {
	// ConfirmTimeout bounds how long a sent transaction is polled for confirmation
	ConfirmTimeout time.Duration
	// Lookback is how many recent treasury signatures are scanned for a matching memo
	Lookback int
	// PollInterval is the first confirmation poll delay
	PollInterval time.Duration
}

// TransferSink pays lamports out of the treasury. Every transfer carries its
// idempotency key as a memo, and recent treasury history is searched for that
// memo before sending, so a retried key returns the earlier signature.
type TransferSink struct {
	rpc      RPC
	treasury solana.PrivateKey
	cfg      TransferSinkConfig
}

// NewTransferSink creates a sink signing with the base58 treasury key
func NewTransferSink(client RPC, treasuryKey string, cfg TransferSinkConfig) (*TransferSink, error) {
	key, err := solana.PrivateKeyFromBase58(treasuryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse treasury key: %w", err)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &TransferSink{rpc: client, treasury: key, cfg: cfg}, nil
}

// Treasury returns the treasury address
func (s *TransferSink) Treasury() solana.PublicKey {
	return s.treasury.PublicKey()
}

func (s *TransferSink) Transfer(ctx context.Context, req interfaces.TransferRequest) (*interfaces.TransferReceipt, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", req.Amount)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("transfer requires an idempotency key")
	}
	destination, err := solana.PublicKeyFromBase58(req.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination: %w", err)
	}

	logger := log.WithFields(log.Fields{
		"destination": req.Destination,
		"amount":      req.Amount,
		"key":         req.IdempotencyKey,
	})

	earlier, err := s.findByMemo(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if earlier != nil {
		logger.WithField("signature", earlier.String()).Info("Transfer already on chain, reusing signature")
		return &interfaces.TransferReceipt{TransactionID: earlier.String(), Reused: true}, nil
	}

	tx, lastValid, err := s.buildTransaction(ctx, destination, uint64(req.Amount), req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	// nothing is retried from here on; the node may already hold the transaction
	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send transfer: %w", interfaces.ErrTransferOutcomeUnknown, err)
	}
	logger.WithFields(log.Fields{
		"signature":               sig.String(),
		"last_valid_block_height": lastValid,
	}).Info("Transfer sent")

	if err := s.awaitConfirmation(ctx, sig, lastValid); err != nil {
		return nil, err
	}
	return &interfaces.TransferReceipt{TransactionID: sig.String()}, nil
}

// buildTransaction signs the transfer and returns the last block height its blockhash is valid for
func (s *TransferSink) buildTransaction(ctx context.Context, destination solana.PublicKey, lamports uint64, key string) (*solana.Transaction, uint64, error) {
	recent, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return nil, 0, fmt.Errorf("failed to get latest blockhash: empty response")
	}

	payer := s.treasury.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer, destination).Build(),
			memoInstruction(key, payer),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(signer solana.PublicKey) *solana.PrivateKey {
		if signer.Equals(payer) {
			return &s.treasury
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, recent.Value.LastValidBlockHeight, nil
}

func memoInstruction(memo string, signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(memo),
	)
}

// findByMemo returns the signature of a successful recent treasury transaction carrying key
func (s *TransferSink) findByMemo(ctx context.Context, key string) (*solana.Signature, error) {
	limit := s.cfg.Lookback
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	sigs, err := backoff.RetryWithData(func() ([]*rpc.TransactionSignature, error) {
		return s.rpc.GetSignaturesForAddressWithOpts(ctx, s.treasury.PublicKey(), &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to scan treasury signatures: %w", err)
	}

	for _, sig := range sigs {
		if sig == nil || sig.Err != nil || sig.Memo == nil {
			continue
		}
		if memoMatches(*sig.Memo, key) {
			found := sig.Signature
			return &found, nil
		}
	}
	return nil, nil
}

// memoMatches checks an RPC memo field such as "[11] hello world; [3] abc" for an exact memo
func memoMatches(field, key string) bool {
	for _, part := range strings.Split(field, "; ") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "[") {
			if _, rest, ok := strings.Cut(part, "] "); ok {
				part = rest
			}
		}
		if part == key {
			return true
		}
	}
	return false
}

// awaitConfirmation polls the signature until it is confirmed, fails on chain,
// or its blockhash expires. Anything else after ConfirmTimeout leaves the
// outcome unknown.
func (s *TransferSink) awaitConfirmation(ctx context.Context, sig solana.Signature, lastValid uint64) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.PollInterval
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = s.cfg.ConfirmTimeout

	err := backoff.Retry(func() error {
		out, err := s.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return s.checkExpired(ctx, lastValid)
		}
		status := out.Value[0]
		if status.Err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", errFailedOnChain, status.Err))
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
		return errNotConfirmed
	}, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}

	if errors.Is(err, errFailedOnChain) || errors.Is(err, errBlockhashExpired) {
		return fmt.Errorf("failed to confirm transfer %s: %w", sig, err)
	}
	return fmt.Errorf("%w: failed to confirm transfer %s: %w", interfaces.ErrTransferOutcomeUnknown, sig, err)
}

// checkExpired reports whether an unseen transaction can no longer land
func (s *TransferSink) checkExpired(ctx context.Context, lastValid uint64) error {
	height, err := s.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return errNotConfirmed
	}
	if height > lastValid {
		return backoff.Permanent(errBlockhashExpired)
	}
	return errNotConfirmed
}
