package chain

import (
	"context"
	"fmt"

	"wealthwars/domain/interfaces"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

var _ interfaces.BalanceSource = (*BalanceSource)(nil)

// BalanceSource reads wallet holdings. With a mint it sums the wallet's token
// accounts for that mint, otherwise it returns the native lamport balance.
type BalanceSource struct {
	rpc  RPC
	mint *solana.PublicKey
}

// NewBalanceSource creates a balance source. An empty mint selects native lamports.
func NewBalanceSource(client RPC, mint string) (*BalanceSource, error) {
	source := &BalanceSource{rpc: client}
	if mint != "" {
		key, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return nil, fmt.Errorf("failed to parse token mint: %w", err)
		}
		source.mint = &key
	}
	return source, nil
}

func (s *BalanceSource) QueryBalance(ctx context.Context, address string) (uint64, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("failed to parse wallet address: %w", err)
	}

	if s.mint == nil {
		out, err := s.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, fmt.Errorf("failed to get balance: %w", err)
		}
		return out.Value, nil
	}

	out, err := s.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: s.mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: rpc.CommitmentConfirmed},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to get token accounts: %w", err)
	}

	var total uint64
	for _, account := range out.Value {
		if account == nil || account.Account.Data == nil {
			continue
		}
		amount, err := decodeTokenAmount(account.Account.Data.GetBinary())
		if err != nil {
			return 0, fmt.Errorf("failed to decode token account %s: %w", account.Pubkey, err)
		}
		total += amount
	}
	return total, nil
}

// decodeTokenAmount reads the amount field of an SPL token account
func decodeTokenAmount(data []byte) (uint64, error) {
	var account token.Account
	if err := bin.NewBinDecoder(data).Decode(&account); err != nil {
		return 0, err
	}
	return account.Amount, nil
}
