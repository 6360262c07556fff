package utils

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"wealthwars/domain/entities"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var base58AddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ParseWalletAddress decodes a base58 Solana address and checks that it is a
// point on the ed25519 curve, so it can verify signatures.
func ParseWalletAddress(address string) (solana.PublicKey, error) {
	address = strings.TrimSpace(address)
	if !base58AddressPattern.MatchString(address) {
		return solana.PublicKey{}, fmt.Errorf("%w: %q is not base58", entities.ErrInvalidAddress, address)
	}

	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", entities.ErrInvalidAddress, err)
	}

	if _, err := new(edwards25519.Point).SetBytes(pubkey[:]); err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s is not on the ed25519 curve", entities.ErrInvalidAddress, address)
	}

	return pubkey, nil
}

// IsValidWalletAddress reports whether ParseWalletAddress accepts the address
func IsValidWalletAddress(address string) bool {
	_, err := ParseWalletAddress(address)
	return err == nil
}

// DecodeSignature accepts a detached signature as base64 (browser wallets) or base58 (CLI wallets)
func DecodeSignature(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if sig, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(sig) == solana.SignatureLength {
		return sig, nil
	}
	if sig, err := base58.Decode(encoded); err == nil && len(sig) == solana.SignatureLength {
		return sig, nil
	}
	return nil, entities.ErrInvalidSignature
}

// VerifyMessageSignature checks a detached ed25519 signature over the exact UTF-8 bytes of message
func VerifyMessageSignature(pubkey solana.PublicKey, message string, signature []byte) bool {
	if len(signature) != solana.SignatureLength {
		return false
	}
	var sig solana.Signature
	copy(sig[:], signature)
	return sig.Verify(pubkey, []byte(message))
}
