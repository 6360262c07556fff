package entities

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers know whether retrying can help
type ErrorKind string

const (
	// KindValidation is a caller-fixable input problem. Never retried.
	KindValidation ErrorKind = "validation"
	// KindStateConflict means the current state forbids the operation. Re-fetch before retrying.
	KindStateConflict ErrorKind = "state_conflict"
	// KindAuth is a missing credential or a signature/wallet mismatch.
	KindAuth ErrorKind = "auth"
	// KindTransient is an external timeout or outage. Safe to retry with the same idempotency key.
	KindTransient ErrorKind = "transient"
	// KindNotFound is an unknown round, entry, identity or challenge.
	KindNotFound ErrorKind = "not_found"
)

// Error is a domain failure with a stable code
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wallet linking
var (
	ErrNoPendingChallenge  = newError(KindNotFound, "no_pending_challenge", "no pending link challenge")
	ErrChallengeExpired    = newError(KindStateConflict, "challenge_expired", "link challenge expired")
	ErrInvalidAddress      = newError(KindValidation, "invalid_address", "invalid wallet address")
	ErrInvalidSignature    = newError(KindValidation, "invalid_signature_encoding", "signature is not valid base64 or base58")
	ErrSignatureInvalid    = newError(KindAuth, "signature_invalid", "signature verification failed")
	ErrWalletAlreadyLinked = newError(KindStateConflict, "wallet_already_linked", "wallet is linked to another identity")
	ErrIdentityRequired    = newError(KindValidation, "identity_required", "identity id is required")
)

// Identities and balances
var (
	ErrIdentityNotFound    = newError(KindNotFound, "identity_not_found", "identity not found")
	ErrWalletNotLinked     = newError(KindStateConflict, "wallet_not_linked", "identity has no linked wallet")
	ErrInsufficientBalance = newError(KindValidation, "insufficient_balance", "wallet balance does not cover the stake")
	ErrBalanceUnavailable  = newError(KindTransient, "balance_unavailable", "wallet balance lookup failed")
)

// Round lifecycle and entries
var (
	ErrAuthorityRequired     = newError(KindAuth, "authority_required", "authority credential required")
	ErrInvalidTicketPrice    = newError(KindValidation, "invalid_ticket_price", "ticket price must be positive")
	ErrInvalidMaxEntries     = newError(KindValidation, "invalid_max_entries", "max entries must be positive")
	ErrInvalidDuration       = newError(KindValidation, "invalid_duration", "round duration must be positive")
	ErrInvalidFee            = newError(KindValidation, "invalid_fee", "fee basis points must be in [0, 10000)")
	ErrInvalidCloseReason    = newError(KindValidation, "invalid_close_reason", "unknown close reason")
	ErrRoundAlreadyOpen      = newError(KindStateConflict, "round_already_open", "authority already has an open round")
	ErrRoundNotFound         = newError(KindNotFound, "round_not_found", "round not found")
	ErrRoundNotOpen          = newError(KindStateConflict, "round_not_open", "round is not open")
	ErrRoundStillRunning     = newError(KindStateConflict, "round_still_running", "round deadline has not passed")
	ErrRoundNotFull          = newError(KindStateConflict, "round_not_full", "round has free slots")
	ErrDuplicateEntry        = newError(KindStateConflict, "duplicate_entry", "identity already entered this round")
	ErrRoundFull             = newError(KindStateConflict, "round_full", "round is full")
	ErrInvalidTicketCount    = newError(KindValidation, "invalid_ticket_count", "ticket count must be at least 1")
	ErrStakeBelowTicketPrice = newError(KindValidation, "stake_below_ticket_price", "stake is below the ticket price")
	ErrStakeMismatch         = newError(KindValidation, "stake_mismatch", "stake does not equal ticket price times tickets")
)

// Settlement and claims
var (
	ErrRoundNotClosed    = newError(KindStateConflict, "round_not_closed", "round is not closed")
	ErrNoEntries         = newError(KindStateConflict, "no_entries", "round has no entries")
	ErrAlreadySettled    = newError(KindStateConflict, "already_settled", "round already settled")
	ErrRoundNotSettled   = newError(KindStateConflict, "round_not_settled", "round is not settled")
	ErrEntryNotFound     = newError(KindNotFound, "entry_not_found", "entry not found")
	ErrNotWinner         = newError(KindStateConflict, "not_winner", "entry is not the winning entry")
	ErrAlreadyClaimed    = newError(KindStateConflict, "already_claimed", "entry already claimed")
	ErrWalletMismatch    = newError(KindAuth, "wallet_mismatch", "caller wallet does not match the entry wallet")
	ErrRefundUnavailable = newError(KindStateConflict, "refund_unavailable", "refunds are only available for void rounds")
	ErrTransferFailed    = newError(KindTransient, "transfer_failed", "settlement transfer failed")
	ErrStoreUnavailable  = newError(KindTransient, "store_unavailable", "persistent store unavailable")
)

// KindOf returns the kind of the first domain error in err's chain.
// Unclassified errors are reported as transient.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// CodeOf returns the stable code of the first domain error in err's chain
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}

// Transient marks an infrastructure failure as a transient store error
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrStoreUnavailable, op, err)
}
