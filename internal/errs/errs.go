// Package errs contains sentinel errors shared by the auth, payment and
// storage layers. Handlers map them to HTTP statuses with errors.Is.
package errs

import "errors"

// Wallet and signature verification.
var (
	// ErrInvalidAddress indicates a string that does not decode to a 32-byte public key.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrBadSignature indicates a signature that does not verify against the claimed signer.
	ErrBadSignature = errors.New("bad signature")

	// ErrStaleChallenge indicates a login message whose timestamp is outside the accepted window.
	ErrStaleChallenge = errors.New("login challenge expired")

	// ErrChallengeReused indicates a login message that was already consumed.
	ErrChallengeReused = errors.New("login challenge already used")
)

// Session tokens.
var (
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenExpired   = errors.New("token expired")
)

// Payments.
var (
	// ErrInvalidAmount indicates a price that cannot be expressed as a positive whole number of lamports.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPaymentMismatch indicates an on-chain transfer to the wrong recipient or of the wrong amount.
	// It is final for the reported signature.
	ErrPaymentMismatch = errors.New("payment mismatch")

	// ErrConfirmationTimeout indicates the transaction was not confirmed within the wait budget.
	// Callers may retry with the same signature.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrSignatureReused indicates a transaction signature already bound to another purchase.
	ErrSignatureReused = errors.New("transaction signature already used for another purchase")
)

// Infrastructure. Both are retryable.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// Records.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrWalletTaken   = errors.New("wallet already linked to another account")
	ErrUnauthorized  = errors.New("unauthorized")
)
