package solpay

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/margo-sol/backend/internal/errs"
)

// ParsePublicKey decodes a base58 wallet address into a 32-byte public key.
func ParsePublicKey(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", errs.ErrInvalidAddress, err)
	}
	return pk, nil
}

// ParseSignature decodes a base58 transaction signature (transaction id).
func ParseSignature(s string) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: transaction signature: %v", errs.ErrBadSignature, err)
	}
	return sig, nil
}

// VerifySignature reports whether signature is a valid Ed25519 detached
// signature of message by the key behind walletAddress.
//
// The only error is errs.ErrInvalidAddress; a signature of the wrong length
// simply does not verify.
func VerifySignature(walletAddress string, message, signature []byte) (bool, error) {
	pk, err := ParsePublicKey(walletAddress)
	if err != nil {
		return false, err
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pk[:], message, signature), nil
}
