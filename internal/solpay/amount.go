package solpay

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/margo-sol/backend/internal/errs"
	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

var (
	lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)
	maxLamports    = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)
)

// SOLToLamports converts a SOL amount to lamports with exact decimal arithmetic.
// Amounts with sub-lamport precision are rejected instead of rounded, so the
// lamports the buyer signs for always equal the lamports confirmation expects.
func SOLToLamports(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s SOL is not positive", errs.ErrInvalidAmount, amount.String())
	}

	lamports := amount.Mul(lamportsPerSOL)
	if !lamports.IsInteger() {
		return 0, fmt.Errorf("%w: %s SOL has more than 9 decimal places", errs.ErrInvalidAmount, amount.String())
	}
	if lamports.GreaterThan(maxLamports) {
		return 0, fmt.Errorf("%w: %s SOL overflows lamports", errs.ErrInvalidAmount, amount.String())
	}

	return lamports.BigInt().Uint64(), nil
}

// ParseSOL parses a decimal SOL string (e.g. "0.5") into lamports.
func ParseSOL(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidAmount, s)
	}
	return SOLToLamports(d)
}

// LamportsToSOL is the inverse of SOLToLamports.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}
