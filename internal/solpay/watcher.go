package solpay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/margo-sol/backend/internal/errs"
	"go.uber.org/zap"
)

// Confirmation is a validated payment as observed on chain.
type Confirmation struct {
	Signature solana.Signature
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Lamports  uint64
	Slot      uint64
	BlockTime *time.Time
}

// Watcher polls the network until a reported transaction is confirmed and
// then checks it pays the expected lamports to the expected recipient.
type Watcher struct {
	network  Network
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewWatcher(network Network, interval, timeout time.Duration, log *zap.Logger) *Watcher {
	return &Watcher{network: network, interval: interval, timeout: timeout, log: log}
}

// Await blocks until sig is confirmed (or the watcher timeout elapses) and
// validates it. The error is errs.ErrPaymentMismatch when the transaction is
// wrong, errs.ErrConfirmationTimeout when it never showed up, or
// errs.ErrUpstreamUnavailable when the network could not be queried.
func (w *Watcher) Await(ctx context.Context, sig solana.Signature, seller solana.PublicKey, expected uint64) (*Confirmation, error) {
	var rec *TxRecord
	err := w.poll(ctx, func(ctx context.Context) (bool, error) {
		r, err := w.network.Transaction(ctx, sig)
		if errors.Is(err, ErrTxNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		rec = r
		return true, nil
	})
	if err != nil {
		w.log.Info("payment not confirmed", zap.String("signature", sig.String()), zap.Error(err))
		return nil, err
	}

	return Validate(rec, seller, expected)
}

// Check does a single lookup instead of waiting. It returns ErrTxNotFound
// when sig is not confirmed yet.
func (w *Watcher) Check(ctx context.Context, sig solana.Signature, seller solana.PublicKey, expected uint64) (*Confirmation, error) {
	rec, err := w.network.Transaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	return Validate(rec, seller, expected)
}

// WaitUntilSeen blocks until the network reports any status for sig. Used by
// the buyer after submitting, before reporting the signature to the server.
func (w *Watcher) WaitUntilSeen(ctx context.Context, sig solana.Signature) error {
	return w.poll(ctx, func(ctx context.Context) (bool, error) {
		return w.network.SignatureSeen(ctx, sig)
	})
}

func (w *Watcher) poll(ctx context.Context, check func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", errs.ErrConfirmationTimeout, w.timeout)
			}
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", errs.ErrConfirmationTimeout, w.timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Validate checks a confirmed transaction pays exactly expected lamports to
// seller. The realized amount is the seller's balance delta, not the
// instruction's declared amount.
func Validate(rec *TxRecord, seller solana.PublicKey, expected uint64) (*Confirmation, error) {
	if rec == nil || rec.Transaction == nil {
		return nil, fmt.Errorf("%w: empty transaction", errs.ErrPaymentMismatch)
	}
	if rec.Failed {
		return nil, fmt.Errorf("%w: transaction failed on chain", errs.ErrPaymentMismatch)
	}

	transfers, err := FindTransfers(rec.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPaymentMismatch, err)
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("%w: no SOL transfer in transaction", errs.ErrPaymentMismatch)
	}

	var transfer *Transfer
	for i := range transfers {
		if transfers[i].To.Equals(seller) {
			transfer = &transfers[i]
			break
		}
	}
	if transfer == nil {
		return nil, fmt.Errorf("%w: recipient %s is not the seller", errs.ErrPaymentMismatch, transfers[0].To)
	}

	idx := -1
	for i, k := range rec.Transaction.Message.AccountKeys {
		if k.Equals(seller) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(rec.PreBalances) || idx >= len(rec.PostBalances) {
		return nil, fmt.Errorf("%w: seller balance not reported", errs.ErrPaymentMismatch)
	}

	pre, post := rec.PreBalances[idx], rec.PostBalances[idx]
	if post < pre {
		return nil, fmt.Errorf("%w: seller balance decreased", errs.ErrPaymentMismatch)
	}
	if realized := post - pre; realized != expected {
		return nil, fmt.Errorf("%w: received %d lamports, expected %d", errs.ErrPaymentMismatch, realized, expected)
	}

	return &Confirmation{
		Signature: rec.Signature,
		Sender:    transfer.From,
		Recipient: seller,
		Lamports:  expected,
		Slot:      rec.Slot,
		BlockTime: rec.BlockTime,
	}, nil
}
