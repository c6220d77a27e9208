package solpay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/margo-sol/backend/internal/errs"
	"go.uber.org/zap"
)

// ErrTxNotFound means the network has no confirmed transaction for a
// signature yet. It is not final: the transaction may still land.
var ErrTxNotFound = errors.New("transaction not found")

// Blockhash is a recent blockhash together with the last block height
// at which a transaction referencing it can be accepted.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// TxRecord is a confirmed transaction and its balance effects.
// PreBalances and PostBalances are indexed like Transaction.Message.AccountKeys.
type TxRecord struct {
	Signature    solana.Signature
	Slot         uint64
	BlockTime    *time.Time
	Transaction  *solana.Transaction
	PreBalances  []uint64
	PostBalances []uint64
	Failed       bool
}

// Network is the subset of the Solana RPC API the payment flow needs.
type Network interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	// Transaction returns ErrTxNotFound until sig is confirmed.
	Transaction(ctx context.Context, sig solana.Signature) (*TxRecord, error)
	SignatureSeen(ctx context.Context, sig solana.Signature) (bool, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// RPCNetwork talks to a Solana JSON-RPC endpoint. Transient failures are
// retried with exponential backoff, then reported as errs.ErrUpstreamUnavailable.
// A confirmed transaction that cannot be decoded is errs.ErrPaymentMismatch.
type RPCNetwork struct {
	client   *rpc.Client
	log      *zap.Logger
	maxRetry time.Duration
}

func NewRPCNetwork(endpoint string, log *zap.Logger) *RPCNetwork {
	return &RPCNetwork{
		client:   rpc.New(endpoint),
		log:      log,
		maxRetry: 5 * time.Second,
	}
}

func (n *RPCNetwork) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out Blockhash
	err := n.withRetry(ctx, "getLatestBlockhash", func() error {
		res, err := n.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return errors.New("empty blockhash response")
		}
		out = Blockhash{Hash: res.Value.Blockhash, LastValidBlockHeight: res.Value.LastValidBlockHeight}
		return nil
	})
	return out, err
}

func (n *RPCNetwork) Transaction(ctx context.Context, sig solana.Signature) (*TxRecord, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var out *TxRecord
	err := n.withRetry(ctx, "getTransaction", func() error {
		res, err := n.client.GetTransaction(ctx, sig, opts)
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && res == nil) {
			return backoff.Permanent(ErrTxNotFound)
		}
		if err != nil {
			return err
		}
		if res.Transaction == nil || res.Meta == nil {
			return backoff.Permanent(ErrTxNotFound)
		}

		tx, err := res.Transaction.GetTransaction()
		if err != nil {
			// the same bytes come back on every call
			return backoff.Permanent(fmt.Errorf("%w: decode transaction %s: %v", errs.ErrPaymentMismatch, sig, err))
		}

		rec := &TxRecord{
			Signature:    sig,
			Slot:         res.Slot,
			Transaction:  tx,
			PreBalances:  res.Meta.PreBalances,
			PostBalances: res.Meta.PostBalances,
			Failed:       res.Meta.Err != nil,
		}
		if res.BlockTime != nil {
			t := res.BlockTime.Time()
			rec.BlockTime = &t
		}
		out = rec
		return nil
	})
	return out, err
}

func (n *RPCNetwork) SignatureSeen(ctx context.Context, sig solana.Signature) (bool, error) {
	var seen bool
	err := n.withRetry(ctx, "getSignatureStatuses", func() error {
		res, err := n.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		seen = res != nil && len(res.Value) > 0 && res.Value[0] != nil
		return nil
	})
	return seen, err
}

func (n *RPCNetwork) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := n.withRetry(ctx, "getBalance", func() error {
		res, err := n.client.GetBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		lamports = res.Value
		return nil
	})
	return lamports, err
}

// SendTransaction is not retried: a resend of a signed transaction is
// harmless but the caller decides whether to do it.
func (n *RPCNetwork) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := n.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: sendTransaction: %v", errs.ErrUpstreamUnavailable, err)
	}
	return sig, nil
}

func (n *RPCNetwork) withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = n.maxRetry

	notify := func(err error, wait time.Duration) {
		n.log.Warn("solana rpc call failed, retrying",
			zap.String("op", op),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(fn, backoff.WithContext(b, ctx), notify)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTxNotFound), errors.Is(err, errs.ErrPaymentMismatch):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s: %v", errs.ErrUpstreamUnavailable, op, err)
	}
}
