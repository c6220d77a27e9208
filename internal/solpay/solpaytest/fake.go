// Package solpaytest provides an in-memory Solana network for tests.
package solpaytest

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/margo-sol/backend/internal/solpay"
)

// DefaultBalance is the starting balance of any account the fake has not seen.
const DefaultBalance = 10 * solpay.LamportsPerSOL

// Fee is charged to the fee payer of every settled transaction.
const Fee = 5000

// Network implements solpay.Network. Sent transactions settle immediately
// unless Hold is set.
type Network struct {
	mu sync.Mutex

	Blockhash solpay.Blockhash
	Balances  map[solana.PublicKey]uint64
	Txs       map[solana.Signature]*solpay.TxRecord
	Sent      []*solana.Transaction

	// Err, when set, is returned by every call.
	Err error
	// Hold keeps sent transactions unconfirmed.
	Hold bool
	// NotFoundPolls makes Transaction report not found this many times first.
	NotFoundPolls int

	TransactionCalls int
}

func NewNetwork() *Network {
	return &Network{
		Blockhash: solpay.Blockhash{Hash: solana.Hash{1, 2, 3, 4}, LastValidBlockHeight: 1000},
		Balances:  map[solana.PublicKey]uint64{},
		Txs:       map[solana.Signature]*solpay.TxRecord{},
	}
}

func (n *Network) LatestBlockhash(ctx context.Context) (solpay.Blockhash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return solpay.Blockhash{}, n.Err
	}
	return n.Blockhash, nil
}

func (n *Network) Transaction(ctx context.Context, sig solana.Signature) (*solpay.TxRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.TransactionCalls++
	if n.Err != nil {
		return nil, n.Err
	}
	if n.NotFoundPolls > 0 {
		n.NotFoundPolls--
		return nil, solpay.ErrTxNotFound
	}
	rec, ok := n.Txs[sig]
	if !ok {
		return nil, solpay.ErrTxNotFound
	}
	return rec, nil
}

func (n *Network) SignatureSeen(ctx context.Context, sig solana.Signature) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return false, n.Err
	}
	_, ok := n.Txs[sig]
	return ok, nil
}

func (n *Network) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return 0, n.Err
	}
	return n.balance(account), nil
}

func (n *Network) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return solana.Signature{}, n.Err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("transaction is not signed")
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, err
	}
	n.Sent = append(n.Sent, tx)
	sig := tx.Signatures[0]
	if !n.Hold {
		if _, err := n.settle(sig, tx, false); err != nil {
			return solana.Signature{}, err
		}
	}
	return sig, nil
}

// Settle records tx as confirmed and applies its transfers to balances.
func (n *Network) Settle(tx *solana.Transaction) (*solpay.TxRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settle(tx.Signatures[0], tx, false)
}

// SettleFailed records tx as confirmed but failed; only the fee is charged.
func (n *Network) SettleFailed(tx *solana.Transaction) (*solpay.TxRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settle(tx.Signatures[0], tx, true)
}

// Release settles every transaction sent while Hold was set.
func (n *Network) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Hold = false
	for _, tx := range n.Sent {
		sig := tx.Signatures[0]
		if _, ok := n.Txs[sig]; ok {
			continue
		}
		if _, err := n.settle(sig, tx, false); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network) balance(pk solana.PublicKey) uint64 {
	if b, ok := n.Balances[pk]; ok {
		return b
	}
	return DefaultBalance
}

func (n *Network) settle(sig solana.Signature, tx *solana.Transaction, failed bool) (*solpay.TxRecord, error) {
	keys := tx.Message.AccountKeys
	pre := make([]uint64, len(keys))
	for i, k := range keys {
		pre[i] = n.balance(k)
	}

	after := map[solana.PublicKey]uint64{}
	for i, k := range keys {
		after[k] = pre[i]
	}
	if len(keys) > 0 {
		after[keys[0]] -= Fee
	}
	if !failed {
		transfers, err := solpay.FindTransfers(tx)
		if err != nil {
			return nil, err
		}
		for _, t := range transfers {
			after[t.From] -= t.Lamports
			after[t.To] += t.Lamports
		}
	}

	post := make([]uint64, len(keys))
	for i, k := range keys {
		post[i] = after[k]
		n.Balances[k] = after[k]
	}

	rec := &solpay.TxRecord{
		Signature:    sig,
		Slot:         uint64(len(n.Txs) + 1),
		Transaction:  tx,
		PreBalances:  pre,
		PostBalances: post,
		Failed:       failed,
	}
	n.Txs[sig] = rec
	return rec, nil
}

// SignedTransfer builds and signs a transfer from payer to recipient.
func SignedTransfer(payer solana.PrivateKey, recipient solana.PublicKey, lamports uint64) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer.PublicKey(), recipient).Build(),
		},
		solana.Hash{9, 9, 9},
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return nil, err
	}
	if err := Sign(tx, payer); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign replaces any signature slots in tx with signatures by key.
func Sign(tx *solana.Transaction, key solana.PrivateKey) error {
	tx.Signatures = nil
	_, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	return err
}

// NewKey returns a fresh random keypair.
func NewKey() solana.PrivateKey {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		panic(err)
	}
	return key
}
