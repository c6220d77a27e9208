package solpay

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/shopspring/decimal"
)

// UnsignedTransfer is a buyer-to-seller SOL transfer ready for the buyer's wallet to sign.
type UnsignedTransfer struct {
	Transaction          string // base64 wire format, signature slots zeroed
	Buyer                solana.PublicKey
	Seller               solana.PublicKey
	Lamports             uint64
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Builder assembles unsigned payment transactions to a fixed seller wallet.
type Builder struct {
	network Network
	seller  solana.PublicKey
}

func NewBuilder(network Network, sellerAddress string) (*Builder, error) {
	seller, err := ParsePublicKey(sellerAddress)
	if err != nil {
		return nil, fmt.Errorf("seller wallet: %w", err)
	}
	return &Builder{network: network, seller: seller}, nil
}

func (b *Builder) Seller() solana.PublicKey { return b.seller }

// Build returns a transaction with a single System transfer of amount SOL from
// buyerWallet to the seller. The buyer pays the fee. Nothing is sent.
func (b *Builder) Build(ctx context.Context, buyerWallet string, amount decimal.Decimal) (*UnsignedTransfer, error) {
	buyer, err := ParsePublicKey(buyerWallet)
	if err != nil {
		return nil, err
	}
	if buyer.Equals(b.seller) {
		return nil, fmt.Errorf("%w: buyer wallet is the seller wallet", errs.ErrInvalidAddress)
	}

	lamports, err := SOLToLamports(amount)
	if err != nil {
		return nil, err
	}

	bh, err := b.network.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, buyer, b.seller).Build(),
		},
		bh.Hash,
		solana.TransactionPayer(buyer),
	)
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	raw, err := marshalUnsigned(tx)
	if err != nil {
		return nil, err
	}

	return &UnsignedTransfer{
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		Buyer:                buyer,
		Seller:               b.seller,
		Lamports:             lamports,
		Blockhash:            bh.Hash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}

// marshalUnsigned serializes tx with one zeroed slot per required signer,
// the layout wallets expect for a transaction they are asked to sign.
func marshalUnsigned(tx *solana.Transaction) ([]byte, error) {
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return raw, nil
}
