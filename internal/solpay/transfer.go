package solpay

import (
	"encoding/base64"
	"fmt"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Transfer is a System Program SOL transfer found in a transaction.
type Transfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// DecodeTransaction decodes a base64 wire-format transaction, signed or not.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid tx base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// FindTransfers returns every System Program transfer instruction in tx.
// Instructions of other programs and other system instructions are skipped.
func FindTransfers(tx *solana.Transaction) ([]Transfer, error) {
	msg := tx.Message
	var out []Transfer

	for _, inst := range msg.Instructions {
		if int(inst.ProgramIDIndex) >= len(msg.AccountKeys) {
			return nil, fmt.Errorf("program index %d out of range", inst.ProgramIDIndex)
		}
		if !msg.AccountKeys[inst.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}

		metas := make([]*solana.AccountMeta, len(inst.Accounts))
		for i, idx := range inst.Accounts {
			if int(idx) >= len(msg.AccountKeys) {
				return nil, fmt.Errorf("account index %d out of range", idx)
			}
			pub := msg.AccountKeys[idx]
			writable, err := msg.IsWritable(pub)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", pub, err)
			}
			metas[i] = &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   msg.IsSigner(pub),
				IsWritable: writable,
			}
		}

		decoded, err := system.DecodeInstruction(metas, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil || len(metas) < 2 {
			continue
		}
		out = append(out, Transfer{
			From:     metas[0].PublicKey,
			To:       metas[1].PublicKey,
			Lamports: *transfer.Lamports,
		})
	}

	return out, nil
}
