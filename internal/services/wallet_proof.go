package services

import (
	"context"
	"time"

	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/solpay"
)

// walletProver checks that a wallet signed a fresh, unused login challenge.
type walletProver struct {
	challenges ChallengeStore
	maxAge     time.Duration
	now        func() time.Time
}

func (p *walletProver) prove(ctx context.Context, wallet, message string, signature []byte) error {
	// 1. Свежесть challenge
	if err := auth.CheckChallenge(message, p.now(), p.maxAge); err != nil {
		return err
	}

	// 2. Подпись
	ok, err := solpay.VerifySignature(wallet, []byte(message), signature)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrBadSignature
	}

	// 3. Одноразовость, only after the signature checks out so forged
	// requests cannot burn someone else's challenge.
	fresh, err := p.challenges.Consume(ctx, wallet, message, auth.ChallengeReplayTTL(p.maxAge))
	if err != nil {
		return err
	}
	if !fresh {
		return errs.ErrChallengeReused
	}
	return nil
}
