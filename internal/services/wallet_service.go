package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/models"
	"github.com/margo-sol/backend/internal/solpay"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WalletService struct {
	users   UserStore
	audit   AuditLogger
	network BalanceReader
	prover  *walletProver
	cfg     *config.Config
	log     *zap.Logger
}

func NewWalletService(
	users UserStore,
	challenges ChallengeStore,
	audit AuditLogger,
	network BalanceReader,
	cfg *config.Config,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		users:   users,
		audit:   audit,
		network: network,
		prover:  &walletProver{challenges: challenges, maxAge: cfg.LoginChallengeMaxAge, now: time.Now},
		cfg:     cfg,
		log:     log,
	}
}

// ConnectWallet привязывает кошелёк к аккаунту. The wallet must sign a fresh
// challenge, the same proof wallet login requires. errs.ErrWalletTaken when
// another account already holds it.
func (s *WalletService) ConnectWallet(ctx context.Context, userID uuid.UUID, wallet, message string, signature []byte) (*models.User, error) {
	if err := s.prover.prove(ctx, wallet, message, signature); err != nil {
		return nil, err
	}

	u, err := s.users.LinkWallet(ctx, userID, wallet)
	if err != nil {
		s.log.Info("wallet link refused",
			zap.String("user_id", userID.String()),
			zap.String("wallet", wallet),
			zap.Error(err),
		)
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      models.AuditWalletLinked,
		EntityType:  "user",
		EntityID:    userID.String(),
		Meta:        map[string]any{"wallet": wallet, "network": s.cfg.SolanaNetwork},
	})

	s.log.Info("wallet connected",
		zap.String("user_id", userID.String()),
		zap.String("wallet", wallet),
	)
	return u, nil
}

// Balance returns the wallet's confirmed balance in SOL.
func (s *WalletService) Balance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	pk, err := solpay.ParsePublicKey(wallet)
	if err != nil {
		return decimal.Zero, err
	}
	lamports, err := s.network.Balance(ctx, pk)
	if err != nil {
		return decimal.Zero, err
	}
	return solpay.LamportsToSOL(lamports), nil
}
