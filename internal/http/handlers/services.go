package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/models"
	"github.com/margo-sol/backend/internal/services"
	"github.com/margo-sol/backend/internal/solpay"
	"github.com/shopspring/decimal"
)

// Service views used by the handlers; implemented by the services package.

type AuthService interface {
	Challenge() (string, error)
	WalletLogin(ctx context.Context, wallet, message string, signature []byte) (*services.Session, error)
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, claims *auth.Claims, token string) (*services.Session, bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type PurchaseService interface {
	BuildPurchase(ctx context.Context, userID uuid.UUID, collectionID int64, amount, buyerWallet string) (*solpay.UnsignedTransfer, error)
	CheckPayment(ctx context.Context, userID uuid.UUID, collectionID int64, signature string) (*services.PaymentResult, error)
	IsPurchased(ctx context.Context, userID uuid.UUID, collectionID int64) (*models.Purchase, bool, error)
	MyPurchases(ctx context.Context, userID uuid.UUID) ([]models.PurchaseWithCollection, error)
}

type WalletService interface {
	ConnectWallet(ctx context.Context, userID uuid.UUID, wallet, message string, signature []byte) (*models.User, error)
	Balance(ctx context.Context, wallet string) (decimal.Decimal, error)
}

var (
	_ AuthService     = (*services.AuthService)(nil)
	_ PurchaseService = (*services.PurchaseService)(nil)
	_ WalletService   = (*services.WalletService)(nil)
)
