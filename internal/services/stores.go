package services

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/models"
	"github.com/margo-sol/backend/internal/solpay"
	"github.com/shopspring/decimal"
)

// Collaborators are declared here so services can be tested with fakes.
// The repositories package provides the Postgres and Redis implementations.

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByWallet(ctx context.Context, wallet string) (*models.User, error)
	CreateWithEmail(ctx context.Context, email, passwordHash, username string) (*models.User, error)
	UpsertByWallet(ctx context.Context, wallet, username string) (*models.User, error)
	LinkWallet(ctx context.Context, userID uuid.UUID, wallet string) (*models.User, error)
}

type ChallengeStore interface {
	Consume(ctx context.Context, wallet, message string, ttl time.Duration) (bool, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type CollectionStore interface {
	GetByID(ctx context.Context, id int64) (*models.Collection, error)
}

type GrantLedger interface {
	RecordGrant(ctx context.Context, userID uuid.UUID, collectionID int64, txSignature *string) (*models.Purchase, bool, error)
	HasGrant(ctx context.Context, userID uuid.UUID, collectionID int64) (*models.Purchase, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PurchaseWithCollection, error)
}

type SubmissionStore interface {
	Claim(ctx context.Context, sub *models.PaymentSubmission) (*models.PaymentSubmission, bool, error)
	Transition(ctx context.Context, signature, from, to string, upd models.SubmissionUpdate) error
	ListPending(ctx context.Context, limit int) ([]models.PaymentSubmission, error)
	ExpireSubmitted(ctx context.Context, signatures []string, before time.Time, reason string) (int64, error)
}

type TransferBuilder interface {
	Build(ctx context.Context, buyerWallet string, amount decimal.Decimal) (*solpay.UnsignedTransfer, error)
	Seller() solana.PublicKey
}

type PaymentWatcher interface {
	Await(ctx context.Context, sig solana.Signature, seller solana.PublicKey, expected uint64) (*solpay.Confirmation, error)
	Check(ctx context.Context, sig solana.Signature, seller solana.PublicKey, expected uint64) (*solpay.Confirmation, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}
