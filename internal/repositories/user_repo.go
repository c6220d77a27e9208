package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/models"
)

const userColumns = `id, username, email, password_hash, wallet_address, is_approved, created_at`

type UserRepo struct {
	db DBTX
}

func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.WalletAddress, &u.IsApproved, &u.CreatedAt)
	if err != nil {
		return nil, storageErr(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *UserRepo) GetByWallet(ctx context.Context, wallet string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet))
}

// CreateWithEmail returns errs.ErrAlreadyExists when the email is taken.
func (r *UserRepo) CreateWithEmail(ctx context.Context, email, passwordHash, username string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, username)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		email, passwordHash, username))
}

// UpsertByWallet returns the account bound to wallet, creating it on first login.
// Concurrent first logins converge on one row.
func (r *UserRepo) UpsertByWallet(ctx context.Context, wallet, username string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		INSERT INTO users (wallet_address, username)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address
		RETURNING `+userColumns,
		wallet, username))
}

// LinkWallet binds wallet to the account. errs.ErrWalletTaken means another
// account already holds it.
func (r *UserRepo) LinkWallet(ctx context.Context, userID uuid.UUID, wallet string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `
		UPDATE users SET wallet_address = $2
		WHERE id = $1
		RETURNING `+userColumns,
		userID, wallet))
	if errors.Is(err, errs.ErrAlreadyExists) {
		return nil, errs.ErrWalletTaken
	}
	return u, err
}
