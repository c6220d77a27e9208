package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/margo-sol/backend/internal/errs"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var userCols = []string{"id", "username", "email", "password_hash", "wallet_address", "is_approved", "created_at"}

func TestUserRepo_GetByWallet(t *testing.T) {
	mock := newMock(t)
	r := NewUserRepo(mock)
	id := uuid.New()
	wallet := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

	mock.ExpectQuery(`SELECT .+ FROM users WHERE wallet_address = \$1`).
		WithArgs(wallet).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, "7xKXtg2C", (*string)(nil), (*string)(nil), strPtr(wallet), false, time.Now()))

	u, err := r.GetByWallet(context.Background(), wallet)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.Equal(t, wallet, *u.WalletAddress)
	require.Nil(t, u.Email)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	r := NewUserRepo(mock)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.GetByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_CreateWithEmail_Duplicate(t *testing.T) {
	mock := newMock(t)
	r := NewUserRepo(mock)

	mock.ExpectQuery(`INSERT INTO users \(email, password_hash, username\)`).
		WithArgs("a@b.c", "hash", "a").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := r.CreateWithEmail(context.Background(), "a@b.c", "hash", "a")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestUserRepo_UpsertByWallet(t *testing.T) {
	mock := newMock(t)
	r := NewUserRepo(mock)
	id := uuid.New()
	wallet := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

	mock.ExpectQuery(`INSERT INTO users \(wallet_address, username\)\s+VALUES \(\$1, \$2\)\s+ON CONFLICT \(wallet_address\)`).
		WithArgs(wallet, "7xKXtg2C").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, "7xKXtg2C", (*string)(nil), (*string)(nil), strPtr(wallet), false, time.Now()))

	u, err := r.UpsertByWallet(context.Background(), wallet, "7xKXtg2C")
	require.NoError(t, err)
	require.Equal(t, "7xKXtg2C", u.Username)
}

func TestUserRepo_LinkWallet(t *testing.T) {
	wallet := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

	t.Run("taken by another account", func(t *testing.T) {
		mock := newMock(t)
		r := NewUserRepo(mock)
		id := uuid.New()

		mock.ExpectQuery(`UPDATE users SET wallet_address = \$2`).
			WithArgs(id, wallet).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		_, err := r.LinkWallet(context.Background(), id, wallet)
		require.ErrorIs(t, err, errs.ErrWalletTaken)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock := newMock(t)
		r := NewUserRepo(mock)
		id := uuid.New()

		mock.ExpectQuery(`UPDATE users SET wallet_address = \$2`).
			WithArgs(id, wallet).
			WillReturnError(pgx.ErrNoRows)

		_, err := r.LinkWallet(context.Background(), id, wallet)
		require.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("connection lost", func(t *testing.T) {
		mock := newMock(t)
		r := NewUserRepo(mock)
		id := uuid.New()

		mock.ExpectQuery(`UPDATE users SET wallet_address = \$2`).
			WithArgs(id, wallet).
			WillReturnError(errors.New("conn closed"))

		_, err := r.LinkWallet(context.Background(), id, wallet)
		require.ErrorIs(t, err, errs.ErrStorageUnavailable)
	})
}
