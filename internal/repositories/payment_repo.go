package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/models"
)

const submissionColumns = `signature, user_id, collection_id, expected_lamports, status, payer, slot, reason, created_at, updated_at, confirmed_at`

type PaymentRepo struct {
	db DBTX
}

func NewPaymentRepo(db DBTX) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func scanSubmission(row interface{ Scan(...any) error }) (*models.PaymentSubmission, error) {
	var s models.PaymentSubmission
	err := row.Scan(&s.Signature, &s.UserID, &s.CollectionID, &s.ExpectedLamports, &s.Status,
		&s.Payer, &s.Slot, &s.Reason, &s.CreatedAt, &s.UpdatedAt, &s.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Claim records sub as submitted. If the signature was reported before, the
// existing row is returned unchanged and created is false.
func (r *PaymentRepo) Claim(ctx context.Context, sub *models.PaymentSubmission) (*models.PaymentSubmission, bool, error) {
	s, err := scanSubmission(r.db.QueryRow(ctx, `
		INSERT INTO payment_submissions (signature, user_id, collection_id, expected_lamports, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (signature) DO NOTHING
		RETURNING `+submissionColumns,
		sub.Signature, sub.UserID, sub.CollectionID, sub.ExpectedLamports, models.PaymentStatusSubmitted))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storageErr(err)
	}

	existing, err := r.GetBySignature(ctx, sub.Signature)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PaymentRepo) GetBySignature(ctx context.Context, signature string) (*models.PaymentSubmission, error) {
	s, err := scanSubmission(r.db.QueryRow(ctx, `
		SELECT `+submissionColumns+` FROM payment_submissions WHERE signature = $1
	`, signature))
	if err != nil {
		return nil, storageErr(err)
	}
	return s, nil
}

// Transition moves the submission from one status to another. It returns
// errs.ErrNotFound when the row is not currently in status from.
func (r *PaymentRepo) Transition(ctx context.Context, signature, from, to string, upd models.SubmissionUpdate) error {
	if !models.IsValidPaymentTransition(from, to) {
		return fmt.Errorf("invalid payment transition %s -> %s", from, to)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE payment_submissions SET
			status = $3,
			payer = COALESCE($4, payer),
			slot = COALESCE($5, slot),
			reason = COALESCE($6, reason),
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN now() ELSE confirmed_at END,
			updated_at = now()
		WHERE signature = $1 AND status = $2
	`, signature, from, to, upd.Payer, upd.Slot, upd.Reason)
	if err != nil {
		return storageErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListPending returns submissions that are not final yet, oldest first.
func (r *PaymentRepo) ListPending(ctx context.Context, limit int) ([]models.PaymentSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM payment_submissions
		WHERE status IN ('submitted', 'confirmed')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []models.PaymentSubmission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, *s)
	}
	return out, storageErr(rows.Err())
}

// ExpireSubmitted rejects those of signatures that are still unconfirmed and
// were created before the cutoff.
func (r *PaymentRepo) ExpireSubmitted(ctx context.Context, signatures []string, before time.Time, reason string) (int64, error) {
	if len(signatures) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_submissions SET status = 'rejected', reason = $3, updated_at = now()
		WHERE signature = ANY($1) AND status = 'submitted' AND created_at < $2
	`, signatures, before, reason)
	if err != nil {
		return 0, storageErr(err)
	}
	return tag.RowsAffected(), nil
}
