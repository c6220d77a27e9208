package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/models"
)

const purchaseColumns = `id, user_id, collection_id, access_key, tx_signature, created_at`

type PurchaseRepo struct {
	db DBTX
}

func NewPurchaseRepo(db DBTX) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

// NewAccessKey returns 16 random bytes, hex-encoded.
func NewAccessKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func scanPurchase(row interface{ Scan(...any) error }) (*models.Purchase, error) {
	var p models.Purchase
	if err := row.Scan(&p.ID, &p.UserID, &p.CollectionID, &p.AccessKey, &p.TxSignature, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordGrant inserts the grant for (userID, collectionID) unless one exists.
// It returns the stored grant and whether this call created it; concurrent
// callers all receive the same row and access key.
func (r *PurchaseRepo) RecordGrant(ctx context.Context, userID uuid.UUID, collectionID int64, txSignature *string) (*models.Purchase, bool, error) {
	key, err := NewAccessKey()
	if err != nil {
		return nil, false, err
	}

	p, err := scanPurchase(r.db.QueryRow(ctx, `
		INSERT INTO purchases (user_id, collection_id, access_key, tx_signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, collection_id) DO NOTHING
		RETURNING `+purchaseColumns,
		userID, collectionID, key, txSignature))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storageErr(err)
	}

	// Lost the race: the winner's row is committed by the time ON CONFLICT returns.
	existing, err := r.HasGrant(ctx, userID, collectionID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: grant vanished after conflict", errs.ErrStorageUnavailable)
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// HasGrant returns errs.ErrNotFound when the user has not bought the collection.
func (r *PurchaseRepo) HasGrant(ctx context.Context, userID uuid.UUID, collectionID int64) (*models.Purchase, error) {
	p, err := scanPurchase(r.db.QueryRow(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases WHERE user_id = $1 AND collection_id = $2
	`, userID, collectionID))
	if err != nil {
		return nil, storageErr(err)
	}
	return p, nil
}

func (r *PurchaseRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PurchaseWithCollection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.user_id, p.collection_id, p.access_key, p.tx_signature, p.created_at,
			c.title, c.price_sol::text
		FROM purchases p
		JOIN collections c ON c.id = p.collection_id
		WHERE p.user_id = $1
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var out []models.PurchaseWithCollection
	for rows.Next() {
		var p models.PurchaseWithCollection
		if err := rows.Scan(&p.ID, &p.UserID, &p.CollectionID, &p.AccessKey, &p.TxSignature, &p.CreatedAt,
			&p.Title, &p.PriceSOL); err != nil {
			return nil, storageErr(err)
		}
		out = append(out, p)
	}
	return out, storageErr(rows.Err())
}
