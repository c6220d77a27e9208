package repositories

import (
	"context"

	"github.com/margo-sol/backend/internal/models"
)

type CollectionRepo struct {
	db DBTX
}

func NewCollectionRepo(db DBTX) *CollectionRepo {
	return &CollectionRepo{db: db}
}

func (r *CollectionRepo) GetByID(ctx context.Context, id int64) (*models.Collection, error) {
	var c models.Collection
	err := r.db.QueryRow(ctx, `
		SELECT id, title, description, price_sol::text, created_by, created_at
		FROM collections WHERE id = $1
	`, id).Scan(&c.ID, &c.Title, &c.Description, &c.PriceSOL, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, storageErr(err)
	}
	return &c, nil
}
