package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is an access grant: the record that a user paid for a collection.
// At most one exists per (user, collection).
type Purchase struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	CollectionID int64     `json:"collectionId"`
	AccessKey    string    `json:"accessKey"`
	TxSignature  *string   `json:"txSignature,omitempty"`
	CreatedAt    time.Time `json:"purchaseDate"`
}

// PurchaseWithCollection embeds Purchase and adds collection info to avoid N+1 queries.
type PurchaseWithCollection struct {
	Purchase
	Title    string `json:"title"`
	PriceSOL string `json:"priceSol"`
}
