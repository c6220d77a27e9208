package models

import (
	"time"

	"github.com/google/uuid"
)

type Collection struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	PriceSOL    string     `json:"priceSol"` // numeric as string
	CreatedBy   *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
