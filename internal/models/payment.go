package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment submission statuses
const (
	PaymentStatusSubmitted = "submitted"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusGranted   = "granted"
	PaymentStatusRejected  = "rejected"
)

// Valid state transitions: from -> []to
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusSubmitted: {PaymentStatusConfirmed, PaymentStatusRejected},
	PaymentStatusConfirmed: {PaymentStatusGranted},
	PaymentStatusGranted:   {},
	PaymentStatusRejected:  {},
}

func IsValidPaymentTransition(from, to string) bool {
	for _, s := range ValidPaymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentSubmission is a transaction signature a buyer reported as payment.
// The first report binds the signature to one (user, collection) for good.
type PaymentSubmission struct {
	Signature        string     `json:"signature"`
	UserID           uuid.UUID  `json:"userId"`
	CollectionID     int64      `json:"collectionId"`
	ExpectedLamports uint64     `json:"expectedLamports"`
	Status           string     `json:"status"`
	Payer            *string    `json:"payer,omitempty"`
	Slot             *uint64    `json:"slot,omitempty"`
	Reason           *string    `json:"reason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
}

// SubmissionUpdate carries the optional fields set by a status transition.
type SubmissionUpdate struct {
	Payer  *string
	Slot   *uint64
	Reason *string
}
