package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditUserRegistered  = "user.registered"
	AuditWalletLogin     = "user.wallet_login"
	AuditWalletLinked    = "user.wallet_linked"
	AuditPaymentRejected = "payment.rejected"
	AuditAccessGranted   = "purchase.granted"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"` // user/system
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
