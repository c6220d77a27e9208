package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         *string   `json:"email,omitempty"`
	PasswordHash  *string   `json:"-"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
	IsApproved    bool      `json:"isApproved"`
	CreatedAt     time.Time `json:"createdAt"`
}

// WalletUsername is the default username of an account created by wallet login.
func WalletUsername(wallet string) string {
	if len(wallet) > 8 {
		return wallet[:8]
	}
	return wallet
}
