package dto

import (
	"time"

	"github.com/margo-sol/backend/internal/models"
)

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ChallengeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type TokenResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user,omitempty"`
}

type RegisterResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
}

type RefreshResponse struct {
	Success   bool      `json:"success"`
	NewToken  string    `json:"newToken"`
	ExpiresAt time.Time `json:"expiresAt"`
	Refreshed bool      `json:"refreshed"`
}

// UserInfoResponse: wallet is empty when none is linked.
type UserInfoResponse struct {
	Success  bool    `json:"success"`
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
	Wallet   string  `json:"wallet"`
}

type ConnectWalletResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	WalletAddress string `json:"walletAddress"`
}

type BalanceResponse struct {
	Success bool   `json:"success"`
	Balance string `json:"balance"` // SOL, decimal string
}

type SolPurchaseResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	Transaction          string `json:"transaction"` // base64, unsigned
	Lamports             uint64 `json:"lamports"`
	Seller               string `json:"seller"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type CheckPaymentResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	AccessKey      string `json:"accessKey"`
	AlreadyGranted bool   `json:"alreadyGranted"`
}

type IsPurchasedResponse struct {
	Purchased bool   `json:"purchased"`
	AccessKey string `json:"accessKey,omitempty"`
}

type MyPurchasesResponse struct {
	Success   bool                            `json:"success"`
	Purchases []models.PurchaseWithCollection `json:"purchases"`
}
