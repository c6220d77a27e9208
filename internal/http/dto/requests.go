package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the `validate` struct tags of a request body.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s is %s", fe.Field(), describe(fe))
	}
	return fmt.Errorf("validation failed: %w", err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "email":
		return "not a valid email"
	case "base64":
		return "not valid base64"
	case "min":
		return "shorter than " + fe.Param()
	case "gt":
		return "not positive"
	default:
		return "invalid (" + fe.Tag() + ")"
	}
}

// Auth

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// WalletLoginRequest: message is the challenge text, signature is the
// base64 Ed25519 signature of its UTF-8 bytes.
type WalletLoginRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required"`
	Message       string `json:"message" validate:"required"`
	Signature     string `json:"signature" validate:"required,base64"`
}

type ConnectWalletRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required"`
	Message       string `json:"message" validate:"required"`
	Signature     string `json:"signature" validate:"required,base64"`
}

// Purchases

// SolPurchaseRequest.Amount is only compared against the collection price.
type SolPurchaseRequest struct {
	CollectionID ID     `json:"collectionId" validate:"required,gt=0"`
	Amount       Amount `json:"amount,omitempty"`
	BuyerWallet  string `json:"buyerWallet" validate:"required"`
}

type CheckPaymentRequest struct {
	CollectionID ID     `json:"collectionId" validate:"required,gt=0"`
	Signature    string `json:"signature" validate:"required"`
}
