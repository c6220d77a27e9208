package auth

import (
	"errors"
	"fmt"

	"github.com/margo-sol/backend/internal/errs"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword returns errs.ErrUnauthorized when password does not match hash.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return errs.ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	return nil
}
