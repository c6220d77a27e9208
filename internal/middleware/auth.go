package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/errs"
	"go.uber.org/zap"
)

const (
	CtxUserID = "user_id"
	CtxClaims = "claims"
	CtxToken  = "token"
)

// AuthMiddleware requires a valid Bearer session token.
func AuthMiddleware(issuer *auth.Issuer, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader || tokenStr == "" {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := issuer.Verify(tokenStr)
		if err != nil {
			log.Debug("jwt verify failed", zap.String("request_id", GetRequestID(c)), zap.Error(err))
			if errors.Is(err, errs.ErrTokenExpired) {
				return unauthorized(c, "token expired")
			}
			return unauthorized(c, "invalid token")
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxClaims, claims)
		c.Locals(CtxToken, tokenStr)

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success":    false,
		"error":      msg,
		"request_id": GetRequestID(c),
	})
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetClaims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(CtxClaims).(*auth.Claims)
	return claims
}

func GetToken(c *fiber.Ctx) string {
	token, _ := c.Locals(CtxToken).(string)
	return token
}
