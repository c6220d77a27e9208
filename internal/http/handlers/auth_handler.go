package handlers

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"
	"github.com/margo-sol/backend/internal/http/dto"
	"github.com/margo-sol/backend/internal/middleware"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// Challenge выдаёт сообщение для подписи кошельком.
// GET /api/wallet-login/challenge
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	msg, err := h.authService.Challenge()
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.ChallengeResponse{Success: true, Message: msg})
}

// WalletLogin входит по подписи challenge кошельком.
// POST /api/wallet-login
func (h *AuthHandler) WalletLogin(c *fiber.Ctx) error {
	var req dto.WalletLoginRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return badRequest(c, "signature is not valid base64")
	}

	sess, err := h.authService.WalletLogin(c.UserContext(), req.WalletAddress, req.Message, sig)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.TokenResponse{
		Success:   true,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      sess.User,
	})
}

// Register
// POST /api/register
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	user, err := h.authService.Register(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.RegisterResponse{Success: true, User: user})
}

// Login
// POST /api/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	sess, err := h.authService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.TokenResponse{
		Success:   true,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      sess.User,
	})
}

// RefreshToken returns the current token, or a new one when it is close to expiry.
// GET|POST /api/refresh-token
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	sess, refreshed, err := h.authService.Refresh(c.UserContext(), middleware.GetClaims(c), middleware.GetToken(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.RefreshResponse{
		Success:   true,
		NewToken:  sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Refreshed: refreshed,
	})
}

// UserInfo
// GET /api/user-info
func (h *AuthHandler) UserInfo(c *fiber.Ctx) error {
	user, err := h.authService.GetUser(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}

	resp := dto.UserInfoResponse{
		Success:  true,
		UserID:   user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
	}
	if user.WalletAddress != nil {
		resp.Wallet = *user.WalletAddress
	}
	return c.JSON(resp)
}
