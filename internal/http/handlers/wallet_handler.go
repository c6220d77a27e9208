package handlers

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"
	"github.com/margo-sol/backend/internal/http/dto"
	"github.com/margo-sol/backend/internal/middleware"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletService WalletService
	log           *zap.Logger
}

func NewWalletHandler(walletService WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletService: walletService, log: log}
}

// ConnectWallet привязывает кошелёк после проверки подписи challenge.
// POST /api/connect-wallet
func (h *WalletHandler) ConnectWallet(c *fiber.Ctx) error {
	var req dto.ConnectWalletRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return badRequest(c, "signature is not valid base64")
	}

	user, err := h.walletService.ConnectWallet(c.UserContext(), middleware.GetUserID(c), req.WalletAddress, req.Message, sig)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.ConnectWalletResponse{
		Success:       true,
		Message:       "wallet connected",
		WalletAddress: *user.WalletAddress,
	})
}

// Balance
// GET /api/balance/:walletAddress
func (h *WalletHandler) Balance(c *fiber.Ctx) error {
	bal, err := h.walletService.Balance(c.UserContext(), c.Params("walletAddress"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.BalanceResponse{Success: true, Balance: bal.String()})
}
