package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/margo-sol/backend/internal/http/dto"
	"github.com/margo-sol/backend/internal/middleware"
	"github.com/margo-sol/backend/internal/models"
	"go.uber.org/zap"
)

type PurchaseHandler struct {
	purchaseService PurchaseService
	log             *zap.Logger
}

func NewPurchaseHandler(purchaseService PurchaseService, log *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchaseService: purchaseService, log: log}
}

// SolPurchase строит неподписанную транзакцию оплаты коллекции.
// POST /api/sol-purchase
func (h *PurchaseHandler) SolPurchase(c *fiber.Ctx) error {
	var req dto.SolPurchaseRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	tx, err := h.purchaseService.BuildPurchase(c.UserContext(), middleware.GetUserID(c),
		req.CollectionID.Int64(), req.Amount.String(), req.BuyerWallet)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SolPurchaseResponse{
		Success:              true,
		Message:              "transaction created, sign it in your wallet",
		Transaction:          tx.Transaction,
		Lamports:             tx.Lamports,
		Seller:               tx.Seller.String(),
		LastValidBlockHeight: tx.LastValidBlockHeight,
	})
}

// CheckPayment подтверждает оплату и выдаёт ключ доступа.
// POST /api/check-payment
//
// Blocks until the transaction is confirmed or the confirmation timeout
// passes (504, retry with the same signature).
func (h *PurchaseHandler) CheckPayment(c *fiber.Ctx) error {
	var req dto.CheckPaymentRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := h.purchaseService.CheckPayment(c.UserContext(), middleware.GetUserID(c), req.CollectionID.Int64(), req.Signature)
	if err != nil {
		return writeError(c, h.log, err)
	}

	msg := "payment confirmed"
	if res.AlreadyGranted {
		msg = "already purchased"
	}
	return c.JSON(dto.CheckPaymentResponse{
		Success:        true,
		Message:        msg,
		AccessKey:      res.AccessKey,
		AlreadyGranted: res.AlreadyGranted,
	})
}

// IsPurchased
// GET /api/is-purchased/:collectionId
func (h *PurchaseHandler) IsPurchased(c *fiber.Ctx) error {
	collectionID, err := strconv.ParseInt(c.Params("collectionId"), 10, 64)
	if err != nil || collectionID <= 0 {
		return badRequest(c, "invalid collection id")
	}

	p, ok, err := h.purchaseService.IsPurchased(c.UserContext(), middleware.GetUserID(c), collectionID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if !ok {
		return c.JSON(dto.IsPurchasedResponse{Purchased: false})
	}
	return c.JSON(dto.IsPurchasedResponse{Purchased: true, AccessKey: p.AccessKey})
}

// MyPurchases
// GET /api/my-purchases
func (h *PurchaseHandler) MyPurchases(c *fiber.Ctx) error {
	list, err := h.purchaseService.MyPurchases(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if list == nil {
		list = []models.PurchaseWithCollection{}
	}
	return c.JSON(dto.MyPurchasesResponse{Success: true, Purchases: list})
}
