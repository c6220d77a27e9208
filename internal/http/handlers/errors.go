package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/margo-sol/backend/internal/errs"
	"github.com/margo-sol/backend/internal/http/dto"
	"github.com/margo-sol/backend/internal/middleware"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	message string // empty: use err.Error()
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{errs.ErrInvalidAddress, fiber.StatusBadRequest, ""},
	{errs.ErrInvalidAmount, fiber.StatusBadRequest, ""},
	{errs.ErrPaymentMismatch, fiber.StatusBadRequest, ""},
	{errs.ErrSignatureReused, fiber.StatusConflict, ""},
	{errs.ErrAlreadyExists, fiber.StatusConflict, ""},
	{errs.ErrWalletTaken, fiber.StatusConflict, ""},
	{errs.ErrNotFound, fiber.StatusNotFound, "not found"},
	{errs.ErrBadSignature, fiber.StatusUnauthorized, ""},
	{errs.ErrStaleChallenge, fiber.StatusUnauthorized, ""},
	{errs.ErrChallengeReused, fiber.StatusUnauthorized, ""},
	{errs.ErrTokenExpired, fiber.StatusUnauthorized, ""},
	{errs.ErrTokenMalformed, fiber.StatusUnauthorized, ""},
	{errs.ErrUnauthorized, fiber.StatusUnauthorized, "invalid credentials"},
	{errs.ErrConfirmationTimeout, fiber.StatusGatewayTimeout, ""},
	{context.DeadlineExceeded, fiber.StatusGatewayTimeout, "request timed out"},
	{errs.ErrUpstreamUnavailable, fiber.StatusServiceUnavailable, "solana rpc unavailable, retry later"},
	{errs.ErrStorageUnavailable, fiber.StatusServiceUnavailable, "storage unavailable, retry later"},
}

// StatusFor returns the HTTP status and client-facing message for err.
func StatusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.message != "" {
				return m.status, m.message
			}
			return m.status, err.Error()
		}
	}
	return fiber.StatusInternalServerError, "internal server error"
}

// writeError пишет ошибку в едином формате {success:false, error, request_id}.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status, msg := StatusFor(err)
	reqID := middleware.GetRequestID(c)

	if status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", reqID),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		log.Debug("request rejected",
			zap.String("request_id", reqID),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		RequestID: middleware.GetRequestID(c),
	})
}

// parseBody decodes and validates a JSON request body into req. The error
// text is safe to return to the client.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return errors.New("invalid request body")
	}
	return dto.Validate(req)
}
