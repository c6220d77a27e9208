package http

import (
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/http/handlers"
	"github.com/margo-sol/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Auth     *handlers.AuthHandler
	Purchase *handlers.PurchaseHandler
	Wallet   *handlers.WalletHandler
	WS       *handlers.WSHub
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	issuer *auth.Issuer,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if h.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(h.Metrics))
	}

	api := app.Group("/api")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))

	// Public
	api.Get("/wallet-login/challenge", h.Auth.Challenge)
	api.Post("/wallet-login", h.Auth.WalletLogin)
	api.Post("/register", h.Auth.Register)
	api.Post("/login", h.Auth.Login)
	api.Get("/balance/:walletAddress", h.Wallet.Balance)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(issuer, log))

	protected.Get("/refresh-token", h.Auth.RefreshToken)
	protected.Post("/refresh-token", h.Auth.RefreshToken)
	protected.Get("/user-info", h.Auth.UserInfo)
	protected.Post("/connect-wallet", h.Wallet.ConnectWallet)

	protected.Post("/sol-purchase", h.Purchase.SolPurchase)
	protected.Post("/check-payment", h.Purchase.CheckPayment)
	protected.Get("/is-purchased/:collectionId", h.Purchase.IsPurchased)
	protected.Get("/my-purchases", h.Purchase.MyPurchases)

	// WebSocket
	if h.WS != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}
}
