package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/db"
	"github.com/margo-sol/backend/internal/events"
	apphttp "github.com/margo-sol/backend/internal/http"
	"github.com/margo-sol/backend/internal/http/handlers"
	"github.com/margo-sol/backend/internal/metrics"
	"github.com/margo-sol/backend/internal/repositories"
	"github.com/margo-sol/backend/internal/services"
	"github.com/margo-sol/backend/internal/solpay"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Solana
	network := solpay.NewRPCNetwork(cfg.SolanaRPCURL, log)
	builder, err := solpay.NewBuilder(network, cfg.SellerWalletAddress)
	if err != nil {
		log.Fatal("invalid seller wallet", zap.Error(err))
	}
	watcher := solpay.NewWatcher(network, cfg.ConfirmPollInterval, cfg.ConfirmTimeout, log)

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	collectionRepo := repositories.NewCollectionRepo(pool)
	purchaseRepo := repositories.NewPurchaseRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	challengeStore := repositories.NewChallengeStore(rdb)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	recorder := metrics.NewPrometheusRecorder()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiration, cfg.JWTRefreshWindow)
	authService := services.NewAuthService(userRepo, challengeStore, auditRepo, issuer, recorder, cfg, log)
	walletService := services.NewWalletService(userRepo, challengeStore, auditRepo, network, cfg, log)
	purchaseService := services.NewPurchaseService(collectionRepo, purchaseRepo, paymentRepo, userRepo,
		builder, watcher, publisher, auditRepo, recorder, cfg, log)

	// Handlers
	wsHub := handlers.NewWSHub(issuer, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to payment events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		// check-payment blocks for up to the confirmation timeout
		WriteTimeout: cfg.ConfirmTimeout + 15*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, issuer, apphttp.Handlers{
		Auth:     handlers.NewAuthHandler(authService, log),
		Purchase: handlers.NewPurchaseHandler(purchaseService, log),
		Wallet:   handlers.NewWalletHandler(walletService, log),
		WS:       wsHub,
		Metrics:  recorder.Handler(),
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("network", cfg.SolanaNetwork),
		zap.String("seller", builder.Seller().String()),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
