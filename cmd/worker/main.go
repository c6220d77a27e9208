package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/db"
	"github.com/margo-sol/backend/internal/events"
	"github.com/margo-sol/backend/internal/metrics"
	"github.com/margo-sol/backend/internal/repositories"
	"github.com/margo-sol/backend/internal/services"
	"github.com/margo-sol/backend/internal/solpay"
	"go.uber.org/zap"
)

const sweepBatch = 100

// worker re-checks payment submissions the API could not resolve in time
// (confirmation timeout, RPC outage, crash) and grants access once they land.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	network := solpay.NewRPCNetwork(cfg.SolanaRPCURL, log)
	builder, err := solpay.NewBuilder(network, cfg.SellerWalletAddress)
	if err != nil {
		log.Fatal("invalid seller wallet", zap.Error(err))
	}
	watcher := solpay.NewWatcher(network, cfg.ConfirmPollInterval, cfg.ConfirmTimeout, log)

	// Repos
	auditRepo := repositories.NewAuditRepo(pool)
	purchaseService := services.NewPurchaseService(
		repositories.NewCollectionRepo(pool),
		repositories.NewPurchaseRepo(pool),
		repositories.NewPaymentRepo(pool),
		repositories.NewUserRepo(pool),
		builder, watcher,
		events.NewRedisPublisher(rdb, log),
		auditRepo,
		metrics.NoopRecorder{},
		cfg, log,
	)

	log.Info("worker started",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("sweep_max_age", cfg.SweepMaxAge),
	)

	sweepTicker := time.NewTicker(cfg.SweepInterval)
	defer sweepTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			runSweep(ctx, purchaseService, cfg, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runSweep(ctx context.Context, purchaseService *services.PurchaseService, cfg *config.Config, log *zap.Logger) {
	sweepCtx, cancel := context.WithTimeout(ctx, cfg.SweepInterval)
	defer cancel()

	stats, err := purchaseService.SweepPending(sweepCtx, cfg.SweepMaxAge, sweepBatch)
	if err != nil {
		log.Error("payment sweep failed", zap.Error(err))
		return
	}
	if stats.Checked == 0 && stats.Expired == 0 {
		return
	}
	log.Info("payment sweep",
		zap.Int("checked", stats.Checked),
		zap.Int("granted", stats.Granted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("pending", stats.Pending),
		zap.Int64("expired", stats.Expired),
	)
}
