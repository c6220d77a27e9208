package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/margo-sol/backend/internal/buyer"
	"github.com/margo-sol/backend/internal/config"
	"github.com/margo-sol/backend/internal/solpay"
	"go.uber.org/zap"
)

// buyer pays for a collection from the command line:
//
//	buyer <collection-id> [amount-sol]
//
// The wallet is read from a solana-keygen file (BUYER_KEYPAIR).
func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: buyer <collection-id> [amount-sol]")
		os.Exit(2)
	}
	collectionID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || collectionID <= 0 {
		log.Fatal("invalid collection id", zap.String("arg", os.Args[1]))
	}
	var amount string
	if len(os.Args) > 2 {
		amount = os.Args[2]
	}

	cfg := config.Load()

	key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.BuyerKeypairPath)
	if err != nil {
		log.Fatal("failed to load keypair", zap.String("path", cfg.BuyerKeypairPath), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	network := solpay.NewRPCNetwork(cfg.SolanaRPCURL, log)
	watcher := solpay.NewWatcher(network, cfg.ConfirmPollInterval, cfg.ConfirmTimeout, log)
	client := buyer.NewClient(cfg.BuyerAPIURL, key, network, watcher, log)

	if err := client.Login(ctx); err != nil {
		log.Fatal("login failed", zap.Error(err))
	}

	receipt, err := client.Purchase(ctx, collectionID, amount)
	if err != nil {
		log.Fatal("purchase failed", zap.Int64("collection_id", collectionID), zap.Error(err))
	}

	log.Info("access granted",
		zap.Int64("collection_id", receipt.CollectionID),
		zap.String("signature", receipt.Signature),
		zap.Bool("already_granted", receipt.AlreadyGranted),
	)
	fmt.Println(receipt.AccessKey)
}
