// Package main provides the maintenance worker entry point for the shield wallet backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shield-wallet/internal/chain"
	"github.com/shield-wallet/internal/config"
	"github.com/shield-wallet/internal/keyvault"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/service"
	"github.com/shield-wallet/internal/storage"
	"github.com/shield-wallet/internal/worker"
)

func main() {
	fmt.Println("Shield Wallet Maintenance Worker")
	log.Println("Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	chainClient, err := chain.NewRPCClient(&cfg.Chain)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain client")
	}
	defer chainClient.Close()

	sessionRepo := storage.NewSessionRepository(postgres)
	txRepo := storage.NewTransactionRepository(postgres)
	vault := keyvault.New(cfg.Custody.BcryptCost, cfg.Custody.PBKDF2Iterations)
	sessionService := service.NewSessionService(sessionRepo, vault, cfg.Session)

	sweeper, err := worker.NewSweeper(&worker.SweeperConfig{
		Sessions:         sessionService,
		Receipts:         txRepo,
		Chain:            chainClient,
		CleanupInterval:  cfg.Worker.CleanupInterval,
		TxStatusInterval: cfg.Worker.TxStatusInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sweeper")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sweeper")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := sweeper.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Sweeper shutdown failed")
		os.Exit(1)
	}

	logger.Info("Worker stopped")
}
