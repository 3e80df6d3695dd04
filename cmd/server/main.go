// Package main provides the API server entry point for the shield wallet backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shield-wallet/internal/api"
	"github.com/shield-wallet/internal/chain"
	"github.com/shield-wallet/internal/config"
	"github.com/shield-wallet/internal/keyvault"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/pending"
	"github.com/shield-wallet/internal/service"
	"github.com/shield-wallet/internal/storage"
	"github.com/shield-wallet/internal/zk"
)

func main() {
	fmt.Println("Shield Wallet API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Chain client with failover
	chainClient, err := chain.NewRPCClient(&cfg.Chain)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain client")
	}
	defer chainClient.Close()

	// Repositories
	walletRepo := storage.NewWalletRepository(postgres)
	sessionRepo := storage.NewSessionRepository(postgres)
	noteRepo := storage.NewNoteRepository(postgres)
	txRepo := storage.NewTransactionRepository(postgres)

	// Core collaborators
	vault := keyvault.New(cfg.Custody.BcryptCost, cfg.Custody.PBKDF2Iterations)
	hasher := zk.NewMimcHasher()
	builder := zk.NewBuilder(hasher)
	prover := zk.NewHTTPProver(cfg.Prover.Endpoint, cfg.Prover.Timeout)
	pendingStore := pending.NewStore(redis, pending.DefaultTTL)

	// Services
	sessionService := service.NewSessionService(sessionRepo, vault, cfg.Session)
	noteService := service.NewNoteService(noteRepo)
	walletService := service.NewWalletService(walletRepo, vault, hasher, chainClient, txRepo, sessionService, cfg.Chain.Network)
	transferService := service.NewTransactionService(sessionService, noteService, builder, prover, chainClient, txRepo)

	// HTTP server
	serverCfg := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      150 * time.Second, // proof generation can take minutes
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverCfg, walletService, sessionService, noteService, transferService, pendingStore)

	// Start serving; shut down cleanly on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.WithError(err).Fatal("Server exited unexpectedly")
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
