// Package worker provides the background maintenance loops: expired
// session sweeping and pending receipt confirmation.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shield-wallet/internal/chain"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
)

// SessionCleaner clears expired resident keys and deletes expired sessions
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (keysCleared, sessionsDeleted int64, err error)
}

// ReceiptRepo reads and resolves pending transaction receipts
type ReceiptRepo interface {
	ListPending(ctx context.Context, limit int) ([]*models.Transaction, error)
	UpdateStatus(ctx context.Context, txHash string, status types.TransactionStatus, blockNumber *uint64, errorMessage *string) error
}

// StatusClient resolves a submitted transaction's chain status
type StatusClient interface {
	TxStatus(ctx context.Context, txHash string) (*chain.TxStatusResult, error)
}

// Sweeper runs the periodic maintenance loops
type Sweeper struct {
	sessions SessionCleaner
	receipts ReceiptRepo
	chain    StatusClient

	cleanupInterval  time.Duration
	txStatusInterval time.Duration
	pendingBatchSize int

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SweeperConfig holds configuration for a sweeper
type SweeperConfig struct {
	Sessions         SessionCleaner
	Receipts         ReceiptRepo
	Chain            StatusClient
	CleanupInterval  time.Duration // default 5m
	TxStatusInterval time.Duration // default 1m
	PendingBatchSize int           // default 100
}

// NewSweeper creates a new sweeper
func NewSweeper(cfg *SweeperConfig) (*Sweeper, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session cleaner cannot be nil")
	}
	if cfg.Receipts == nil {
		return nil, fmt.Errorf("receipt repository cannot be nil")
	}
	if cfg.Chain == nil {
		return nil, fmt.Errorf("chain client cannot be nil")
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}
	txStatusInterval := cfg.TxStatusInterval
	if txStatusInterval == 0 {
		txStatusInterval = time.Minute
	}
	batch := cfg.PendingBatchSize
	if batch <= 0 {
		batch = 100
	}

	return &Sweeper{
		sessions:         cfg.Sessions,
		receipts:         cfg.Receipts,
		chain:            cfg.Chain,
		cleanupInterval:  cleanupInterval,
		txStatusInterval: txStatusInterval,
		pendingBatchSize: batch,
	}, nil
}

// Start launches the maintenance loops. Returns an error if already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)

	logging.WithFields(map[string]interface{}{
		"cleanup_interval":   s.cleanupInterval.String(),
		"tx_status_interval": s.txStatusInterval.String(),
	}).Info("Sweeper started")

	return nil
}

// Stop signals the loops to stop and waits for them to drain
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-s.doneCh:
		logging.Info("Sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneCh)

	cleanupTicker := time.NewTicker(s.cleanupInterval)
	defer cleanupTicker.Stop()
	statusTicker := time.NewTicker(s.txStatusInterval)
	defer statusTicker.Stop()

	// One immediate pass on startup so a restart cannot leave expired
	// keys resident for a full interval
	s.sweepSessions(ctx)
	s.pollReceipts(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-cleanupTicker.C:
			s.sweepSessions(ctx)
		case <-statusTicker.C:
			s.pollReceipts(ctx)
		}
	}
}

// sweepSessions runs one expired-session pass
func (s *Sweeper) sweepSessions(ctx context.Context) {
	keys, sessions, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		logging.WithFields(map[string]interface{}{"error": err.Error()}).Error("Session sweep failed")
		return
	}
	if keys > 0 || sessions > 0 {
		logging.WithFields(map[string]interface{}{
			"keys_cleared":     keys,
			"sessions_deleted": sessions,
		}).Info("Session sweep completed")
	}
}

// pollReceipts resolves pending receipts against the chain. Receipts
// still pending on chain stay pending; unknown hashes are left alone so
// a lagging node cannot fail them prematurely.
func (s *Sweeper) pollReceipts(ctx context.Context) {
	pending, err := s.receipts.ListPending(ctx, s.pendingBatchSize)
	if err != nil {
		logging.WithFields(map[string]interface{}{"error": err.Error()}).Error("Pending receipt listing failed")
		return
	}

	var confirmed, failed int
	for _, receipt := range pending {
		status, err := s.chain.TxStatus(ctx, receipt.TxHash)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"tx_hash": receipt.TxHash,
				"error":   err.Error(),
			}).Warn("Transaction status query failed")
			continue
		}

		switch status.Status {
		case "confirmed":
			if err := s.receipts.UpdateStatus(ctx, receipt.TxHash, types.StatusConfirmed, status.BlockNumber, nil); err == nil {
				confirmed++
			}
		case "failed":
			msg := status.Error
			var errMsg *string
			if msg != "" {
				errMsg = &msg
			}
			if err := s.receipts.UpdateStatus(ctx, receipt.TxHash, types.StatusFailed, status.BlockNumber, errMsg); err == nil {
				failed++
			}
		}
	}

	if confirmed > 0 || failed > 0 {
		logging.WithFields(map[string]interface{}{
			"confirmed": confirmed,
			"failed":    failed,
			"checked":   len(pending),
		}).Info("Pending receipts resolved")
	}
}
