package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
)

const transactionColumns = `id, user_id, wallet_address, tx_hash, type, token_address, token_symbol,
		amount::text, recipient_address, status, block_number, error_message, created_at, updated_at`

// TransactionRepository handles audit receipt persistence
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.Status == "" {
		txn.Status = types.StatusPending
	}

	now := time.Now()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	query := `
		INSERT INTO transactions (id, user_id, wallet_address, tx_hash, type, token_address, token_symbol,
			amount, recipient_address, status, block_number, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)
	`

	_, err := tx.Exec(ctx, query,
		txn.ID,
		txn.UserID,
		txn.WalletAddress,
		txn.TxHash,
		txn.Type,
		txn.TokenAddress,
		txn.TokenSymbol,
		txn.Amount,
		txn.RecipientAddress,
		txn.Status,
		txn.BlockNumber,
		txn.ErrorMessage,
		txn.CreatedAt,
		txn.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Create records a new transaction receipt
func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // nolint:errcheck // no-op after commit

	if err := insertTransactionTx(ctx, tx, txn); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.WalletAddress,
		&t.TxHash,
		&t.Type,
		&t.TokenAddress,
		&t.TokenSymbol,
		&t.Amount,
		&t.RecipientAddress,
		&t.Status,
		&t.BlockNumber,
		&t.ErrorMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := scanTransaction(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("transaction", id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetByTxHash retrieves a transaction by chain hash
func (r *TransactionRepository) GetByTxHash(ctx context.Context, txHash string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tx_hash = $1`

	txn, err := scanTransaction(r.db.Pool().QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("transaction", txHash)
		}
		return nil, fmt.Errorf("failed to get transaction by hash: %w", err)
	}
	return txn, nil
}

// ListByUser retrieves the user's transactions, newest first
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

// ListPending retrieves receipts still awaiting a terminal chain status
func (r *TransactionRepository) ListPending(ctx context.Context, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, types.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

// UpdateStatus records the chain outcome for a transaction
func (r *TransactionRepository) UpdateStatus(ctx context.Context, txHash string, status types.TransactionStatus, blockNumber *uint64, errorMessage *string) error {
	query := `
		UPDATE transactions
		SET status = $2, block_number = $3, error_message = $4, updated_at = $5
		WHERE tx_hash = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, txHash, status, blockNumber, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("transaction", txHash)
	}
	return nil
}
