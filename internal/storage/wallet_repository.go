package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
)

const walletColumns = `id, user_id, address, public_key, encrypted_private_key, password_hash,
		encryption_salt, iv, network, is_active, is_deployed, deployment_tx_hash,
		created_at, updated_at, deactivated_at`

// WalletRepository handles wallet data persistence
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create creates a new wallet record. A partial unique index on
// (user_id) WHERE is_active enforces one active wallet per user.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}

	now := time.Now()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now

	query := `
		INSERT INTO wallets (id, user_id, address, public_key, encrypted_private_key, password_hash,
			encryption_salt, iv, network, is_active, is_deployed, deployment_tx_hash,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Address,
		wallet.PublicKey,
		wallet.EncryptedPrivateKey,
		wallet.PasswordHash,
		wallet.EncryptionSalt,
		wallet.IV,
		wallet.Network,
		wallet.IsActive,
		wallet.IsDeployed,
		wallet.DeploymentTxHash,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.NewConflictError(fmt.Sprintf("active wallet already exists for user %s", wallet.UserID))
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Address,
		&w.PublicKey,
		&w.EncryptedPrivateKey,
		&w.PasswordHash,
		&w.EncryptionSalt,
		&w.IV,
		&w.Network,
		&w.IsActive,
		&w.IsDeployed,
		&w.DeploymentTxHash,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	wallet, err := scanWallet(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wallet", id)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// GetActiveByUserID retrieves the user's active wallet
func (r *WalletRepository) GetActiveByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND is_active = TRUE`

	wallet, err := scanWallet(r.db.Pool().QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wallet", userID)
		}
		return nil, fmt.Errorf("failed to get active wallet: %w", err)
	}
	return wallet, nil
}

// GetByAddress retrieves a wallet by chain address
func (r *WalletRepository) GetByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`

	wallet, err := scanWallet(r.db.Pool().QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wallet", address)
		}
		return nil, fmt.Errorf("failed to get wallet by address: %w", err)
	}
	return wallet, nil
}

// ListByUserID retrieves all wallets for a user, active first then by recency
func (r *WalletRepository) ListByUserID(ctx context.Context, userID string) ([]*models.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = $1
		ORDER BY is_active DESC, created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}

	return wallets, nil
}

// Deactivate retires a wallet without deleting it
func (r *WalletRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE wallets
		SET is_active = FALSE, deactivated_at = $2, updated_at = $2
		WHERE id = $1 AND is_active = TRUE
	`

	result, err := r.db.Pool().Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to deactivate wallet: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wallet", id)
	}
	return nil
}

// MarkDeployed records the account-deployment transaction hash
func (r *WalletRepository) MarkDeployed(ctx context.Context, id, txHash string) error {
	query := `
		UPDATE wallets
		SET is_deployed = TRUE, deployment_tx_hash = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, txHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark wallet deployed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wallet", id)
	}
	return nil
}

// UpdateEncryption rewrites the password hash and key-encryption material.
// Used by password rotation: the private key is re-encrypted under the new
// password-derived key in the same statement.
func (r *WalletRepository) UpdateEncryption(ctx context.Context, id, passwordHash, encryptedPrivateKey, salt, iv string) error {
	query := `
		UPDATE wallets
		SET password_hash = $2, encrypted_private_key = $3, encryption_salt = $4, iv = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, passwordHash, encryptedPrivateKey, salt, iv, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update wallet encryption: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wallet", id)
	}
	return nil
}

// ExistsActiveForUser checks whether the user already has an active wallet
func (r *WalletRepository) ExistsActiveForUser(ctx context.Context, userID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1 AND is_active = TRUE)`

	if err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check wallet existence: %w", err)
	}
	return exists, nil
}
