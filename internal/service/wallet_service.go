package service

import (
	"context"
	"math/big"

	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/keyvault"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
	"github.com/shield-wallet/internal/zk"
)

// WalletRepository interface for wallet data operations
type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByID(ctx context.Context, id string) (*models.Wallet, error)
	GetActiveByUserID(ctx context.Context, userID string) (*models.Wallet, error)
	GetByAddress(ctx context.Context, address string) (*models.Wallet, error)
	Deactivate(ctx context.Context, id string) error
	MarkDeployed(ctx context.Context, id, txHash string) error
	UpdateEncryption(ctx context.Context, id, passwordHash, encryptedPrivateKey, salt, iv string) error
	ExistsActiveForUser(ctx context.Context, userID string) (bool, error)
}

// AccountDeployer deploys the account contract for a wallet on chain
type AccountDeployer interface {
	DeployAccount(ctx context.Context, address, publicKey, privateKey string) (txHash string, err error)
}

// TransactionRecorder records audit receipts
type TransactionRecorder interface {
	Create(ctx context.Context, txn *models.Transaction) error
}

// WalletService owns custodial wallet lifecycle: key generation,
// encryption under the user's password, deployment and password rotation.
type WalletService struct {
	repo     WalletRepository
	vault    *keyvault.Vault
	hasher   zk.Hasher
	deployer AccountDeployer
	receipts TransactionRecorder
	sessions *SessionService
	network  string
}

// NewWalletService creates a new wallet service
func NewWalletService(
	repo WalletRepository,
	vault *keyvault.Vault,
	hasher zk.Hasher,
	deployer AccountDeployer,
	receipts TransactionRecorder,
	sessions *SessionService,
	network string,
) *WalletService {
	return &WalletService{
		repo:     repo,
		vault:    vault,
		hasher:   hasher,
		deployer: deployer,
		receipts: receipts,
		sessions: sessions,
		network:  network,
	}
}

// deriveKeypair maps a private key onto its public key and account
// address. The chain-side derivation is opaque; the backend only needs
// the mapping to be deterministic and collision-resistant.
func (s *WalletService) deriveKeypair(privateKey string) (publicKey, address string, err error) {
	priv, err := zk.ParseFelt(privateKey)
	if err != nil {
		return "", "", apperrors.NewInternalError("invalid generated key", err)
	}
	pub := s.hasher.H2(priv, big.NewInt(0))
	addr := s.hasher.H2(pub, big.NewInt(1))
	return zk.FeltHex(pub), zk.FeltHex(addr), nil
}

// CreateWallet generates a fresh keypair, encrypts the private key under
// the password and persists the wallet. An existing active wallet is
// deactivated first; the old record survives for audit.
func (s *WalletService) CreateWallet(ctx context.Context, userID, password string) (*models.Wallet, error) {
	if password == "" {
		return nil, apperrors.NewValidationError("password", "must not be empty")
	}

	if existing, err := s.repo.GetActiveByUserID(ctx, userID); err == nil {
		if err := s.repo.Deactivate(ctx, existing.ID); err != nil {
			return nil, err
		}
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"user_id":   userID,
			"wallet_id": existing.ID,
		}).Info("Previous wallet deactivated for rotation")
	} else if !apperrors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	privateKey, err := s.vault.GeneratePrivateKey()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to generate private key", err)
	}

	publicKey, address, err := s.deriveKeypair(privateKey)
	if err != nil {
		return nil, err
	}

	passwordHash, err := s.vault.HashPassword(password)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to hash password", err)
	}

	salt, err := s.vault.GenerateSalt()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to generate salt", err)
	}

	ciphertext, iv, err := s.vault.EncryptPrivateKey(privateKey, password, salt)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encrypt private key", err)
	}

	wallet := &models.Wallet{
		UserID:              userID,
		Address:             address,
		PublicKey:           publicKey,
		EncryptedPrivateKey: ciphertext,
		PasswordHash:        passwordHash,
		EncryptionSalt:      salt,
		IV:                  iv,
		Network:             s.network,
		IsActive:            true,
		IsDeployed:          false,
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"address": address,
	}).Info("Wallet created")

	return wallet, nil
}

// GetWalletByUserID returns the user's active wallet
func (s *WalletService) GetWalletByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	return s.repo.GetActiveByUserID(ctx, userID)
}

// GetWalletByAddress returns the wallet holding the given chain address
func (s *WalletService) GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	return s.repo.GetByAddress(ctx, address)
}

// DeployWallet decrypts the signing key and submits the account
// deployment. The wallet flips to deployed only after the chain accepts.
func (s *WalletService) DeployWallet(ctx context.Context, userID, password string) (*models.Wallet, error) {
	wallet, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if wallet.IsDeployed {
		return nil, apperrors.NewConflictError("wallet is already deployed")
	}

	privateKey, err := s.vault.DecryptPrivateKey(wallet.EncryptedPrivateKey, password, wallet.EncryptionSalt, wallet.IV)
	if err != nil {
		return nil, err
	}

	txHash, err := s.deployer.DeployAccount(ctx, wallet.Address, wallet.PublicKey, privateKey)
	if err != nil {
		return nil, apperrors.NewOperationFailedError("account deployment", err)
	}

	if err := s.repo.MarkDeployed(ctx, wallet.ID, txHash); err != nil {
		return nil, err
	}

	receipt := &models.Transaction{
		UserID:        userID,
		WalletAddress: wallet.Address,
		TxHash:        txHash,
		Type:          types.TxTypeDeploy,
		TokenAddress:  "",
		Amount:        "0",
		Status:        types.StatusPending,
	}
	if err := s.receipts.Create(ctx, receipt); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record deployment receipt")
	}

	wallet.IsDeployed = true
	wallet.DeploymentTxHash = &txHash

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"address": wallet.Address,
		"tx_hash": txHash,
	}).Info("Wallet deployment submitted")

	return wallet, nil
}

// RotatePassword re-encrypts the signing key under a new password. The
// old password must decrypt the key first; a wrong password surfaces as
// a decryption failure. Every session of the user is forced to
// re-authenticate afterwards.
func (s *WalletService) RotatePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return apperrors.NewValidationError("newPassword", "must not be empty")
	}

	wallet, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}

	privateKey, err := s.vault.DecryptPrivateKey(wallet.EncryptedPrivateKey, oldPassword, wallet.EncryptionSalt, wallet.IV)
	if err != nil {
		return err
	}

	newHash, err := s.vault.HashPassword(newPassword)
	if err != nil {
		return apperrors.NewInternalError("failed to hash password", err)
	}

	newSalt, err := s.vault.GenerateSalt()
	if err != nil {
		return apperrors.NewInternalError("failed to generate salt", err)
	}

	ciphertext, iv, err := s.vault.EncryptPrivateKey(privateKey, newPassword, newSalt)
	if err != nil {
		return apperrors.NewInternalError("failed to re-encrypt private key", err)
	}

	if err := s.repo.UpdateEncryption(ctx, wallet.ID, newHash, ciphertext, newSalt, iv); err != nil {
		return err
	}

	if err := s.sessions.UpdatePasswordHashForUser(ctx, userID, newHash); err != nil {
		return err
	}

	logging.FromContext(ctx).WithField("user_id", userID).Info("Wallet password rotated")
	return nil
}
