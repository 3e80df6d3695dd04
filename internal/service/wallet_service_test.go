package service

import (
	"context"
	"testing"

	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/keyvault"
	"github.com/shield-wallet/internal/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type walletFixture struct {
	svc    *WalletService
	repo   *mockWalletRepo
	vault  *keyvault.Vault
	chain  *mockChain
	txRepo *mockTxRepo
}

func newWalletFixture(t *testing.T) *walletFixture {
	t.Helper()

	vault := keyvault.New(4, 1000)
	repo := newMockWalletRepo()
	chainClient := &mockChain{}
	txRepo := &mockTxRepo{}
	sessions := NewSessionService(newMockSessionRepo(), vault, testSessionConfig())

	return &walletFixture{
		svc:    NewWalletService(repo, vault, zk.NewMimcHasher(), chainClient, txRepo, sessions, "sepolia"),
		repo:   repo,
		vault:  vault,
		chain:  chainClient,
		txRepo: txRepo,
	}
}

func TestCreateWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an encrypted wallet", func(t *testing.T) {
		f := newWalletFixture(t)
		wallet, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)

		assert.NotEmpty(t, wallet.Address)
		assert.NotEmpty(t, wallet.PublicKey)
		assert.NotEqual(t, wallet.Address, wallet.PublicKey)
		assert.True(t, wallet.IsActive)
		assert.False(t, wallet.IsDeployed)
		assert.Equal(t, "sepolia", wallet.Network)

		// The stored key decrypts only under the creating password
		priv, err := f.vault.DecryptPrivateKey(wallet.EncryptedPrivateKey, testPassword, wallet.EncryptionSalt, wallet.IV)
		require.NoError(t, err)
		assert.NotEmpty(t, priv)
		_, err = f.vault.DecryptPrivateKey(wallet.EncryptedPrivateKey, "wrong", wallet.EncryptionSalt, wallet.IV)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "DECRYPTION_FAILED"))
	})

	t.Run("rotation deactivates the previous wallet", func(t *testing.T) {
		f := newWalletFixture(t)
		first, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)

		second, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)
		assert.NotEqual(t, first.Address, second.Address)

		active, err := f.svc.GetWalletByUserID(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		// The old record survives deactivated
		old, err := f.repo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, old.IsActive)
		assert.NotNil(t, old.DeactivatedAt)
	})

	t.Run("empty password", func(t *testing.T) {
		f := newWalletFixture(t)
		_, err := f.svc.CreateWallet(ctx, "user-1", "")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "INVALID_PARAMETER"))
	})
}

func TestDeployWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("marks deployed and records a receipt", func(t *testing.T) {
		f := newWalletFixture(t)
		_, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)

		deployed, err := f.svc.DeployWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)
		assert.True(t, deployed.IsDeployed)
		require.NotNil(t, deployed.DeploymentTxHash)
		assert.Equal(t, 1, f.chain.deployments)
		require.Len(t, f.txRepo.txns, 1)
		assert.Equal(t, "0", f.txRepo.txns[0].Amount)
	})

	t.Run("wrong password fails before any submission", func(t *testing.T) {
		f := newWalletFixture(t)
		_, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)

		_, err = f.svc.DeployWallet(ctx, "user-1", "wrong")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "DECRYPTION_FAILED"))
		assert.Equal(t, 0, f.chain.deployments)
	})

	t.Run("double deployment conflicts", func(t *testing.T) {
		f := newWalletFixture(t)
		_, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)
		_, err = f.svc.DeployWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)

		_, err = f.svc.DeployWallet(ctx, "user-1", testPassword)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "CONFLICT"))
	})
}

func TestRotatePassword(t *testing.T) {
	ctx := context.Background()
	const newPassword = "a-whole-new-secret"

	t.Run("re-encrypts under the new password", func(t *testing.T) {
		f := newWalletFixture(t)
		wallet, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)
		before, err := f.vault.DecryptPrivateKey(wallet.EncryptedPrivateKey, testPassword, wallet.EncryptionSalt, wallet.IV)
		require.NoError(t, err)

		require.NoError(t, f.svc.RotatePassword(ctx, "user-1", testPassword, newPassword))

		rotated, err := f.svc.GetWalletByUserID(ctx, "user-1")
		require.NoError(t, err)
		after, err := f.vault.DecryptPrivateKey(rotated.EncryptedPrivateKey, newPassword, rotated.EncryptionSalt, rotated.IV)
		require.NoError(t, err)
		assert.Equal(t, before, after) // same signing key, new envelope

		_, err = f.vault.DecryptPrivateKey(rotated.EncryptedPrivateKey, testPassword, rotated.EncryptionSalt, rotated.IV)
		require.Error(t, err)
	})

	t.Run("wrong old password", func(t *testing.T) {
		f := newWalletFixture(t)
		_, err := f.svc.CreateWallet(ctx, "user-1", testPassword)
		require.NoError(t, err)

		err = f.svc.RotatePassword(ctx, "user-1", "wrong", newPassword)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "DECRYPTION_FAILED"))
	})
}
