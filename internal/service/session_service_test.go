package service

import (
	"context"
	"testing"
	"time"

	"github.com/shield-wallet/internal/config"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/keyvault"
	"github.com/shield-wallet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TTL:               24 * time.Hour,
		KeyUnlockTTL:      30 * time.Minute,
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
	}
}

// sessionFixture wires a SessionService against in-memory state with a
// controllable clock and a wallet sealed with testPassword.
type sessionFixture struct {
	svc    *SessionService
	repo   *mockSessionRepo
	wallet *models.Wallet
	now    time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	vault := keyvault.New(4, 1000) // low work factors keep the test fast
	repo := newMockSessionRepo()
	svc := NewSessionService(repo, vault, testSessionConfig())

	f := &sessionFixture{
		svc:  svc,
		repo: repo,
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.now }

	hash, err := vault.HashPassword(testPassword)
	require.NoError(t, err)

	priv, err := vault.GeneratePrivateKey()
	require.NoError(t, err)
	salt, err := vault.GenerateSalt()
	require.NoError(t, err)
	ciphertext, iv, err := vault.EncryptPrivateKey(priv, testPassword, salt)
	require.NoError(t, err)

	f.wallet = &models.Wallet{
		ID:                  "wallet-1",
		UserID:              "user-1",
		Address:             "0xabc123",
		EncryptedPrivateKey: ciphertext,
		PasswordHash:        hash,
		EncryptionSalt:      salt,
		IV:                  iv,
		IsActive:            true,
	}
	return f
}

func (f *sessionFixture) createSession(t *testing.T) *models.Session {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), "user-1", "ext-1", f.wallet.PasswordHash)
	require.NoError(t, err)
	return session
}

func (f *sessionFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestCreateSession(t *testing.T) {
	f := newSessionFixture(t)
	session := f.createSession(t)

	assert.Len(t, session.SessionToken, 64)
	assert.False(t, session.IsVerified)
	assert.Equal(t, f.now.Add(24*time.Hour), session.ExpiresAt)
	assert.False(t, session.Key.IsUnlocked(f.now))
}

func TestGetOrCreateSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetOrCreateSession(ctx, "user-1", "ext-1", f.wallet.PasswordHash)
	require.NoError(t, err)

	t.Run("reuses valid session", func(t *testing.T) {
		again, err := f.svc.GetOrCreateSession(ctx, "user-1", "ext-1", f.wallet.PasswordHash)
		require.NoError(t, err)
		assert.Equal(t, first.SessionToken, again.SessionToken)
	})

	t.Run("creates fresh session after expiry", func(t *testing.T) {
		f.advance(25 * time.Hour)
		fresh, err := f.svc.GetOrCreateSession(ctx, "user-1", "ext-1", f.wallet.PasswordHash)
		require.NoError(t, err)
		assert.NotEqual(t, first.SessionToken, fresh.SessionToken)
	})
}

func TestGetOrCreateSessionKeepsLockout(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session := f.createSession(t)
	for i := 0; i < 5; i++ {
		_, err := f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
		require.Error(t, err)
	}

	// The locked session is handed back untouched; a fresh one would
	// carry a clean failed-attempt counter and void the lockout.
	same, err := f.svc.GetOrCreateSession(ctx, "user-1", "ext-1", f.wallet.PasswordHash)
	require.NoError(t, err)
	assert.Equal(t, session.SessionToken, same.SessionToken)

	_, err = f.svc.UnlockWallet(ctx, same.SessionToken, testPassword, f.wallet)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, "WALLET_LOCKED"))
}

func TestUnlockWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("correct password unlocks key for the unlock TTL", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)

		unlocked, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.NoError(t, err)
		assert.True(t, unlocked.IsVerified)
		assert.Equal(t, f.wallet.Address, unlocked.WalletAddress)
		assert.True(t, unlocked.Key.IsUnlocked(f.now))
		assert.Equal(t, f.now.Add(30*time.Minute), unlocked.Key.ExpiresAt())

		key, err := f.svc.GetDecryptedKey(ctx, session.SessionToken)
		require.NoError(t, err)
		assert.NotEmpty(t, key)
	})

	t.Run("wrong password counts down remaining attempts", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)

		_, err := f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "INVALID_PASSWORD"))
		assert.False(t, f.svc.IsWalletUnlocked(ctx, session.SessionToken))
	})

	t.Run("fifth failure locks the session out", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)

		var err error
		for i := 0; i < 5; i++ {
			_, err = f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
			require.Error(t, err)
		}
		assert.True(t, apperrors.Is(err, "TOO_MANY_ATTEMPTS"))

		// The correct password is rejected while the lockout holds
		_, err = f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "WALLET_LOCKED"))
	})

	t.Run("lockout clears after its window passes", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)

		for i := 0; i < 5; i++ {
			f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
		}
		f.advance(31 * time.Minute)

		unlocked, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.NoError(t, err)
		assert.True(t, unlocked.Key.IsUnlocked(f.now))
		assert.Equal(t, 0, unlocked.FailedAttempts)
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)

		f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
		f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
		unlocked, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.NoError(t, err)
		assert.Equal(t, 0, unlocked.FailedAttempts)

		// The counter starts from zero again
		_, err = f.svc.UnlockWallet(ctx, session.SessionToken, "wrong", f.wallet)
		assert.True(t, apperrors.Is(err, "INVALID_PASSWORD"))
	})

	t.Run("expired session rejects unlock", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)
		f.advance(25 * time.Hour)

		_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "SESSION_EXPIRED"))
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newSessionFixture(t)
		_, err := f.svc.UnlockWallet(ctx, "nope", testPassword, f.wallet)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "SESSION_NOT_FOUND"))
	})
}

func TestGetDecryptedKey(t *testing.T) {
	ctx := context.Background()

	t.Run("locked session", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)

		_, err := f.svc.GetDecryptedKey(ctx, session.SessionToken)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "NOT_UNLOCKED"))
	})

	t.Run("key expires after the unlock TTL", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)
		_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.NoError(t, err)

		f.advance(29 * time.Minute)
		_, err = f.svc.GetDecryptedKey(ctx, session.SessionToken)
		require.NoError(t, err)

		f.advance(2 * time.Minute)
		_, err = f.svc.GetDecryptedKey(ctx, session.SessionToken)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "NOT_UNLOCKED"))
	})

	t.Run("reads do not extend the unlock TTL", func(t *testing.T) {
		f := newSessionFixture(t)
		session := f.createSession(t)
		_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			f.advance(9 * time.Minute)
			_, err = f.svc.GetDecryptedKey(ctx, session.SessionToken)
			require.NoError(t, err)
		}
		f.advance(4 * time.Minute) // 31 minutes since unlock
		_, err = f.svc.GetDecryptedKey(ctx, session.SessionToken)
		require.Error(t, err)
	})
}

func TestLockWallet(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
	require.NoError(t, err)
	require.True(t, f.svc.IsWalletUnlocked(ctx, session.SessionToken))

	require.NoError(t, f.svc.LockWallet(ctx, session.SessionToken))
	assert.False(t, f.svc.IsWalletUnlocked(ctx, session.SessionToken))

	// The session itself stays usable
	got, err := f.svc.GetSession(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.False(t, got.IsLocked)
}

func TestLockSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
	require.NoError(t, err)

	require.NoError(t, f.svc.LockSession(ctx, session.SessionToken))

	_, err = f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, "WALLET_LOCKED"))
}

func TestExtendKeyUnlock(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	t.Run("rejects extension while locked", func(t *testing.T) {
		_, err := f.svc.ExtendKeyUnlock(ctx, session.SessionToken, 10)
		require.Error(t, err)
	})

	_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
	require.NoError(t, err)

	t.Run("pushes the key expiry forward", func(t *testing.T) {
		extended, err := f.svc.ExtendKeyUnlock(ctx, session.SessionToken, 15)
		require.NoError(t, err)
		// Extension adds to the current expiry, not to now
		assert.Equal(t, f.now.Add(45*time.Minute), extended.Key.ExpiresAt())
	})

	t.Run("rejects non-positive minutes", func(t *testing.T) {
		_, err := f.svc.ExtendKeyUnlock(ctx, session.SessionToken, 0)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "INVALID_PARAMETER"))
	})
}

func TestInvalidateSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	require.NoError(t, f.svc.InvalidateSession(ctx, session.SessionToken))

	_, err := f.svc.GetSession(ctx, session.SessionToken)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, "SESSION_NOT_FOUND"))
}

func TestUpdatePasswordHashForUser(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdatePasswordHashForUser(ctx, "user-1", "new-hash"))

	// Rotation evicts resident keys and verification across the user's sessions
	assert.False(t, f.svc.IsWalletUnlocked(ctx, session.SessionToken))
	got, err := f.svc.GetSession(ctx, session.SessionToken)
	require.NoError(t, err)
	assert.False(t, got.IsVerified)
	assert.Equal(t, "new-hash", got.PasswordHash)
}

func TestCleanupExpired(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	_, err := f.svc.UnlockWallet(ctx, session.SessionToken, testPassword, f.wallet)
	require.NoError(t, err)

	f.advance(31 * time.Minute)
	keys, sessions, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), keys)
	assert.Equal(t, int64(0), sessions)

	f.advance(24 * time.Hour)
	keys, sessions, err = f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), keys)
	assert.Equal(t, int64(1), sessions)
}
