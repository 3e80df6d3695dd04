package service

import (
	"context"
	"time"

	"github.com/shield-wallet/internal/config"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/keyvault"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/models"
)

// SessionRepository interface for session data operations
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	GetLatestByUserID(ctx context.Context, userID string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	UpdatePasswordHashForUser(ctx context.Context, userID, passwordHash string) error
	Delete(ctx context.Context, token string) error
	ClearExpiredKeys(ctx context.Context, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionService owns the session lifecycle: creation, password
// verification with lockout, key unlock/lock and expiry. All mutating
// operations on one token are serialized through a keyed mutex so
// failed-attempt counting never loses updates.
type SessionService struct {
	repo  SessionRepository
	vault *keyvault.Vault
	cfg   config.SessionConfig
	locks *keyedMutex
	now   func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(repo SessionRepository, vault *keyvault.Vault, cfg config.SessionConfig) *SessionService {
	return &SessionService{
		repo:  repo,
		vault: vault,
		cfg:   cfg,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// CreateSession creates a fresh unverified session for the user with a
// newly generated opaque token
func (s *SessionService) CreateSession(ctx context.Context, userID, externalID, passwordHash string) (*models.Session, error) {
	token, err := s.vault.GenerateSessionToken()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to generate session token", err)
	}

	now := s.now()
	session := &models.Session{
		UserID:         userID,
		ExternalID:     externalID,
		SessionToken:   token,
		PasswordHash:   passwordHash,
		Key:            models.LockedKey(),
		ExpiresAt:      now.Add(s.cfg.TTL),
		LastActivityAt: now,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, apperrors.NewDatabaseError("create session", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"session_id": session.ID,
	}).Info("Session created")

	return session, nil
}

// GetOrCreateSession returns the user's latest session, creating a new
// one only when none exists or the latest has expired. A locked session
// within its TTL is returned as-is; re-creating it would reset the
// failed-attempt counter and void an active lockout.
func (s *SessionService) GetOrCreateSession(ctx context.Context, userID, externalID, passwordHash string) (*models.Session, error) {
	session, err := s.repo.GetLatestByUserID(ctx, userID)
	if err == nil && session.ExpiresAt.After(s.now()) {
		return session, nil
	}
	if err != nil && !apperrors.Is(err, "SESSION_NOT_FOUND") {
		return nil, err
	}
	return s.CreateSession(ctx, userID, externalID, passwordHash)
}

// GetSession retrieves a session by token, enforcing the absolute TTL
func (s *SessionService) GetSession(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !session.ExpiresAt.After(s.now()) {
		return nil, apperrors.NewSessionExpiredError()
	}
	return session, nil
}

// UnlockWallet verifies the password and, on success, decrypts the
// wallet's private key into the session for the configured unlock TTL.
// Wrong passwords count toward lockout; a lockout in effect rejects even
// the correct password.
func (s *SessionService) UnlockWallet(ctx context.Context, token, password string, wallet *models.Wallet) (*models.Session, error) {
	s.locks.Lock(token)
	defer s.locks.Unlock(token)

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !session.ExpiresAt.After(now) {
		return nil, apperrors.NewSessionExpiredError()
	}

	// A failure lockout clears itself once its window passes
	if session.LockedUntil != nil && !session.LockedUntil.After(now) {
		session.IsLocked = false
		session.LockedUntil = nil
		session.FailedAttempts = 0
	}

	if session.IsLockedOut(now) {
		return nil, apperrors.NewWalletLockedError()
	}

	if !s.vault.VerifyPassword(password, session.PasswordHash) {
		session.FailedAttempts++
		if session.FailedAttempts >= s.cfg.MaxFailedAttempts {
			lockedUntil := now.Add(s.cfg.LockoutDuration)
			session.IsLocked = true
			session.LockedUntil = &lockedUntil
			if err := s.repo.Update(ctx, session); err != nil {
				return nil, apperrors.NewDatabaseError("update session", err)
			}
			logging.FromContext(ctx).WithField("session_id", session.ID).
				Warn("Session locked after repeated failed password attempts")
			return nil, apperrors.NewTooManyAttemptsError(int(s.cfg.LockoutDuration.Minutes()))
		}
		if err := s.repo.Update(ctx, session); err != nil {
			return nil, apperrors.NewDatabaseError("update session", err)
		}
		return nil, apperrors.NewInvalidPasswordError(s.cfg.MaxFailedAttempts - session.FailedAttempts)
	}

	privateKey, err := s.vault.DecryptPrivateKey(wallet.EncryptedPrivateKey, password, wallet.EncryptionSalt, wallet.IV)
	if err != nil {
		return nil, err
	}

	session.FailedAttempts = 0
	session.IsLocked = false
	session.LockedUntil = nil
	session.IsVerified = true
	session.LastVerifiedAt = &now
	session.WalletAddress = wallet.Address
	session.Key = models.UnlockedKey(privateKey, now, now.Add(s.cfg.KeyUnlockTTL))
	session.LastActivityAt = now

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, apperrors.NewDatabaseError("update session", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"session_id": session.ID,
		"expires_at": session.Key.ExpiresAt(),
	}).Info("Wallet unlocked")

	return session, nil
}

// GetDecryptedKey returns the resident key while the unlock TTL holds.
// It refreshes last-activity as a side effect but never extends the
// unlock itself.
func (s *SessionService) GetDecryptedKey(ctx context.Context, token string) (string, error) {
	s.locks.Lock(token)
	defer s.locks.Unlock(token)

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return "", err
	}

	now := s.now()
	key, ok := session.Key.Key(now)
	if !ok {
		return "", apperrors.NewNotUnlockedError()
	}

	session.LastActivityAt = now
	if err := s.repo.Update(ctx, session); err != nil {
		return "", apperrors.NewDatabaseError("update session", err)
	}

	return key, nil
}

// IsWalletUnlocked reports whether the session currently holds an
// unexpired key. It never returns an error; unknown tokens read as locked.
func (s *SessionService) IsWalletUnlocked(ctx context.Context, token string) bool {
	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return false
	}
	return session.Key.IsUnlocked(s.now())
}

// LockWallet evicts the resident key; the session itself stays valid
func (s *SessionService) LockWallet(ctx context.Context, token string) error {
	s.locks.Lock(token)
	defer s.locks.Unlock(token)

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return err
	}

	session.Key = models.LockedKey()
	if err := s.repo.Update(ctx, session); err != nil {
		return apperrors.NewDatabaseError("update session", err)
	}
	return nil
}

// LockSession hard-locks the session and evicts key material. Used on
// suspected compromise; only a lockout expiry path never touches it.
func (s *SessionService) LockSession(ctx context.Context, token string) error {
	s.locks.Lock(token)
	defer s.locks.Unlock(token)

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return err
	}

	session.Key = models.LockedKey()
	session.IsLocked = true
	if err := s.repo.Update(ctx, session); err != nil {
		return apperrors.NewDatabaseError("update session", err)
	}

	logging.FromContext(ctx).WithField("session_id", session.ID).Warn("Session hard-locked")
	return nil
}

// ExtendKeyUnlock pushes the unlock expiry forward by the given number
// of minutes. Extending a locked wallet is a validation error.
func (s *SessionService) ExtendKeyUnlock(ctx context.Context, token string, minutes int) (*models.Session, error) {
	if minutes <= 0 {
		return nil, apperrors.NewValidationError("minutes", "must be positive")
	}

	s.locks.Lock(token)
	defer s.locks.Unlock(token)

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !session.Key.IsUnlocked(now) {
		return nil, apperrors.NewValidationError("session", "no key is currently unlocked")
	}

	session.Key = session.Key.Extended(session.Key.ExpiresAt().Add(time.Duration(minutes) * time.Minute))
	session.LastActivityAt = now
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, apperrors.NewDatabaseError("update session", err)
	}

	return session, nil
}

// InvalidateSession hard-deletes the session
func (s *SessionService) InvalidateSession(ctx context.Context, token string) error {
	s.locks.Lock(token)
	defer s.locks.Unlock(token)

	return s.repo.Delete(ctx, token)
}

// UpdatePasswordHashForUser propagates a password rotation to every
// session of the user, forcing re-authentication everywhere
func (s *SessionService) UpdatePasswordHashForUser(ctx context.Context, userID, newHash string) error {
	if err := s.repo.UpdatePasswordHashForUser(ctx, userID, newHash); err != nil {
		return apperrors.NewDatabaseError("update session password hashes", err)
	}

	logging.FromContext(ctx).WithField("user_id", userID).
		Info("Password rotation propagated to sessions")
	return nil
}

// CleanupExpired scrubs expired key material and deletes sessions past
// their absolute TTL. Idempotent and safe to run concurrently with live
// unlock calls: it only ever moves state toward locked or expired.
func (s *SessionService) CleanupExpired(ctx context.Context) (keysCleared, sessionsDeleted int64, err error) {
	now := s.now()

	keysCleared, err = s.repo.ClearExpiredKeys(ctx, now)
	if err != nil {
		return 0, 0, apperrors.NewDatabaseError("clear expired keys", err)
	}

	sessionsDeleted, err = s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return keysCleared, 0, apperrors.NewDatabaseError("delete expired sessions", err)
	}

	if keysCleared > 0 || sessionsDeleted > 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"keys_cleared":     keysCleared,
			"sessions_deleted": sessionsDeleted,
		}).Info("Expired session state swept")
	}

	return keysCleared, sessionsDeleted, nil
}
