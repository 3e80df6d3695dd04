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
)

const sessionColumns = `id, user_id, external_id, session_token, password_hash, is_verified,
		last_verified_at, failed_attempts, is_locked, locked_until, wallet_address,
		decrypted_key, key_unlocked_at, key_expires_at,
		expires_at, last_activity_at, created_at, updated_at`

// SessionRepository handles session data persistence.
// The key-unlock state is stored across three nullable columns and
// reassembled into the KeyState variant on scan.
type SessionRepository struct {
	db *PostgresDB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *PostgresDB) *SessionRepository {
	return &SessionRepository{db: db}
}

func keyStateColumns(key models.KeyState) (decryptedKey *string, unlockedAt, expiresAt *time.Time) {
	raw, unlocked := key.RawKey()
	if !unlocked {
		return nil, nil, nil
	}
	ua := key.UnlockedAt()
	ea := key.ExpiresAt()
	return &raw, &ua, &ea
}

func assembleKeyState(decryptedKey *string, unlockedAt, expiresAt *time.Time) models.KeyState {
	if decryptedKey == nil || unlockedAt == nil || expiresAt == nil {
		return models.LockedKey()
	}
	return models.UnlockedKey(*decryptedKey, *unlockedAt, *expiresAt)
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	decryptedKey, keyUnlockedAt, keyExpiresAt := keyStateColumns(session.Key)

	query := `
		INSERT INTO sessions (id, user_id, external_id, session_token, password_hash, is_verified,
			last_verified_at, failed_attempts, is_locked, locked_until, wallet_address,
			decrypted_key, key_unlocked_at, key_expires_at,
			expires_at, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		session.ID,
		session.UserID,
		session.ExternalID,
		session.SessionToken,
		session.PasswordHash,
		session.IsVerified,
		session.LastVerifiedAt,
		session.FailedAttempts,
		session.IsLocked,
		session.LockedUntil,
		session.WalletAddress,
		decryptedKey,
		keyUnlockedAt,
		keyExpiresAt,
		session.ExpiresAt,
		session.LastActivityAt,
		session.CreatedAt,
		session.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var decryptedKey *string
	var keyUnlockedAt, keyExpiresAt *time.Time

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ExternalID,
		&s.SessionToken,
		&s.PasswordHash,
		&s.IsVerified,
		&s.LastVerifiedAt,
		&s.FailedAttempts,
		&s.IsLocked,
		&s.LockedUntil,
		&s.WalletAddress,
		&decryptedKey,
		&keyUnlockedAt,
		&keyExpiresAt,
		&s.ExpiresAt,
		&s.LastActivityAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Key = assembleKeyState(decryptedKey, keyUnlockedAt, keyExpiresAt)
	return &s, nil
}

// GetByToken retrieves a session by its opaque token
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_token = $1`

	session, err := scanSession(r.db.Pool().QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewSessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetLatestByUserID retrieves the user's most recent session
func (r *SessionRepository) GetLatestByUserID(ctx context.Context, userID string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	session, err := scanSession(r.db.Pool().QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewSessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to get session for user: %w", err)
	}
	return session, nil
}

// Update writes back the full mutable state of a session
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()

	decryptedKey, keyUnlockedAt, keyExpiresAt := keyStateColumns(session.Key)

	query := `
		UPDATE sessions
		SET password_hash = $2, is_verified = $3, last_verified_at = $4,
			failed_attempts = $5, is_locked = $6, locked_until = $7,
			wallet_address = $8, decrypted_key = $9, key_unlocked_at = $10,
			key_expires_at = $11, expires_at = $12, last_activity_at = $13,
			updated_at = $14
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		session.ID,
		session.PasswordHash,
		session.IsVerified,
		session.LastVerifiedAt,
		session.FailedAttempts,
		session.IsLocked,
		session.LockedUntil,
		session.WalletAddress,
		decryptedKey,
		keyUnlockedAt,
		keyExpiresAt,
		session.ExpiresAt,
		session.LastActivityAt,
		session.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewSessionNotFoundError()
	}
	return nil
}

// UpdatePasswordHashForUser rewrites the cached password hash on every
// session of the user. Rotation invalidates verification state and evicts
// any resident key, so every session has to re-authenticate.
func (r *SessionRepository) UpdatePasswordHashForUser(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE sessions
		SET password_hash = $2, is_verified = FALSE, failed_attempts = 0,
			decrypted_key = NULL, key_unlocked_at = NULL, key_expires_at = NULL,
			updated_at = $3
		WHERE user_id = $1
	`

	if _, err := r.db.Pool().Exec(ctx, query, userID, passwordHash, time.Now()); err != nil {
		return fmt.Errorf("failed to update session password hashes: %w", err)
	}
	return nil
}

// Delete removes a session by token
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewSessionNotFoundError()
	}
	return nil
}

// ClearExpiredKeys drops resident decrypted keys whose unlock TTL has
// passed, returning the number of sessions scrubbed
func (r *SessionRepository) ClearExpiredKeys(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE sessions
		SET decrypted_key = NULL, key_unlocked_at = NULL, key_expires_at = NULL, updated_at = $1
		WHERE key_expires_at IS NOT NULL AND key_expires_at <= $1
	`

	result, err := r.db.Pool().Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired keys: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions past their absolute TTL, returning the
// number removed
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
