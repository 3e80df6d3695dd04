package models

import "time"

// KeyState is the unlock state of a session's signing key. It is a tagged
// variant rather than independently nullable fields so an inconsistent
// combination (key without expiry, expiry without key) cannot be represented.
type KeyState struct {
	key        string
	unlockedAt time.Time
	expiresAt  time.Time
	unlocked   bool
}

// LockedKey returns the locked key state
func LockedKey() KeyState {
	return KeyState{}
}

// UnlockedKey returns an unlocked key state holding the decrypted key
// until expiresAt
func UnlockedKey(key string, unlockedAt, expiresAt time.Time) KeyState {
	return KeyState{key: key, unlockedAt: unlockedAt, expiresAt: expiresAt, unlocked: true}
}

// Key returns the resident decrypted key if the state is unlocked at now.
// This is the single unlocked predicate the rest of the system relies on.
func (k KeyState) Key(now time.Time) (string, bool) {
	if !k.unlocked || !now.Before(k.expiresAt) {
		return "", false
	}
	return k.key, true
}

// IsUnlocked reports whether a key is resident and unexpired at now
func (k KeyState) IsUnlocked(now time.Time) bool {
	_, ok := k.Key(now)
	return ok
}

// RawKey returns the stored key material regardless of expiry. Persistence
// uses it to round-trip an unlocked state; everything else goes through Key.
func (k KeyState) RawKey() (string, bool) {
	return k.key, k.unlocked
}

// UnlockedAt returns when the key was decrypted, zero if locked
func (k KeyState) UnlockedAt() time.Time { return k.unlockedAt }

// ExpiresAt returns when the resident key expires, zero if locked
func (k KeyState) ExpiresAt() time.Time { return k.expiresAt }

// Extended returns a copy of an unlocked state with the expiry pushed to expiresAt.
// Extending a locked state is a no-op.
func (k KeyState) Extended(expiresAt time.Time) KeyState {
	if !k.unlocked {
		return k
	}
	k.expiresAt = expiresAt
	return k
}

// Session ties a user identity to an opaque session token and owns the
// password-verification and key-unlock lifecycle.
type Session struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"userId" db:"user_id"`
	ExternalID     string     `json:"externalId" db:"external_id"`
	SessionToken   string     `json:"-" db:"session_token"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	IsVerified     bool       `json:"isVerified" db:"is_verified"`
	LastVerifiedAt *time.Time `json:"lastVerifiedAt,omitempty" db:"last_verified_at"`
	FailedAttempts int        `json:"failedAttempts" db:"failed_attempts"`
	IsLocked       bool       `json:"isLocked" db:"is_locked"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty" db:"locked_until"`
	WalletAddress  string     `json:"walletAddress,omitempty" db:"wallet_address"`
	Key            KeyState   `json:"-"`
	ExpiresAt      time.Time  `json:"expiresAt" db:"expires_at"`
	LastActivityAt time.Time  `json:"lastActivityAt" db:"last_activity_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsLockedOut reports whether a failure lockout is in effect at now
func (s *Session) IsLockedOut(now time.Time) bool {
	if s.IsLocked {
		return true
	}
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}
