// Package keyvault provides password hashing and authenticated encryption
// of wallet signing keys. It is a pure transform: no persistence, no side
// effects beyond CPU cost.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	apperrors "github.com/shield-wallet/internal/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength  = 32 // 256-bit AES key
	ivLength   = 16 // 128-bit IV
	saltBytes  = 32
	tokenBytes = 32
)

// Vault derives keys from passwords and seals/opens signing keys with
// AES-256-GCM. The GCM tag makes a wrong password and corrupted ciphertext
// indistinguishable on decrypt.
type Vault struct {
	bcryptCost       int
	pbkdf2Iterations int
}

// New creates a Vault with the given work factors
func New(bcryptCost, pbkdf2Iterations int) *Vault {
	if bcryptCost == 0 {
		bcryptCost = 12
	}
	if pbkdf2Iterations == 0 {
		pbkdf2Iterations = 100000
	}
	return &Vault{bcryptCost: bcryptCost, pbkdf2Iterations: pbkdf2Iterations}
}

// HashPassword hashes a password with bcrypt for later verification
func (v *Vault) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a password against a bcrypt hash
func (v *Vault) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DeriveEncryptionKey stretches a password into a 256-bit AES key with
// PBKDF2-SHA256 so each brute-force guess carries the full iteration cost
func (v *Vault) DeriveEncryptionKey(password, salt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), v.pbkdf2Iterations, keyLength, sha256.New)
}

// GenerateSalt returns a fresh hex-encoded 32-byte salt
func (v *Vault) GenerateSalt() (string, error) {
	return randomHex(saltBytes)
}

// GenerateSessionToken returns an opaque hex-encoded 256-bit token
func (v *Vault) GenerateSessionToken() (string, error) {
	return randomHex(tokenBytes)
}

// GeneratePrivateKey draws a fresh random 32-byte signing key, 0x-hex encoded
func (v *Vault) GeneratePrivateKey() (string, error) {
	key, err := randomHex(keyLength)
	if err != nil {
		return "", err
	}
	return "0x" + key, nil
}

// EncryptPrivateKey seals a private key under a password-derived key.
// The returned ciphertext is hex-encoded and carries the GCM auth tag;
// the IV is returned separately, also hex-encoded.
func (v *Vault) EncryptPrivateKey(privateKey, password, salt string) (ciphertext, iv string, err error) {
	encryptionKey := v.DeriveEncryptionKey(password, salt)

	ivBytes := make([]byte, ivLength)
	if _, err := rand.Read(ivBytes); err != nil {
		return "", "", fmt.Errorf("generating iv: %w", err)
	}

	aesgcm, err := newGCM(encryptionKey)
	if err != nil {
		return "", "", err
	}

	sealed := aesgcm.Seal(nil, ivBytes, []byte(privateKey), nil)

	return hex.EncodeToString(sealed), hex.EncodeToString(ivBytes), nil
}

// DecryptPrivateKey opens a sealed private key. Any authentication failure
// surfaces as DECRYPTION_FAILED without distinguishing the cause.
func (v *Vault) DecryptPrivateKey(ciphertext, password, salt, iv string) (string, error) {
	encryptionKey := v.DeriveEncryptionKey(password, salt)

	ivBytes, err := hex.DecodeString(iv)
	if err != nil || len(ivBytes) != ivLength {
		return "", apperrors.NewDecryptionFailedError()
	}
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", apperrors.NewDecryptionFailedError()
	}

	aesgcm, err := newGCM(encryptionKey)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, ivBytes, sealed, nil)
	if err != nil {
		return "", apperrors.NewDecryptionFailedError()
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return aesgcm, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
