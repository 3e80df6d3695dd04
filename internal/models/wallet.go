package models

import "time"

// Wallet represents one custodial wallet record for a user.
// Exactly one active wallet exists per user; rotation deactivates the
// prior record instead of deleting it so the audit trail survives.
type Wallet struct {
	ID                  string     `json:"id" db:"id"`
	UserID              string     `json:"userId" db:"user_id"`
	Address             string     `json:"address" db:"address"`
	PublicKey           string     `json:"publicKey" db:"public_key"`
	EncryptedPrivateKey string     `json:"-" db:"encrypted_private_key"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	EncryptionSalt      string     `json:"-" db:"encryption_salt"`
	IV                  string     `json:"-" db:"iv"`
	Network             string     `json:"network" db:"network"`
	IsActive            bool       `json:"isActive" db:"is_active"`
	IsDeployed          bool       `json:"isDeployed" db:"is_deployed"`
	DeploymentTxHash    *string    `json:"deploymentTxHash,omitempty" db:"deployment_tx_hash"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"updated_at"`
	DeactivatedAt       *time.Time `json:"deactivatedAt,omitempty" db:"deactivated_at"`
}
