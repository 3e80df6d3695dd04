// Package types provides common type definitions for the shield wallet backend.
package types

// TransactionType represents the kind of wallet operation a receipt records
type TransactionType string

const (
	// TxTypeSend represents a public token transfer
	TxTypeSend TransactionType = "send"
	// TxTypeShield represents converting a public balance into a private note
	TxTypeShield TransactionType = "shield"
	// TxTypePrivateTransfer represents spending notes to create a note for another party
	TxTypePrivateTransfer TransactionType = "private_transfer"
	// TxTypeUnshield represents converting a private note back to a public balance
	TxTypeUnshield TransactionType = "unshield"
	// TxTypeDeploy represents an account deployment transaction
	TxTypeDeploy TransactionType = "deploy"
)

// TransactionStatus represents transaction execution status
type TransactionStatus string

const (
	// StatusPending represents a transaction submitted but not yet confirmed
	StatusPending TransactionStatus = "pending"
	// StatusConfirmed represents a confirmed transaction
	StatusConfirmed TransactionStatus = "confirmed"
	// StatusFailed represents a failed transaction
	StatusFailed TransactionStatus = "failed"
)

// PendingOpKind identifies a pending-operation variant awaiting password input
type PendingOpKind string

const (
	// PendingShield is a shield operation awaiting the wallet password
	PendingShield PendingOpKind = "shield"
	// PendingPrivateTransfer is a private transfer awaiting the wallet password
	PendingPrivateTransfer PendingOpKind = "private_transfer"
	// PendingUnshield is an unshield operation awaiting the wallet password
	PendingUnshield PendingOpKind = "unshield"
	// PendingDeploy is an account deployment awaiting the wallet password
	PendingDeploy PendingOpKind = "deploy"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// TokenBalance represents a private balance for a single token
type TokenBalance struct {
	Token  string `json:"token"`  // Token contract address or symbol
	Amount string `json:"amount"` // Full-precision decimal amount
}
