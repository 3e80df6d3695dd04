package models

import (
	"time"

	"github.com/shield-wallet/internal/types"
)

// Transaction is the audit receipt recorded for every orchestrated operation.
// It is a side-effect log, not part of the spend invariants.
type Transaction struct {
	ID               string                  `json:"id" db:"id"`
	UserID           string                  `json:"userId" db:"user_id"`
	WalletAddress    string                  `json:"walletAddress" db:"wallet_address"`
	TxHash           string                  `json:"txHash" db:"tx_hash"`
	Type             types.TransactionType   `json:"type" db:"type"`
	TokenAddress     string                  `json:"tokenAddress" db:"token_address"`
	TokenSymbol      *string                 `json:"tokenSymbol,omitempty" db:"token_symbol"`
	Amount           string                  `json:"amount" db:"amount"` // String for precision
	RecipientAddress *string                 `json:"recipientAddress,omitempty" db:"recipient_address"`
	Status           types.TransactionStatus `json:"status" db:"status"`
	BlockNumber      *uint64                 `json:"blockNumber,omitempty" db:"block_number"`
	ErrorMessage     *string                 `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt        time.Time               `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time               `json:"updatedAt" db:"updated_at"`
}
