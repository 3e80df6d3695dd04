package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Note represents one unit of shielded value: a commitment the owner can
// spend exactly once. Notes are never deleted; spending flips IsSpent and
// publishes the nullifier for replay protection.
type Note struct {
	ID          string    `json:"id" db:"id"`
	Owner       string    `json:"owner" db:"owner"` // Opaque identity, not necessarily the chain address
	Commitment  string    `json:"commitment" db:"commitment"`
	Secret      string    `json:"-" db:"secret"`
	Nullifier   string    `json:"nullifier" db:"nullifier"`
	Backup      string    `json:"-" db:"backup"` // Human-readable recovery string
	NoteIndex   int64     `json:"noteIndex" db:"note_index"`
	Amount      string    `json:"amount" db:"amount"` // Full-precision decimal string
	Token       string    `json:"token" db:"token"`
	TokenSymbol *string   `json:"tokenSymbol,omitempty" db:"token_symbol"`
	Root        string    `json:"root" db:"root"` // Merkle root the note was inserted under
	RootID      string    `json:"rootId" db:"root_id"`
	IsSpent     bool      `json:"isSpent" db:"is_spent"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// AmountDecimal parses the note amount at full precision
func (n *Note) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(n.Amount)
}
