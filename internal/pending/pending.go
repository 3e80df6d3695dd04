// Package pending holds per-identity operation continuations awaiting a
// password prompt. State lives in Redis under a TTL, never in an
// unbounded in-process map, so abandoned prompts expire on their own.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shield-wallet/internal/storage"
	"github.com/shield-wallet/internal/types"
)

// DefaultTTL bounds how long a pending operation waits for its password
const DefaultTTL = 5 * time.Minute

// ErrNotFound is returned when no pending operation exists for the identity
var ErrNotFound = errors.New("no pending operation")

// Op is the closed set of operations that can await a password.
// Exactly one variant field is non-nil, matching Kind.
type Op struct {
	Kind      types.PendingOpKind `json:"kind"`
	CreatedAt time.Time           `json:"createdAt"`

	Shield   *ShieldOp   `json:"shield,omitempty"`
	Transfer *TransferOp `json:"transfer,omitempty"`
	Unshield *UnshieldOp `json:"unshield,omitempty"`
	Deploy   *DeployOp   `json:"deploy,omitempty"`
}

// ShieldOp carries a shield awaiting the wallet password
type ShieldOp struct {
	Token       string  `json:"token"`
	Amount      string  `json:"amount"`
	TokenSymbol *string `json:"tokenSymbol,omitempty"`
}

// TransferOp carries a private transfer awaiting the wallet password
type TransferOp struct {
	Recipient   string  `json:"recipient"`
	Token       string  `json:"token"`
	Amount      string  `json:"amount"`
	TokenSymbol *string `json:"tokenSymbol,omitempty"`
}

// UnshieldOp carries an unshield awaiting the wallet password
type UnshieldOp struct {
	Token           string  `json:"token"`
	Amount          string  `json:"amount"`
	WithdrawAddress string  `json:"withdrawAddress"`
	TokenSymbol     *string `json:"tokenSymbol,omitempty"`
}

// DeployOp carries an account deployment awaiting the wallet password
type DeployOp struct{}

// NewShield builds a shield variant
func NewShield(token, amount string, tokenSymbol *string) *Op {
	return &Op{
		Kind:      types.PendingShield,
		CreatedAt: time.Now(),
		Shield:    &ShieldOp{Token: token, Amount: amount, TokenSymbol: tokenSymbol},
	}
}

// NewTransfer builds a private-transfer variant
func NewTransfer(recipient, token, amount string, tokenSymbol *string) *Op {
	return &Op{
		Kind:      types.PendingPrivateTransfer,
		CreatedAt: time.Now(),
		Transfer:  &TransferOp{Recipient: recipient, Token: token, Amount: amount, TokenSymbol: tokenSymbol},
	}
}

// NewUnshield builds an unshield variant
func NewUnshield(token, amount, withdrawAddress string, tokenSymbol *string) *Op {
	return &Op{
		Kind:      types.PendingUnshield,
		CreatedAt: time.Now(),
		Unshield:  &UnshieldOp{Token: token, Amount: amount, WithdrawAddress: withdrawAddress, TokenSymbol: tokenSymbol},
	}
}

// NewDeploy builds a deployment variant
func NewDeploy() *Op {
	return &Op{Kind: types.PendingDeploy, CreatedAt: time.Now(), Deploy: &DeployOp{}}
}

// Validate checks that exactly the variant matching Kind is populated
func (o *Op) Validate() error {
	switch o.Kind {
	case types.PendingShield:
		if o.Shield == nil {
			return fmt.Errorf("shield op missing payload")
		}
	case types.PendingPrivateTransfer:
		if o.Transfer == nil {
			return fmt.Errorf("transfer op missing payload")
		}
	case types.PendingUnshield:
		if o.Unshield == nil {
			return fmt.Errorf("unshield op missing payload")
		}
	case types.PendingDeploy:
		if o.Deploy == nil {
			return fmt.Errorf("deploy op missing payload")
		}
	default:
		return fmt.Errorf("unknown pending op kind %q", o.Kind)
	}
	return nil
}

// Store persists pending operations in Redis keyed by identity
type Store struct {
	cache *storage.RedisCache
	ttl   time.Duration
}

// NewStore creates a pending-operation store with the given TTL
func NewStore(cache *storage.RedisCache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: cache, ttl: ttl}
}

func pendingKey(identity string) string {
	return "pending:" + identity
}

// Put stores the identity's pending operation, replacing any prior one
func (s *Store) Put(ctx context.Context, identity string, op *Op) error {
	if err := op.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal pending op: %w", err)
	}

	if err := s.cache.Set(ctx, pendingKey(identity), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store pending op: %w", err)
	}
	return nil
}

// Get decodes the identity's pending operation, ErrNotFound when none
// exists or it has expired
func (s *Store) Get(ctx context.Context, identity string) (*Op, error) {
	data, err := s.cache.Get(ctx, pendingKey(identity))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load pending op: %w", err)
	}

	var op Op
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return nil, fmt.Errorf("failed to decode pending op: %w", err)
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return &op, nil
}

// Clear removes the identity's pending operation. Clearing an absent key
// is a no-op.
func (s *Store) Clear(ctx context.Context, identity string) error {
	return s.cache.Del(ctx, pendingKey(identity))
}
