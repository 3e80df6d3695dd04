// Package chain talks to the chain gateway over JSON-RPC. The core
// treats everything here as an opaque collaborator: it hands over proofs
// and reads back transaction hashes and the Merkle root new notes were
// inserted under.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shield-wallet/internal/circuitbreaker"
	"github.com/shield-wallet/internal/config"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/retry"
)

// SubmitResult carries what the ledger needs after a successful
// submission: the transaction hash and the root new notes live under
type SubmitResult struct {
	TxHash    string `json:"txHash"`
	NewRoot   string `json:"newRoot"`
	NewRootID string `json:"newRootId"`
}

// TxStatusResult reports the chain-side status of a transaction
type TxStatusResult struct {
	Status      string  `json:"status"` // "pending", "confirmed" or "failed"
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Client is the chain gateway surface the services depend on
type Client interface {
	SubmitShield(ctx context.Context, commitment, token string, amount *big.Int) (*SubmitResult, error)
	SubmitSpend(ctx context.Context, calldata []string) (*SubmitResult, error)
	SubmitTransfer(ctx context.Context, privateKey, recipient, token string, amount *big.Int) (string, error)
	DeployAccount(ctx context.Context, address, publicKey, privateKey string) (string, error)
	TxStatus(ctx context.Context, txHash string) (*TxStatusResult, error)
	Close()
}

// RPCClient implements Client over JSON-RPC with primary/secondary
// endpoint failover, exponential-backoff retry and a circuit breaker.
type RPCClient struct {
	primary   *rpc.Client
	secondary *rpc.Client
	breaker   *circuitbreaker.CircuitBreaker
	retryCfg  *retry.Config
	timeout   time.Duration
}

// NewRPCClient dials the configured endpoints. The secondary endpoint is
// optional; a dial failure there is logged and the client runs
// primary-only.
func NewRPCClient(cfg *config.ChainConfig) (*RPCClient, error) {
	primary, err := rpc.Dial(cfg.RPCPrimary)
	if err != nil {
		return nil, fmt.Errorf("failed to dial primary RPC endpoint: %w", err)
	}

	var secondary *rpc.Client
	if cfg.RPCSecondary != "" {
		secondary, err = rpc.Dial(cfg.RPCSecondary)
		if err != nil {
			logging.WithField("endpoint", cfg.RPCSecondary).
				Warn("Failed to dial secondary RPC endpoint, running without failover")
			secondary = nil
		}
	}

	return &RPCClient{
		primary:   primary,
		secondary: secondary,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig("chain-rpc")),
		retryCfg:  retry.DefaultConfig(),
		timeout:   cfg.SubmitTimeout,
	}, nil
}

// Close releases both RPC connections
func (c *RPCClient) Close() {
	if c.primary != nil {
		c.primary.Close()
	}
	if c.secondary != nil {
		c.secondary.Close()
	}
}

// call runs one JSON-RPC method under the breaker with retry, failing
// over to the secondary endpoint when the primary call errors
func (c *RPCClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.breaker.Execute(ctx, func() error {
		return retry.WithBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			err := c.primary.CallContext(callCtx, result, method, args...)
			if err == nil {
				return nil
			}
			if c.secondary == nil {
				return err
			}

			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"method": method,
				"error":  err.Error(),
			}).Warn("Primary RPC call failed, trying secondary endpoint")

			return c.secondary.CallContext(callCtx, result, method, args...)
		})
	})
}

// SubmitShield deposits a public balance into the shielded pool under
// the given commitment
func (c *RPCClient) SubmitShield(ctx context.Context, commitment, token string, amount *big.Int) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.call(ctx, &result, "wallet_submitShield", commitment, token, amount.String()); err != nil {
		return nil, fmt.Errorf("shield submission failed: %w", err)
	}
	return &result, nil
}

// SubmitSpend submits proof calldata for a private transfer or unshield
func (c *RPCClient) SubmitSpend(ctx context.Context, calldata []string) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.call(ctx, &result, "wallet_submitSpend", calldata); err != nil {
		return nil, fmt.Errorf("spend submission failed: %w", err)
	}
	return &result, nil
}

// SubmitTransfer performs a plain public token transfer signed with the
// given key
func (c *RPCClient) SubmitTransfer(ctx context.Context, privateKey, recipient, token string, amount *big.Int) (string, error) {
	var txHash string
	if err := c.call(ctx, &txHash, "wallet_transfer", privateKey, recipient, token, amount.String()); err != nil {
		return "", fmt.Errorf("transfer submission failed: %w", err)
	}
	return txHash, nil
}

// DeployAccount deploys the account contract for a freshly created wallet
func (c *RPCClient) DeployAccount(ctx context.Context, address, publicKey, privateKey string) (string, error) {
	var txHash string
	if err := c.call(ctx, &txHash, "wallet_deployAccount", address, publicKey, privateKey); err != nil {
		return "", fmt.Errorf("account deployment failed: %w", err)
	}
	return txHash, nil
}

// TxStatus polls the chain-side status of a submitted transaction
func (c *RPCClient) TxStatus(ctx context.Context, txHash string) (*TxStatusResult, error) {
	var result TxStatusResult
	if err := c.call(ctx, &result, "wallet_txStatus", txHash); err != nil {
		return nil, fmt.Errorf("tx status query failed: %w", err)
	}
	return &result, nil
}
