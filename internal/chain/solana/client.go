// internal/chain/solana/client.go
package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/chain"
)

// ErrNoActiveEndpoints is returned when every RPC endpoint in the pool is out
// of rotation.
var ErrNoActiveEndpoints = errors.New("no active rpc endpoints")

// Options configures the chain client.
type Options struct {
	RPCList        []string
	ProgramID      string
	Retries        int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// Client reads agent accounts from the Solana ledger through a round-robin
// endpoint pool, retrying transient failures with exponential backoff.
type Client struct {
	pool           *RPCPool
	programID      solana.PublicKey
	logger         *zap.Logger
	maxTries       uint
	retryDelay     time.Duration
	requestTimeout time.Duration
}

func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if len(opts.RPCList) == 0 {
		return nil, errors.New("empty RPC URL list")
	}

	programID, err := solana.PublicKeyFromBase58(opts.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid factory program id %q: %w", opts.ProgramID, err)
	}

	maxTries := uint(3)
	if opts.Retries > 0 {
		maxTries = uint(opts.Retries)
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	return &Client{
		pool:           NewRPCPool(opts.RPCList, logger),
		programID:      programID,
		logger:         logger.Named("chain_client"),
		maxTries:       maxTries,
		retryDelay:     retryDelay,
		requestTimeout: requestTimeout,
	}, nil
}

// ProgramID returns the factory program the client reads accounts from.
func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// FetchAgentAccount reads and decodes the agent account for an agent id.
// Transient RPC failures rotate to the next endpoint and retry with backoff;
// malformed account data fails immediately.
func (c *Client) FetchAgentAccount(ctx context.Context, agentID uint64) (*chain.AgentAccount, error) {
	pda, err := AgentPDA(c.programID, agentID)
	if err != nil {
		return nil, err
	}

	operation := func() (*chain.AgentAccount, error) {
		client := c.pool.GetClient()
		if client == nil {
			return nil, ErrNoActiveEndpoints
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		accountInfo, err := client.GetAccountInfoWithOpts(reqCtx, pda, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			c.pool.MarkInactive(client)
			return nil, fmt.Errorf("failed to get agent account: %w", err)
		}
		if accountInfo == nil || accountInfo.Value == nil {
			return nil, fmt.Errorf("agent account not found: %s", pda.String())
		}
		if !accountInfo.Value.Owner.Equals(c.programID) {
			return nil, backoff.Permanent(fmt.Errorf("agent account has incorrect owner: expected %s, got %s",
				c.programID.String(), accountInfo.Value.Owner.String()))
		}

		account, err := DecodeAgentAccount(accountInfo.Value.Data.GetBinary())
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if account.AgentID != agentID {
			return nil, backoff.Permanent(fmt.Errorf("agent account id mismatch: expected %d, got %d",
				agentID, account.AgentID))
		}
		return account, nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = c.retryDelay
	backoffPolicy.MaxInterval = c.retryDelay * 10

	notify := func(err error, duration time.Duration) {
		c.logger.Debug("Retrying agent account fetch",
			zap.Uint64("agent_id", agentID),
			zap.Duration("backoff", duration),
			zap.Error(err))
	}

	account, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoffPolicy),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent account %d: %w", agentID, err)
	}

	return account, nil
}

// RunHealthChecks probes the endpoint pool on a fixed interval until the
// context is canceled. Intended to run as a supervised background loop.
func (c *Client) RunHealthChecks(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.pool.PerformHealthChecks(ctx)
			if !c.pool.HasActiveClients() {
				c.logger.Warn("All RPC endpoints are unhealthy")
			}
		}
	}
}
