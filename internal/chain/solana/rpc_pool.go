// internal/chain/solana/rpc_pool.go
package solana

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const healthCheckTimeout = 5 * time.Second

type poolClient struct {
	client *rpc.Client
	url    string
	active bool
}

// RPCPool rotates requests across a fixed set of RPC endpoints, skipping
// endpoints that failed their last health probe.
type RPCPool struct {
	mutex   sync.Mutex
	clients []*poolClient
	index   int
	logger  *zap.Logger
}

func NewRPCPool(rpcList []string, logger *zap.Logger) *RPCPool {
	clients := make([]*poolClient, 0, len(rpcList))
	for _, url := range rpcList {
		clients = append(clients, &poolClient{
			client: rpc.New(url),
			url:    url,
			active: true,
		})
	}

	return &RPCPool{
		clients: clients,
		logger:  logger.Named("rpc_pool"),
	}
}

// Size returns the number of configured endpoints.
func (p *RPCPool) Size() int {
	return len(p.clients)
}

// GetClient returns the next active RPC client in round-robin order, or nil
// when every endpoint is marked inactive.
func (p *RPCPool) GetClient() *rpc.Client {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.clients) == 0 {
		return nil
	}

	initialIndex := p.index
	for {
		p.index = (p.index + 1) % len(p.clients)
		if p.clients[p.index].active {
			return p.clients[p.index].client
		}
		if p.index == initialIndex {
			return nil
		}
	}
}

// MarkInactive removes an endpoint from rotation until the next health sweep.
func (p *RPCPool) MarkInactive(client *rpc.Client) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, pc := range p.clients {
		if pc.client == client && pc.active {
			pc.active = false
			p.logger.Warn("RPC endpoint marked inactive", zap.String("url", pc.url))
			return
		}
	}
}

// checkClientHealth probes one endpoint with a blockhash request.
func (p *RPCPool) checkClientHealth(ctx context.Context, client *rpc.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	_, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	return err == nil
}

// PerformHealthChecks probes every endpoint and updates its rotation status.
// Inactive endpoints that recovered rejoin the pool.
func (p *RPCPool) PerformHealthChecks(ctx context.Context) {
	p.mutex.Lock()
	clients := make([]*poolClient, len(p.clients))
	copy(clients, p.clients)
	p.mutex.Unlock()

	for _, pc := range clients {
		healthy := p.checkClientHealth(ctx, pc.client)

		p.mutex.Lock()
		if pc.active != healthy {
			p.logger.Info("RPC endpoint health changed",
				zap.String("url", pc.url),
				zap.Bool("healthy", healthy))
		}
		pc.active = healthy
		p.mutex.Unlock()
	}
}

// HasActiveClients reports whether at least one endpoint is in rotation.
func (p *RPCPool) HasActiveClients() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, pc := range p.clients {
		if pc.active {
			return true
		}
	}
	return false
}
