// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the persistence boundary, keyed by token mint.
type Storage interface {
	// Agents
	SaveAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, mint string) (*models.Agent, error)
	ListAgents(ctx context.Context, limit, offset int) ([]*models.Agent, error)
	CountAgents(ctx context.Context) (int64, error)

	// Reserve states
	SaveReserveState(ctx context.Context, state *models.ReserveState) error
	GetReserveState(ctx context.Context, mint string) (*models.ReserveState, error)
	ListReserveStates(ctx context.Context) ([]*models.ReserveState, error)

	// Trades
	SaveTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, mint string, limit, offset int) ([]*models.Trade, error)

	// x402 payments
	SavePaymentConfig(ctx context.Context, cfg *models.PaymentConfig) error
	GetPaymentConfig(ctx context.Context, mint string) (*models.PaymentConfig, error)
	SavePaymentRecord(ctx context.Context, record *models.PaymentRecord) error
	GetPaymentRecord(ctx context.Context, paymentID string) (*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, status string) error

	// Migrations
	RunMigrations() error
}
