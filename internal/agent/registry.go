// internal/agent/registry.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/engine"
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// Registry is the agent factory. It owns the sequential agent-id counter and
// the creation fee, launches every token with a fresh reserve state, and is
// the only writer of agent metadata rows.
type Registry struct {
	mu      sync.Mutex
	storage storage.Storage
	store   *engine.Store
	bus     *events.Bus
	metrics *metrics.Collector
	profile curve.Profile
	logger  *zap.Logger

	authority   string
	treasury    string
	creationFee uint64
	totalAgents uint64
}

// NewRegistry builds the factory. Call Load before the first CreateAgent so
// the id counter continues from persisted launches.
func NewRegistry(st storage.Storage, store *engine.Store, bus *events.Bus, collector *metrics.Collector, profile curve.Profile, cfg FactoryConfig, logger *zap.Logger) *Registry {
	return &Registry{
		storage:     st,
		store:       store,
		bus:         bus,
		metrics:     collector,
		profile:     profile,
		logger:      logger.Named("agent_registry"),
		authority:   cfg.Authority,
		treasury:    cfg.Treasury,
		creationFee: cfg.CreationFee,
	}
}

// Load seeds the agent-id counter from the persisted launch count.
func (r *Registry) Load(ctx context.Context) error {
	count, err := r.storage.CountAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to count agents: %w", err)
	}

	r.mu.Lock()
	r.totalAgents = uint64(count)
	r.mu.Unlock()

	r.logger.Info("Agent registry loaded", zap.Int64("agents", count))
	return nil
}

// CreateAgent validates the launch params, assigns the next agent id, creates
// the token's reserve state from the configured curve profile, and persists
// both. The creation fee in force at launch is recorded on the agent row.
// Launches are serialized; the factory counter never skips or reuses an id.
func (r *Registry) CreateAgent(ctx context.Context, params CreateParams) (*Agent, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.storage.GetAgent(ctx, params.Mint)
	if err == nil {
		return nil, fmt.Errorf("mint %s already launched: %w", params.Mint, ErrInvalidMetadata)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check mint %s: %w", params.Mint, err)
	}

	agentID := r.totalAgents
	state := curve.NewReserveState(params.Mint, params.Creator, r.profile)
	if err := r.store.Register(ctx, state, agentID); err != nil {
		return nil, err
	}
	// The id is consumed the moment the reserve state is live: ids map to
	// chain accounts, so they are never reused even if later writes fail.
	r.totalAgents++

	row := &models.Agent{
		AgentID:      agentID,
		Mint:         params.Mint,
		Creator:      params.Creator,
		Name:         params.Name,
		Symbol:       params.Symbol,
		Description:  params.Description,
		Instructions: params.Instructions,
		Model:        params.Model,
		Category:     params.Category,
		CreationFee:  r.creationFee,
	}
	if err := r.storage.SaveAgent(ctx, row); err != nil {
		// The reserve state is already live; the mint stays blocked until the
		// metadata write is investigated.
		r.logger.Error("Agent metadata not persisted",
			zap.String("mint", params.Mint),
			zap.Uint64("agent_id", agentID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to persist agent %s: %w", params.Mint, err)
	}

	r.logger.Info("Agent created",
		zap.Uint64("agent_id", agentID),
		zap.String("mint", params.Mint),
		zap.String("name", params.Name),
		zap.String("symbol", params.Symbol),
		zap.String("creator", params.Creator),
		zap.Uint64("creation_fee", r.creationFee))

	r.publish(&events.TokenCreatedEvent{
		BaseEvent: events.NewBase(events.TokenCreated),
		TokenID:   params.Mint,
		AgentID:   agentID,
		Creator:   params.Creator,
		Name:      params.Name,
		Symbol:    params.Symbol,
	})

	return fromModel(row), nil
}

// GetAgent returns the launch record for a mint.
func (r *Registry) GetAgent(ctx context.Context, mint string) (*Agent, error) {
	row, err := r.storage.GetAgent(ctx, mint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("agent %s: %w", mint, engine.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to load agent %s: %w", mint, err)
	}
	return fromModel(row), nil
}

// ListAgents pages through launches in agent-id order.
func (r *Registry) ListAgents(ctx context.Context, limit, offset int) ([]*Agent, error) {
	rows, err := r.storage.ListAgents(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	agents := make([]*Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, fromModel(row))
	}
	return agents, nil
}

// Count returns the number of persisted launches.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.storage.CountAgents(ctx)
}

// UpdateCreationFee changes the fee charged on future launches. Only the
// factory authority may call it.
func (r *Registry) UpdateCreationFee(authority string, newFee uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if authority != r.authority {
		return fmt.Errorf("creation fee update by %s: %w", authority, ErrUnauthorized)
	}

	old := r.creationFee
	r.creationFee = newFee
	r.logger.Info("Creation fee updated",
		zap.Uint64("old_fee", old),
		zap.Uint64("new_fee", newFee))
	return nil
}

// Factory returns a snapshot of the factory state.
func (r *Registry) Factory() FactoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return FactoryState{
		Authority:   r.authority,
		Treasury:    r.treasury,
		CreationFee: r.creationFee,
		TotalAgents: r.totalAgents,
	}
}

func (r *Registry) publish(event events.Event) {
	if err := r.bus.Publish(event); err != nil {
		r.logger.Warn("Failed to publish event",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
		return
	}
	r.metrics.RecordEvent(string(event.Type()))
}

func fromModel(row *models.Agent) *Agent {
	return &Agent{
		AgentID:      row.AgentID,
		Mint:         row.Mint,
		Creator:      row.Creator,
		Name:         row.Name,
		Symbol:       row.Symbol,
		Description:  row.Description,
		Instructions: row.Instructions,
		Model:        row.Model,
		Category:     row.Category,
		CreationFee:  row.CreationFee,
		CreatedAt:    row.CreatedAt,
	}
}
