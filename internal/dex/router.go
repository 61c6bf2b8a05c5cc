// internal/dex/router.go
package dex

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/engine"
)

// StateReader exposes the stored per-token state the router routes on.
type StateReader interface {
	Inspect(tokenID string) (*engine.TokenInfo, error)
}

// Router sends each swap to the venue its token trades on. Routing reads the
// stored graduation flag and never recomputes it: active tokens go to the
// bonding curve, graduated ones to the configured external venue.
type Router struct {
	states   StateReader
	curve    Venue
	registry *Registry
	external string
	logger   *zap.Logger
}

// NewRouter builds the router. external names the registry venue graduated
// tokens route to; empty means graduated tokens are not tradable here.
func NewRouter(states StateReader, curveVenue Venue, registry *Registry, external string, logger *zap.Logger) *Router {
	return &Router{
		states:   states,
		curve:    curveVenue,
		registry: registry,
		external: external,
		logger:   logger.Named("venue_router"),
	}
}

// Swap routes and executes one swap. A token flagged inconsistent is not
// routed anywhere until it is resynced.
func (r *Router) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	info, err := r.states.Inspect(req.TokenID)
	if err != nil {
		return nil, err
	}
	if info.Inconsistent {
		return nil, fmt.Errorf("token %s: %w", req.TokenID, engine.ErrInconsistentState)
	}

	if info.State.Graduated {
		return r.swapExternal(ctx, req)
	}

	result, err := r.curve.Swap(ctx, req)
	if err != nil && errors.Is(err, curve.ErrGraduated) {
		// A trade graduated the token between the flag read and execution.
		r.logger.Info("Curve closed for token, falling back to external venue",
			zap.String("token_id", req.TokenID))
		return r.swapExternal(ctx, req)
	}
	return result, err
}

func (r *Router) swapExternal(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if r.external == "" {
		return nil, fmt.Errorf("token %s is graduated and no external venue is configured", req.TokenID)
	}
	venue, err := r.registry.Get(r.external)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Routing swap to external venue",
		zap.String("token_id", req.TokenID),
		zap.String("venue", venue.Name()),
		zap.String("side", string(req.Side)))
	return venue.Swap(ctx, req)
}
