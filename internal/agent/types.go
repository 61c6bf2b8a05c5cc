// internal/agent/types.go

// Package agent hosts the launch factory: metadata validation, sequential
// agent ids, the creation fee, and the reserve state every new token starts
// from.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// Metadata limits mirror the on-chain factory program. Lengths are measured
// in bytes.
const (
	MaxNameLen         = 32
	MaxSymbolLen       = 10
	MaxDescriptionLen  = 200
	MaxInstructionsLen = 500
	MaxModelLen        = 20
	MaxCategoryLen     = 20
)

var (
	// ErrInvalidMetadata is returned when create params fail validation.
	ErrInvalidMetadata = errors.New("invalid agent metadata")

	// ErrUnauthorized is returned when a factory operation is attempted by
	// anyone but the factory authority.
	ErrUnauthorized = errors.New("authority mismatch")
)

// CreateParams describes one agent token launch.
type CreateParams struct {
	Creator      string
	Mint         string
	Name         string
	Symbol       string
	Description  string
	Instructions string
	Model        string
	Category     string
}

// Validate checks the metadata limits enforced at launch.
func (p CreateParams) Validate() error {
	if p.Mint == "" {
		return fmt.Errorf("mint is required: %w", ErrInvalidMetadata)
	}
	if p.Creator == "" {
		return fmt.Errorf("creator is required: %w", ErrInvalidMetadata)
	}
	if n := len(p.Name); n == 0 || n > MaxNameLen {
		return fmt.Errorf("name must be 1-%d bytes: %w", MaxNameLen, ErrInvalidMetadata)
	}
	if n := len(p.Symbol); n == 0 || n > MaxSymbolLen {
		return fmt.Errorf("symbol must be 1-%d bytes: %w", MaxSymbolLen, ErrInvalidMetadata)
	}
	if len(p.Description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds %d bytes: %w", MaxDescriptionLen, ErrInvalidMetadata)
	}
	if len(p.Instructions) > MaxInstructionsLen {
		return fmt.Errorf("instructions exceed %d bytes: %w", MaxInstructionsLen, ErrInvalidMetadata)
	}
	if len(p.Model) > MaxModelLen {
		return fmt.Errorf("model exceeds %d bytes: %w", MaxModelLen, ErrInvalidMetadata)
	}
	if len(p.Category) > MaxCategoryLen {
		return fmt.Errorf("category exceeds %d bytes: %w", MaxCategoryLen, ErrInvalidMetadata)
	}
	return nil
}

// Agent is the launch record returned by the registry.
type Agent struct {
	AgentID      uint64
	Mint         string
	Creator      string
	Name         string
	Symbol       string
	Description  string
	Instructions string
	Model        string
	Category     string
	CreationFee  uint64
	CreatedAt    time.Time
}

// FactoryConfig seeds the factory state at startup.
type FactoryConfig struct {
	Authority   string
	Treasury    string
	CreationFee uint64
}

// FactoryState is a point-in-time view of the factory.
type FactoryState struct {
	Authority   string
	Treasury    string
	CreationFee uint64
	TotalAgents uint64
}
