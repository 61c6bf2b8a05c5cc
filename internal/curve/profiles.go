// internal/curve/profiles.go
package curve

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is a named set of launch parameters for new tokens. The default
// profile mirrors the on-chain program's pump.fun-style constants; operators
// can override it or add alternatives through a YAML profile file.
type Profile struct {
	Name                 string `yaml:"name"`
	VirtualSolReserves   uint64 `yaml:"virtual_sol_reserves"`
	VirtualTokenReserves uint64 `yaml:"virtual_token_reserves"`
	BondingCurveSupply   uint64 `yaml:"bonding_curve_supply"`
	TotalSupply          uint64 `yaml:"total_supply"`
	GraduationThreshold  uint64 `yaml:"graduation_threshold"`
	PlatformFeeBps       uint32 `yaml:"platform_fee_bps"`
	CreatorFeeBps        uint32 `yaml:"creator_fee_bps"`
	DefaultSlippageBps   uint32 `yaml:"default_slippage_bps"`
}

// DefaultProfileName selects the built-in profile when no file overrides it.
const DefaultProfileName = "pumpfun"

// DefaultProfile returns the launch parameters used by the on-chain program:
// 30 SOL / 1.073B token virtual reserves, 800M tokens on the curve out of a
// 1B supply, graduation at 30,000 SOL, 1% platform + 1% creator fees.
func DefaultProfile() Profile {
	return Profile{
		Name:                 DefaultProfileName,
		VirtualSolReserves:   30 * LamportsPerSol,
		VirtualTokenReserves: 1_073_000_000 * TokenBaseUnits,
		BondingCurveSupply:   800_000_000 * TokenBaseUnits,
		TotalSupply:          1_000_000_000 * TokenBaseUnits,
		GraduationThreshold:  30_000 * LamportsPerSol,
		PlatformFeeBps:       100,
		CreatorFeeBps:        100,
		DefaultSlippageBps:   DefaultSlippageBps,
	}
}

// FeeCalculator builds the fee calculator for this profile.
func (p Profile) FeeCalculator() FeeCalculator {
	return NewFeeCalculator(p.PlatformFeeBps, p.CreatorFeeBps)
}

// Validate checks that the profile can seed a tradable curve.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.VirtualSolReserves == 0 || p.VirtualTokenReserves == 0 {
		return fmt.Errorf("profile %s: virtual reserves must be positive", p.Name)
	}
	if p.BondingCurveSupply == 0 {
		return fmt.Errorf("profile %s: bonding curve supply must be positive", p.Name)
	}
	// The virtual token reserve must exceed the sellable supply, otherwise a
	// large enough buy could drain the virtual side below zero.
	if p.VirtualTokenReserves <= p.BondingCurveSupply {
		return fmt.Errorf("profile %s: virtual token reserves (%d) must exceed bonding curve supply (%d)",
			p.Name, p.VirtualTokenReserves, p.BondingCurveSupply)
	}
	if p.BondingCurveSupply > p.TotalSupply {
		return fmt.Errorf("profile %s: bonding curve supply (%d) exceeds total supply (%d)",
			p.Name, p.BondingCurveSupply, p.TotalSupply)
	}
	if p.GraduationThreshold == 0 {
		return fmt.Errorf("profile %s: graduation threshold must be positive", p.Name)
	}
	if p.PlatformFeeBps+p.CreatorFeeBps > feeDenominator {
		return fmt.Errorf("profile %s: combined fee rate %d bps exceeds 100%%",
			p.Name, p.PlatformFeeBps+p.CreatorFeeBps)
	}
	if p.DefaultSlippageBps > feeDenominator {
		return fmt.Errorf("profile %s: default slippage %d bps exceeds 100%%",
			p.Name, p.DefaultSlippageBps)
	}
	return nil
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads curve profiles from a YAML file and returns them keyed
// by name, with the built-in default always present unless the file overrides
// it. An empty path returns just the default.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := map[string]Profile{
		DefaultProfileName: DefaultProfile(),
	}
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles found in %s", path)
	}

	for _, p := range file.Profiles {
		if p.DefaultSlippageBps == 0 {
			p.DefaultSlippageBps = DefaultSlippageBps
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}
