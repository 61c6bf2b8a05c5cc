// internal/license/keygen.go

// Package license gates service startup behind a Keygen.sh operator license.
package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"
)

// Validator checks operator licenses against the Keygen.sh API and pins them
// to a machine fingerprint.
type Validator struct {
	logger *zap.Logger
}

// NewValidator configures the keygen SDK. The SDK keeps its settings in
// package globals, so create one validator per process.
func NewValidator(accountID, productToken, productID string, logger *zap.Logger) *Validator {
	keygen.Account = accountID
	keygen.Product = productID
	keygen.Token = productToken

	return &Validator{logger: logger.Named("license")}
}

// Validate checks the license key against Keygen and activates this machine
// when the license is valid but not yet activated here.
func (v *Validator) Validate(ctx context.Context, licenseKey string) error {
	fingerprint, err := machineFingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	v.logger.Info("Validating operator license", zap.String("key", maskKey(licenseKey)))

	keygen.LicenseKey = licenseKey

	lic, err := keygen.Validate(ctx, fingerprint)
	switch {
	case errors.Is(err, keygen.ErrLicenseNotActivated):
		machine, activateErr := lic.Activate(ctx, fingerprint)
		if activateErr != nil {
			return fmt.Errorf("failed to activate license: %w", activateErr)
		}
		v.logger.Info("License activated",
			zap.String("machine_id", machine.ID),
			zap.String("fingerprint", fingerprint))

	case errors.Is(err, keygen.ErrLicenseExpired):
		return errors.New("license has expired")

	case err != nil:
		return fmt.Errorf("license validation failed: %w", err)
	}

	if lic == nil {
		return errors.New("license not found")
	}

	v.logger.Info("License valid", zap.String("license_id", lic.ID))
	return nil
}

// Heartbeat re-validates the license to keep the machine activation alive.
func (v *Validator) Heartbeat(ctx context.Context, licenseKey string) error {
	fingerprint, err := machineFingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	keygen.LicenseKey = licenseKey
	if _, err := keygen.Validate(ctx, fingerprint); err != nil {
		return fmt.Errorf("license heartbeat failed: %w", err)
	}

	v.logger.Debug("License heartbeat sent")
	return nil
}

// machineFingerprint derives a stable identifier from the host name, the
// first active non-loopback MAC address, and the OS.
func machineFingerprint() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var mac string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			mac = iface.HardwareAddr.String()
			break
		}
	}
	if mac == "" {
		return "", errors.New("no active network interfaces found")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	hash := sha256.Sum256([]byte(hostname + "-" + mac + "-" + runtime.GOOS))
	return fmt.Sprintf("%x", hash), nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..."
}
