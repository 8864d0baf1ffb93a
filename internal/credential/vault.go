package credential

import (
	"fmt"

	"github.com/felixgeelhaar/recall/internal/store"
)

// Vault reads and writes the local config table, sealing entries whose
// name ends in SecretSuffix.
type Vault struct {
	store store.ConfigStore
	mgr   *Manager
}

func NewVault(s store.ConfigStore, m *Manager) *Vault {
	return &Vault{store: s, mgr: m}
}

// Set stores value under name.
func (v *Vault) Set(name, value string) error {
	if IsSecret(name) {
		sealed, err := v.mgr.Seal(name, value)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
		value = sealed
	}
	if err := v.store.SetConfig(name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// Get returns the plaintext stored under name, or "" when unset.
func (v *Vault) Get(name string) (string, error) {
	stored, err := v.store.GetConfig(name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return v.mgr.Open(name, stored)
}

// Display returns the value under name for printing; secrets are masked.
func (v *Vault) Display(name string) (string, error) {
	val, err := v.Get(name)
	if err != nil || val == "" {
		return val, err
	}
	if IsSecret(name) {
		return MaskSecret(val), nil
	}
	return val, nil
}
