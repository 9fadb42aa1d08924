package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// Keyring is the subset of the OS credential vault this package needs.
// The default implementation talks to the platform keyring; tests substitute
// an in-memory one.
type Keyring interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// ErrVaultEntryNotFound is returned by Keyring implementations when no entry
// exists for the requested account.
var ErrVaultEntryNotFound = keyring.ErrNotFound

type systemKeyring struct{}

func (systemKeyring) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (systemKeyring) Set(service, account, value string) error {
	return keyring.Set(service, account, value)
}

func (systemKeyring) Delete(service, account string) error {
	return keyring.Delete(service, account)
}

// SystemKeyring returns the OS-provided credential vault.
func SystemKeyring() Keyring {
	return systemKeyring{}
}

// probeVault checks once whether the vault backend is usable at all. A
// missing entry still proves the backend answered.
func probeVault(ring Keyring, service string) bool {
	_, err := ring.Get(service, "availability-probe")
	if err == nil || errors.Is(err, ErrVaultEntryNotFound) {
		return true
	}
	return false
}
