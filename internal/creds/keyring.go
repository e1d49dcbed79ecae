package creds

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// service is the keyring service name all key ids live under.
const service = "datashelf"

// Keyring stores secrets in the OS secret service (Secret Service on
// Linux, Keychain on macOS, Credential Manager on Windows).
type Keyring struct{}

func (k *Keyring) Set(keyID, secret string) error {
	if err := keyring.Set(service, keyID, secret); err != nil {
		return &CredentialError{KeyID: keyID, Reason: "failed to store secret", Err: err}
	}
	return nil
}

func (k *Keyring) Get(keyID string) (string, error) {
	secret, err := keyring.Get(service, keyID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", &CredentialError{KeyID: keyID, Reason: "failed to read secret", Err: err}
	}
	return secret, nil
}

// Available probes the secret service with a throwaway round-trip.
func (k *Keyring) Available() bool {
	const probe = "datashelf-availability-probe"
	if err := keyring.Set(service, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(service, probe)
	return true
}
