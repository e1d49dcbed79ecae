// Package creds stores the remote secret outside the config file: in the
// OS secret service when one is available, in an environment variable
// otherwise.
package creds

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when no secret is stored under a key id.
var ErrNotFound = errors.New("credential not found")

// CredentialError reports a missing or rejected secret. A sync cycle hit
// by it aborts early with one diagnostic rather than proceeding
// unauthenticated.
type CredentialError struct {
	KeyID  string
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("credential %q: %s", e.KeyID, e.Reason)
	}
	return "credential error: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Store holds one secret per derived key id.
type Store interface {
	Set(keyID, secret string) error
	Get(keyID string) (string, error)
	Available() bool
}

// KeyID derives the storage key from the auth method, username and host.
// The derivation is deterministic so interactive setup and scripted setup
// converge on the same entry. An empty username maps to a fixed
// placeholder.
func KeyID(method, username, host string) string {
	if username == "" {
		username = "-"
	}
	return method + ":" + username + "@" + host
}

// Open returns the OS keyring store when available, otherwise the
// environment fallback with a warning: env vars are readable by anything
// sharing the process environment.
func Open() Store {
	kr := &Keyring{}
	if kr.Available() {
		return kr
	}

	env := &EnvStore{}
	slog.Warn("no OS secret service available, falling back to environment variables; "+
		"this is materially less secure",
		"variable_prefix", envPrefix)
	return env
}
