package creds

import (
	"os"
	"strings"
)

const envPrefix = "DATASHELF_SECRET_"

// EnvStore is the fallback when no OS secret service is reachable
// (headless servers, containers). Secrets live in environment variables
// named after the sanitized key id.
type EnvStore struct{}

// EnvVar returns the environment variable name for a key id.
func EnvVar(keyID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(keyID) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return envPrefix + b.String()
}

// Set cannot persist into the parent environment; it reports what the
// user has to export instead.
func (e *EnvStore) Set(keyID, secret string) error {
	return &CredentialError{
		KeyID:  keyID,
		Reason: "environment store cannot persist secrets; export " + EnvVar(keyID) + " yourself",
	}
}

func (e *EnvStore) Get(keyID string) (string, error) {
	secret, ok := os.LookupEnv(EnvVar(keyID))
	if !ok || secret == "" {
		return "", ErrNotFound
	}
	return secret, nil
}

func (e *EnvStore) Available() bool { return true }
