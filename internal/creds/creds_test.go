package creds

import (
	"errors"
	"testing"
)

func TestKeyID(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		username string
		host     string
		want     string
	}{
		{"basic", "basic", "alice", "dav.example.com", "basic:alice@dav.example.com"},
		{"empty username", "basic", "", "dav.example.com", "basic:-@dav.example.com"},
		{"token method", "token", "svc", "files.corp", "token:svc@files.corp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyID(tt.method, tt.username, tt.host); got != tt.want {
				t.Errorf("KeyID = %q, want %q", got, tt.want)
			}
		})
	}

	// Same inputs, same key: setup paths must converge on one entry.
	if KeyID("basic", "alice", "h") != KeyID("basic", "alice", "h") {
		t.Error("KeyID is not deterministic")
	}
}

func TestEnvVar(t *testing.T) {
	tests := []struct {
		keyID string
		want  string
	}{
		{"basic:alice@dav.example.com", "DATASHELF_SECRET_BASIC_ALICE_DAV_EXAMPLE_COM"},
		{"basic:-@h", "DATASHELF_SECRET_BASIC___H"},
	}

	for _, tt := range tests {
		if got := EnvVar(tt.keyID); got != tt.want {
			t.Errorf("EnvVar(%q) = %q, want %q", tt.keyID, got, tt.want)
		}
	}
}

func TestEnvStoreGet(t *testing.T) {
	keyID := "basic:alice@test.invalid"
	t.Setenv(EnvVar(keyID), "s3cret")

	var store EnvStore
	secret, err := store.Get(keyID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if secret != "s3cret" {
		t.Errorf("Get = %q", secret)
	}

	if _, err := store.Get("basic:nobody@test.invalid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get for unset variable = %v, want ErrNotFound", err)
	}
}

func TestEnvStoreSetRefuses(t *testing.T) {
	var store EnvStore
	err := store.Set("basic:alice@h", "x")
	var cerr *CredentialError
	if !errors.As(err, &cerr) {
		t.Fatalf("Set = %v, want CredentialError", err)
	}
}
