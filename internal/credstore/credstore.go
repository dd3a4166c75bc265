// Package credstore defines the credential resolution boundary the
// gateway calls out to for ${credential:key} references (spec §1: the
// real secrets manager is an external collaborator, out of scope here).
// It also ships an env-var-backed Store so the gateway is runnable in
// dev/test without a real secrets backend wired in.
package credstore

import (
	"fmt"
	"os"
	"strings"
)

// Store resolves a credential key to its plaintext value.
type Store interface {
	Get(key string) (string, error)
}

// EnvStore resolves key by upper-casing it, replacing "-" with "_", and
// looking it up as an environment variable under the given prefix.
type EnvStore struct {
	Prefix string
}

// NewEnvStore returns a Store that reads OTGW_CRED_<KEY> by default.
func NewEnvStore(prefix string) *EnvStore {
	if prefix == "" {
		prefix = "OTGW_CRED_"
	}
	return &EnvStore{Prefix: prefix}
}

func (s *EnvStore) Get(key string) (string, error) {
	envKey := s.Prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	v, ok := os.LookupEnv(envKey)
	if !ok {
		return "", fmt.Errorf("credstore: credential %q not found (looked up %s)", key, envKey)
	}
	return v, nil
}

// Preview masks a secret for logging: first 6 and last 4 characters,
// with the middle elided. Secrets shorter than 10 characters are
// fully masked.
func Preview(secret string) string {
	if len(secret) < 10 {
		return "***"
	}
	return secret[:6] + "…" + secret[len(secret)-4:]
}
