package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptSecret and DecryptSecret share the AEAD primitive the backpressure
// spool uses for its on-disk overflow tier, so a config-at-rest credential
// store (out of scope for this gateway) can reuse the same key-management
// story instead of inventing a second one. Ciphertext is base64-encoded so
// it can live inline in YAML.
func EncryptSecret(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("config: init aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("config: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret reverses EncryptSecret. A corrupt or mis-keyed ciphertext
// returns an error rather than a garbage plaintext.
func DecryptSecret(key []byte, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("config: decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("config: init aead: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("config: ciphertext shorter than nonce")
	}
	nonce, box := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", fmt.Errorf("config: decrypt: %w", err)
	}
	return string(plain), nil
}
