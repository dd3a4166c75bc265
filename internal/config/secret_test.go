package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestEncryptSecretRoundTrips(t *testing.T) {
	key := testKey()
	ciphertext, err := EncryptSecret(key, "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", ciphertext)

	plain, err := DecryptSecret(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptSecretProducesDistinctCiphertexts(t *testing.T) {
	key := testKey()
	a, err := EncryptSecret(key, "same-plaintext")
	require.NoError(t, err)
	b, err := EncryptSecret(key, "same-plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonce should make repeat encryptions differ")
}

func TestDecryptSecretRejectsWrongKey(t *testing.T) {
	ciphertext, err := EncryptSecret(testKey(), "top-secret")
	require.NoError(t, err)

	wrongKey := []byte("zyxwvutsrqponmlkjihgfedcba987654")
	_, err = DecryptSecret(wrongKey, ciphertext)
	assert.Error(t, err)
}

func TestDecryptSecretRejectsGarbage(t *testing.T) {
	_, err := DecryptSecret(testKey(), "not-valid-base64!!")
	assert.Error(t, err)
}
