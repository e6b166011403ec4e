package crypto

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low iteration count keeps the suite fast; derivation itself is covered separately.
func newTestVault(t *testing.T, secret string) *Vault {
	t.Helper()
	v, err := NewVault(secret, WithIterations(1000))
	require.NoError(t, err)
	return v
}

func flipBit(t *testing.T, b64 string, idx int) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	raw[idx%len(raw)] ^= 0x01
	return base64.StdEncoding.EncodeToString(raw)
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t, "app-secret")

	for _, plaintext := range []string{"abcd efgh ijkl mnop", "", "pässwörd-ünicode", "x"} {
		ct, iv, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := v.Decrypt(ct, iv)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestVault_FreshNoncePerCall(t *testing.T) {
	v := newTestVault(t, "app-secret")

	ct1, iv1, err := v.Encrypt("same")
	require.NoError(t, err)
	ct2, iv2, err := v.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, ct1, ct2)
}

func TestVault_TamperDetection(t *testing.T) {
	v := newTestVault(t, "app-secret")
	ct, iv, err := v.Encrypt("MySuperSecretPassword123!")
	require.NoError(t, err)

	rawCT, _ := base64.StdEncoding.DecodeString(ct)
	rawIV, _ := base64.StdEncoding.DecodeString(iv)

	for i := 0; i < len(rawCT); i++ {
		_, err := v.Decrypt(flipBit(t, ct, i), iv)
		require.Error(t, err, "ciphertext bit flip at byte %d must fail", i)
		assert.True(t, errors.Is(err, ErrDecryption))
	}

	for i := 0; i < len(rawIV); i++ {
		_, err := v.Decrypt(ct, flipBit(t, iv, i))
		require.Error(t, err, "iv bit flip at byte %d must fail", i)
		assert.True(t, errors.Is(err, ErrDecryption))
	}
}

func TestVault_RotatedSecret(t *testing.T) {
	ct, iv, err := newTestVault(t, "old-secret").Encrypt("hunter22")
	require.NoError(t, err)

	_, err = newTestVault(t, "new-secret").Decrypt(ct, iv)
	var decErr *DecryptionError
	assert.ErrorAs(t, err, &decErr)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestVault_MalformedInput(t *testing.T) {
	v := newTestVault(t, "app-secret")
	ct, iv, err := v.Encrypt("secret")
	require.NoError(t, err)

	tests := []struct {
		name string
		ct   string
		iv   string
	}{
		{"ciphertext not base64", "%%%", iv},
		{"iv not base64", ct, "%%%"},
		{"iv wrong length", ct, base64.StdEncoding.EncodeToString([]byte("short"))},
		{"empty ciphertext", "", iv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decrypt(tt.ct, tt.iv)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}
}

func TestNewVault_EmptySecret(t *testing.T) {
	_, err := NewVault("")
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey("secret", []byte(DefaultSalt), 10)
	k2 := DeriveKey("secret", []byte(DefaultSalt), 10)
	k3 := DeriveKey("secret", []byte("other-salt"), 10)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, s1, 64)
	assert.NotEqual(t, s1, s2)
}
