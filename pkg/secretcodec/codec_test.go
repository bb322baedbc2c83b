package secretcodec

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef-test-key"

func TestRoundTrip(t *testing.T) {
	codec, err := New(testKey)
	require.NoError(t, err)

	secrets := []string{
		"JBSWY3DPEHPK3PXP",
		"GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		"",
		"with spaces and symbols !@#$%^&*()",
		"unicodé ✓",
	}

	for _, s := range secrets {
		ciphertext, err := codec.Encrypt(s)
		require.NoError(t, err)
		assert.NotEqual(t, s, ciphertext)

		plaintext, err := codec.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, s, plaintext)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	codec, err := New(testKey)
	require.NoError(t, err)

	a, err := codec.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	b, err := codec.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptFailures(t *testing.T) {
	codec, err := New(testKey)
	require.NoError(t, err)

	valid, err := codec.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(valid)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	other, err := New("another-key-that-is-long-enough")
	require.NoError(t, err)

	tests := []struct {
		name       string
		codec      *Codec
		ciphertext string
	}{
		{"empty", codec, ""},
		{"not base64", codec, "%%%not-base64%%%"},
		{"too short", codec, base64.StdEncoding.EncodeToString([]byte("short"))},
		{"tampered", codec, tampered},
		{"wrong key", other, valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := tt.codec.Decrypt(tt.ciphertext)
				assert.Error(t, err)
			})
		})
	}
}

func TestNewRejectsWeakKeys(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = New("short")
	assert.Error(t, err)
}

func TestEncryptRejectsInvalidUTF8(t *testing.T) {
	codec, err := New(testKey)
	require.NoError(t, err)

	_, err = codec.Encrypt(string([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, ErrInvalidPlaintext)
}
