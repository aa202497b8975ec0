package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderops/backoffice/internal/domain"
)

func TestVaultRoundTrip(t *testing.T) {
	v, err := NewVault("test-secret-key")
	require.NoError(t, err)

	ct, err := v.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", ct)

	pt, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pt)
}

func TestVaultEncryptIsNonDeterministic(t *testing.T) {
	v, err := NewVault("test-secret-key")
	require.NoError(t, err)

	a, err := v.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := v.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVaultEmptyKeyIsConfigError(t *testing.T) {
	_, err := NewVault("  ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestVaultDecryptFailures(t *testing.T) {
	v, err := NewVault("test-secret-key")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"too short", "YWJj"},
		{"tampered", func() string {
			ct, err := v.Encrypt("secret")
			require.NoError(t, err)
			return ct[:len(ct)-4] + "AAAA"
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decrypt(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrCrypto))
		})
	}
}

func TestVaultWrongKeyFails(t *testing.T) {
	a, err := NewVault("key-one")
	require.NoError(t, err)
	b, err := NewVault("key-two")
	require.NoError(t, err)

	ct, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(ct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCrypto))
}
