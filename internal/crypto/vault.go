// Package crypto provides the credential vault used to protect stored user
// passwords and tokens with authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/traderops/backoffice/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
)

// kdfSalt scopes the key derivation to this vault. Changing it invalidates
// every stored ciphertext.
var kdfSalt = []byte("backoffice-credential-vault-v1")

// Vault performs symmetric authenticated encryption with a key derived once
// at startup from the process-wide secret. A decrypt failure is always
// surfaced as domain.ErrCrypto; there is no plaintext or encoding fallback.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the AES key from the given secret and returns a ready
// Vault. An empty secret is a configuration error and must abort startup.
func NewVault(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("crypto: encryption key is empty: %w", domain.ErrConfig)
	}

	key := pbkdf2.Key([]byte(secret), kdfSalt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals the plaintext with a fresh random nonce and returns
// base64(nonce || ciphertext), suitable for storage in a text column.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed input or authentication failure
// returns an error wrapping domain.ErrCrypto.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", domain.ErrCrypto)
	}

	nonceLen := v.aead.NonceSize()
	if len(raw) < nonceLen {
		return "", fmt.Errorf("crypto: ciphertext too short: %w", domain.ErrCrypto)
	}

	plaintext, err := v.aead.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: opening ciphertext: %w", domain.ErrCrypto)
	}

	return string(plaintext), nil
}
