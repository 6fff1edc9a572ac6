package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrEncryptionRequired  = errors.New("encryption key required")
	ErrKeyUnavailable      = errors.New("ciphertext found but no encryption key configured")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

const (
	cipherPrefix = "enc:v1:"
	hkdfInfo     = "kestrel field cipher v1"
)

// FieldCipher encrypts opaque payloads before they are stored.
//
// Without a key it passes plaintext through unchanged. Values produced in
// that mode carry no prefix, so Decrypt keeps returning them verbatim after
// a key is introduced.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from secret. A base64url-encoded 32-byte
// secret is used as the key directly; anything else is stretched with
// HKDF-SHA256. With an empty secret the cipher runs in passthrough mode,
// unless require is set.
func NewFieldCipher(secret string, require bool) (*FieldCipher, error) {
	if secret == "" {
		if require {
			return nil, ErrEncryptionRequired
		}
		return &FieldCipher{}, nil
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &FieldCipher{aead: aead}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if raw, err := base64.URLEncoding.DecodeString(secret); err == nil && len(raw) == chacha20poly1305.KeySize {
		return raw, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Enabled reports whether a key is configured.
func (c *FieldCipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals plaintext. In passthrough mode it returns the input.
func (c *FieldCipher) Encrypt(plaintext []byte) (string, error) {
	if !c.Enabled() {
		return string(plaintext), nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return cipherPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the cipher
// prefix are returned unchanged.
func (c *FieldCipher) Decrypt(value string) ([]byte, error) {
	if !strings.HasPrefix(value, cipherPrefix) {
		return []byte(value), nil
	}
	if !c.Enabled() {
		return nil, ErrKeyUnavailable
	}

	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, cipherPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return plaintext, nil
}

// SealJSON marshals v and encrypts the result.
func (c *FieldCipher) SealJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return c.Encrypt(data)
}

// OpenJSON decrypts value and unmarshals it into v.
func (c *FieldCipher) OpenJSON(value string, v any) error {
	data, err := c.Decrypt(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
