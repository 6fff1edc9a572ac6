// Package security provides identifier tokenization and at-rest field encryption.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tokenizer derives deterministic, one-way pseudonyms for identifiers.
type Tokenizer struct {
	salt        []byte
	defaultSalt bool
}

// NewTokenizer creates a tokenizer keyed by salt. An empty salt falls back
// to domain.DefaultSalt.
func NewTokenizer(salt string) *Tokenizer {
	if salt == "" {
		salt = domain.DefaultSalt
	}
	return &Tokenizer{
		salt:        []byte(salt),
		defaultSalt: salt == domain.DefaultSalt,
	}
}

// Token returns the hex HMAC-SHA256 of the normalized identifier.
func (t *Tokenizer) Token(identifier string) string {
	mac := hmac.New(sha256.New, t.salt)
	mac.Write([]byte(Normalize(identifier)))
	return hex.EncodeToString(mac.Sum(nil))
}

// UsesDefaultSalt reports whether the well-known default salt is in use.
func (t *Tokenizer) UsesDefaultSalt() bool {
	return t.defaultSalt
}

// Normalize lowercases and trims an identifier.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
