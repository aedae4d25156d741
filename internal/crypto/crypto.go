// Package crypto signs stable asset references.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var (
	ErrInvalidKey       = errors.New("signing key must be 32 bytes")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer produces and checks HMAC-SHA256 signatures over asset keys.
// Signatures carry no expiry; a reference stays valid while the key is unchanged.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. The key must be exactly 32 bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// Sign returns the URL-safe signature for an object key.
func (s *Signer) Sign(objectKey string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(objectKey))
}

// Verify checks sig against objectKey in constant time.
func (s *Signer) Verify(objectKey, sig string) error {
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, s.mac(objectKey)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) mac(objectKey string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(objectKey))
	return h.Sum(nil)
}
