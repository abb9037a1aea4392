package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12
)

// Envelope is the wire representation of an encrypted payload. Both fields
// are standard base64; the ciphertext carries the GCM authentication tag
// appended after the sealed data.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// System encrypts and decrypts payloads under a single AES-256 key fixed at
// construction. It has no mutable state and may be shared freely across
// goroutines.
type System struct {
	aead cipher.AEAD
}

// NewFromSeed derives the key as SHA-256 of the seed string. The same seed
// always yields the same key, so two peers constructed with an identical seed
// can talk to each other. Any string is accepted, including the empty one.
func NewFromSeed(seed string) *System {
	key := sha256.Sum256([]byte(seed))
	s, _ := NewFromKey(key[:])
	return s
}

// NewFromKey builds a System from raw key bytes, which must be exactly
// KeySize long.
func NewFromKey(key []byte) (*System, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &System{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce and returns the
// base64-encoded envelope. The nonce comes from crypto/rand rather than a
// counter, since the two peers run as independent processes and must not
// collide. Empty plaintext is valid.
func (s *System) Encrypt(plaintext []byte) (Envelope, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, &EncryptionError{Err: err}
	}

	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens an envelope and returns the plaintext. It returns a
// DecodingError if either field is not valid base64 or the nonce has the
// wrong length, and ErrAuthentication if the tag does not verify.
func (s *System) Decrypt(env Envelope) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, &DecodingError{Field: "nonce", Err: err}
	}
	if len(nonce) != NonceSize {
		return nil, &DecodingError{
			Field: "nonce",
			Err:   fmt.Errorf("expected %d bytes, got %d", NonceSize, len(nonce)),
		}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, &DecodingError{Field: "ciphertext", Err: err}
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// IsAuthenticationError reports whether err is an authentication failure.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
