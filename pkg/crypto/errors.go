package crypto

import (
	"errors"
	"fmt"
)

// ErrAuthentication indicates that the GCM authentication tag did not verify.
// This happens on tampering, transport corruption, or a key mismatch between
// the two peers. No plaintext is ever returned alongside it.
var ErrAuthentication = errors.New("message authentication failed")

// EncryptionError indicates the cipher could not produce output, e.g. the
// random source failed while drawing a nonce.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption failed: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecodingError indicates an envelope field was not validly encoded, such as
// broken base64 or a nonce of the wrong length.
type DecodingError struct {
	// Field is the envelope field that failed to decode ("ciphertext" or "nonce")
	Field string

	Err error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("invalid %s encoding: %v", e.Field, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }
