// Package crypto implements the symmetric encryption shared by both ends of
// the serial link.
//
// Both peers derive the same 256-bit AES key from a seed string (SHA-256) or
// are handed the raw key bytes directly. Payloads are sealed with AES-256-GCM
// under a fresh random 96-bit nonce per message, and the resulting
// ciphertext/nonce pair is base64-encoded into an Envelope so it can travel
// inside a line-oriented text frame.
//
// A System holds exactly one key for its lifetime and is safe for concurrent
// use.
package crypto
