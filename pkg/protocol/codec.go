package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/hiroki077/communication-esp32-tauri/pkg/crypto"
)

// MalformedError indicates that a frame could not be decoded into the
// expected message shape: invalid JSON, a missing required field, or a field
// of the wrong type.
type MalformedError struct {
	// Shape is the message shape that was expected ("command", "response",
	// or "envelope")
	Shape string

	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Shape, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// EncodeCommand serializes a Command to its canonical JSON text.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeCommand parses a plaintext Command frame. Action must be present and
// non-empty.
func DecodeCommand(data []byte) (Command, error) {
	var raw struct {
		Action *string `json:"action"`
		Data   *string `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, &MalformedError{Shape: "command", Err: err}
	}
	if raw.Action == nil || *raw.Action == "" {
		return Command{}, &MalformedError{Shape: "command", Err: fmt.Errorf("missing required field %q", "action")}
	}
	return Command{Action: *raw.Action, Data: raw.Data}, nil
}

// EncodeResponse serializes a Response to its canonical JSON text.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a plaintext Response frame. Status, message and
// timestamp must all be present; message may be empty.
func DecodeResponse(data []byte) (Response, error) {
	var raw struct {
		Status     *string `json:"status"`
		Message    *string `json:"message"`
		Timestamp  *int64  `json:"timestamp"`
		ResponseTo *string `json:"response_to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Response{}, &MalformedError{Shape: "response", Err: err}
	}
	if raw.Status == nil || *raw.Status == "" {
		return Response{}, &MalformedError{Shape: "response", Err: fmt.Errorf("missing required field %q", "status")}
	}
	if raw.Message == nil {
		return Response{}, &MalformedError{Shape: "response", Err: fmt.Errorf("missing required field %q", "message")}
	}
	if raw.Timestamp == nil {
		return Response{}, &MalformedError{Shape: "response", Err: fmt.Errorf("missing required field %q", "timestamp")}
	}
	return Response{
		Status:     *raw.Status,
		Message:    *raw.Message,
		Timestamp:  *raw.Timestamp,
		ResponseTo: raw.ResponseTo,
	}, nil
}

// DecodeEnvelope parses an encrypted frame into its envelope. Both fields
// must be present and non-empty; the base64 content is validated later by
// crypto.System.Decrypt.
func DecodeEnvelope(data []byte) (crypto.Envelope, error) {
	var raw struct {
		Ciphertext *string `json:"ciphertext"`
		Nonce      *string `json:"nonce"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return crypto.Envelope{}, &MalformedError{Shape: "envelope", Err: err}
	}
	if raw.Ciphertext == nil || *raw.Ciphertext == "" {
		return crypto.Envelope{}, &MalformedError{Shape: "envelope", Err: fmt.Errorf("missing required field %q", "ciphertext")}
	}
	if raw.Nonce == nil || *raw.Nonce == "" {
		return crypto.Envelope{}, &MalformedError{Shape: "envelope", Err: fmt.Errorf("missing required field %q", "nonce")}
	}
	return crypto.Envelope{Ciphertext: *raw.Ciphertext, Nonce: *raw.Nonce}, nil
}

// EncodeEncryptedCommand encodes a Command, seals it, and serializes the
// resulting envelope.
func EncodeEncryptedCommand(cmd Command, cs *crypto.System) ([]byte, error) {
	plaintext, err := EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	env, err := cs.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEncryptedCommand is the inverse of EncodeEncryptedCommand. It
// propagates crypto.ErrAuthentication on tag failure and MalformedError if
// the frame is not an envelope or the decrypted payload is not a Command.
func DecodeEncryptedCommand(data []byte, cs *crypto.System) (Command, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return Command{}, err
	}
	plaintext, err := cs.Decrypt(env)
	if err != nil {
		return Command{}, err
	}
	return DecodeCommand(plaintext)
}

// EncodeEncryptedResponse encodes a Response, seals it, and serializes the
// resulting envelope.
func EncodeEncryptedResponse(resp Response, cs *crypto.System) ([]byte, error) {
	plaintext, err := EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	env, err := cs.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEncryptedResponse is the inverse of EncodeEncryptedResponse.
func DecodeEncryptedResponse(data []byte, cs *crypto.System) (Response, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return Response{}, err
	}
	plaintext, err := cs.Decrypt(env)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(plaintext)
}
