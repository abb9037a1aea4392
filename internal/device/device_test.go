package device

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroki077/communication-esp32-tauri/internal/framing"
	"github.com/hiroki077/communication-esp32-tauri/pkg/crypto"
	"github.com/hiroki077/communication-esp32-tauri/pkg/protocol"
)

// runDevice feeds input through a Runner until EOF and returns every
// Response it wrote, decoded per the configured mode.
func runDevice(t *testing.T, input []byte, cfg Config) []protocol.Response {
	t.Helper()

	var out bytes.Buffer
	runner, err := NewRunner(bytes.NewReader(input), &out, DefaultMux(), cfg)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	var f framing.Framer
	var responses []protocol.Response
	for _, frame := range f.Feed(out.Bytes()) {
		var resp protocol.Response
		if cfg.Encrypted {
			resp, err = protocol.DecodeEncryptedResponse(frame, cfg.Crypto)
		} else {
			resp, err = protocol.DecodeResponse(frame)
		}
		require.NoError(t, err, "device wrote undecodable frame %q", frame)
		responses = append(responses, resp)
	}
	return responses
}

func plainConfig() Config {
	return Config{Logger: zerolog.Nop()}
}

func TestRunner_ReadyBanner(t *testing.T) {
	responses := runDevice(t, nil, plainConfig())
	require.Len(t, responses, 1)
	assert.Equal(t, "ready", responses[0].Status)
	assert.Nil(t, responses[0].ResponseTo)
	assert.NotZero(t, responses[0].Timestamp)
}

func TestRunner_HelloPlaintext(t *testing.T) {
	frame, err := protocol.EncodeCommand(protocol.Command{Action: "hello"})
	require.NoError(t, err)

	responses := runDevice(t, framing.Seal(frame), plainConfig())
	require.Len(t, responses, 2) // ready banner + hello response

	resp := responses[1]
	assert.Equal(t, "hello_response", resp.Status)
	assert.Contains(t, resp.Message, "Hello from ESP32!")
	require.NotNil(t, resp.ResponseTo)
	assert.Equal(t, "hello", *resp.ResponseTo)
}

func TestRunner_HelloEncrypted(t *testing.T) {
	cs := crypto.NewFromSeed("device test key")
	cfg := Config{Crypto: cs, Encrypted: true, Logger: zerolog.Nop()}

	frame, err := protocol.EncodeEncryptedCommand(protocol.Command{Action: "hello"}, cs)
	require.NoError(t, err)

	responses := runDevice(t, framing.Seal(frame), cfg)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[1].ResponseTo)
	assert.Equal(t, "hello", *responses[1].ResponseTo)
}

func TestRunner_UnknownAction(t *testing.T) {
	frame, err := protocol.EncodeCommand(protocol.Command{Action: "bogus"})
	require.NoError(t, err)

	responses := runDevice(t, framing.Seal(frame), plainConfig())
	require.Len(t, responses, 2)

	resp := responses[1]
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "Unknown command", resp.Message)
	require.NotNil(t, resp.ResponseTo)
	assert.Equal(t, "bogus", *resp.ResponseTo)
}

func TestRunner_MalformedFrameBetweenValidOnes(t *testing.T) {
	hello, err := protocol.EncodeCommand(protocol.Command{Action: "hello"})
	require.NoError(t, err)
	ping, err := protocol.EncodeCommand(protocol.Command{Action: "ping"})
	require.NoError(t, err)

	var input bytes.Buffer
	input.Write(framing.Seal(hello))
	input.WriteString("!!! not json !!!\n")
	input.Write(framing.Seal(ping))

	responses := runDevice(t, input.Bytes(), plainConfig())
	require.Len(t, responses, 4) // ready, hello_response, error, pong

	assert.Equal(t, "hello_response", responses[1].Status)
	assert.Equal(t, protocol.StatusError, responses[2].Status)
	assert.Equal(t, "Invalid JSON format", responses[2].Message)
	assert.Nil(t, responses[2].ResponseTo)
	assert.Equal(t, "pong", responses[3].Status)
}

func TestRunner_WrongKeyReportsAuthFailure(t *testing.T) {
	deviceKey := crypto.NewFromSeed("device key")
	hostKey := crypto.NewFromSeed("some other key")
	cfg := Config{Crypto: deviceKey, Encrypted: true, Logger: zerolog.Nop()}

	frame, err := protocol.EncodeEncryptedCommand(protocol.Command{Action: "hello"}, hostKey)
	require.NoError(t, err)

	responses := runDevice(t, framing.Seal(frame), cfg)
	require.Len(t, responses, 2)
	assert.Equal(t, protocol.StatusError, responses[1].Status)
	assert.Equal(t, "Authentication failed", responses[1].Message)
}

func TestMux_CustomHandlerAndFallback(t *testing.T) {
	m := NewMux()
	m.Handle("echo", func(cmd protocol.Command) protocol.Response {
		msg := ""
		if cmd.Data != nil {
			msg = *cmd.Data
		}
		return protocol.NewResponse("echo_response", msg, protocol.String(cmd.Action))
	})

	resp := m.Dispatch(protocol.Command{Action: "echo", Data: protocol.String("hi")})
	assert.Equal(t, "echo_response", resp.Status)
	assert.Equal(t, "hi", resp.Message)

	resp = m.Dispatch(protocol.Command{Action: "missing"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	require.NotNil(t, resp.ResponseTo)
	assert.Equal(t, "missing", *resp.ResponseTo)
}

func TestNewRunner_EncryptedRequiresCipher(t *testing.T) {
	_, err := NewRunner(bytes.NewReader(nil), &bytes.Buffer{}, NewMux(), Config{Encrypted: true})
	assert.Error(t, err)
}
