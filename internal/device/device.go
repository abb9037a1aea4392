// Package device implements the device side of the protocol: a
// single-threaded loop that reads delimited Command frames, dispatches them
// to registered handlers, and writes back one Response per frame.
//
// Each frame is handled to completion before the next read, so a slow
// handler stalls all inbound traffic. Handlers are expected to be short.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/hiroki077/communication-esp32-tauri/internal/framing"
	"github.com/hiroki077/communication-esp32-tauri/pkg/crypto"
	"github.com/hiroki077/communication-esp32-tauri/pkg/protocol"
)

// HandlerFunc processes one Command and produces its Response. The returned
// Response's ResponseTo should echo cmd.Action; the built-in helpers do this.
type HandlerFunc func(cmd protocol.Command) protocol.Response

// Mux dispatches Commands to handlers keyed by action. Unknown actions go to
// the fallback, which is always present: the zero of this design is an error
// Response, never a dropped command.
type Mux struct {
	handlers map[string]HandlerFunc
	fallback HandlerFunc
}

// NewMux returns an empty Mux whose fallback answers unknown actions with an
// error Response.
func NewMux() *Mux {
	return &Mux{
		handlers: make(map[string]HandlerFunc),
		fallback: func(cmd protocol.Command) protocol.Response {
			return protocol.ErrorResponse("Unknown command", protocol.String(cmd.Action))
		},
	}
}

// Handle registers a handler for an action, replacing any previous one.
func (m *Mux) Handle(action string, h HandlerFunc) {
	m.handlers[action] = h
}

// SetFallback replaces the unknown-action handler.
func (m *Mux) SetFallback(h HandlerFunc) {
	m.fallback = h
}

// Dispatch routes cmd to its handler, or the fallback for unknown actions.
func (m *Mux) Dispatch(cmd protocol.Command) protocol.Response {
	if h, ok := m.handlers[cmd.Action]; ok {
		return h(cmd)
	}
	return m.fallback(cmd)
}

// DefaultMux returns a Mux with the device's built-in command set.
func DefaultMux() *Mux {
	m := NewMux()
	m.Handle("hello", func(cmd protocol.Command) protocol.Response {
		return protocol.NewResponse("hello_response",
			"Hello from ESP32! Bidirectional crypto communication works!",
			protocol.String(cmd.Action))
	})
	m.Handle("ping", func(cmd protocol.Command) protocol.Response {
		return protocol.NewResponse("pong", "Pong from ESP32!", protocol.String(cmd.Action))
	})
	m.Handle("status", func(cmd protocol.Command) protocol.Response {
		return protocol.NewResponse("status_response", "ESP32 is running normally", protocol.String(cmd.Action))
	})
	return m
}

// Config configures a Runner.
type Config struct {
	// Crypto is the shared cipher. Required when Encrypted is set.
	Crypto *crypto.System

	// Encrypted selects whether frames are exchanged as envelopes.
	Encrypted bool

	Logger zerolog.Logger
}

// Runner is the device-side receive loop bound to a byte stream (the console
// UART, or stdin/stdout in the simulator). It is single-threaded: one frame
// is received, dispatched and answered before the next is read.
type Runner struct {
	r      io.Reader
	w      io.Writer
	mux    *Mux
	crypto *crypto.System
	enc    bool
	logger zerolog.Logger
	framer framing.Framer
}

// NewRunner builds a Runner reading frames from r and writing responses to w.
func NewRunner(r io.Reader, w io.Writer, mux *Mux, cfg Config) (*Runner, error) {
	if cfg.Encrypted && cfg.Crypto == nil {
		return nil, errors.New("encrypted mode requires a cipher")
	}
	return &Runner{
		r:      r,
		w:      w,
		mux:    mux,
		crypto: cfg.Crypto,
		enc:    cfg.Encrypted,
		logger: cfg.Logger,
	}, nil
}

// Run announces readiness and processes frames until the input ends, the
// context is cancelled, or the stream fails. A malformed frame produces an
// error Response and the loop continues; it never crashes the device.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.writeResponse(protocol.NewResponse("ready", "ESP32 ready for commands", nil)); err != nil {
		return err
	}

	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.r.Read(buf)
		if n > 0 {
			for _, frame := range r.framer.Feed(buf[:n]) {
				r.handleFrame(frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info().Msg("input closed, device loop ending")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (r *Runner) handleFrame(frame []byte) {
	cmd, err := r.decodeFrame(frame)
	if err != nil {
		r.logger.Warn().Err(err).Msg("rejecting undecodable command frame")
		resp := protocol.ErrorResponse(rejectionMessage(err), nil)
		if werr := r.writeResponse(resp); werr != nil {
			r.logger.Error().Err(werr).Msg("failed to write error response")
		}
		return
	}

	r.logger.Info().Str("action", cmd.Action).Msg("processing command")
	resp := r.mux.Dispatch(cmd)
	if err := r.writeResponse(resp); err != nil {
		r.logger.Error().Err(err).Str("action", cmd.Action).Msg("failed to write response")
	}
}

func (r *Runner) decodeFrame(frame []byte) (protocol.Command, error) {
	if r.enc {
		return protocol.DecodeEncryptedCommand(frame, r.crypto)
	}
	return protocol.DecodeCommand(frame)
}

func (r *Runner) writeResponse(resp protocol.Response) error {
	var body []byte
	var err error
	if r.enc {
		body, err = protocol.EncodeEncryptedResponse(resp, r.crypto)
	} else {
		body, err = protocol.EncodeResponse(resp)
	}
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if _, err := r.w.Write(framing.Seal(body)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// rejectionMessage maps a decode failure to the message reported back to the
// host. Authentication failures are named explicitly since they may mean a
// key mismatch rather than garbage on the line.
func rejectionMessage(err error) string {
	if crypto.IsAuthenticationError(err) {
		return "Authentication failed"
	}
	return "Invalid JSON format"
}
