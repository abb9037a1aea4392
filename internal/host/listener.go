// Package host implements the host side of the command/response protocol:
// it owns the read loop over the serial connection, decodes inbound frames
// into Responses, publishes them to observers, and sends Commands.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hiroki077/communication-esp32-tauri/internal/framing"
	"github.com/hiroki077/communication-esp32-tauri/internal/transport"
	"github.com/hiroki077/communication-esp32-tauri/pkg/crypto"
	"github.com/hiroki077/communication-esp32-tauri/pkg/protocol"
)

// State is the listener lifecycle state.
type State int

const (
	// StateDisconnected means no read loop is running.
	StateDisconnected State = iota

	// StateListening means the read loop is consuming frames.
	StateListening
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateListening:
		return "listening"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a Listener.
type Config struct {
	// Crypto is the shared cipher. Required when Encrypted is set; when
	// present on a plaintext channel it is used as a decode fallback for
	// stray encrypted frames.
	Crypto *crypto.System

	// Encrypted selects which frame shape this channel expects first.
	Encrypted bool

	Logger zerolog.Logger
}

// Listener runs the host-side dispatch loop over one serial connection.
//
// Sending and listening share the same transport.Owner: SendCommand may be
// called from any goroutine, including while the read loop is blocked in a
// read. Correlation of responses to sent commands is the caller's job (see
// Await); the protocol itself is fire-and-forget.
type Listener struct {
	owner  *transport.Owner
	crypto *crypto.System
	enc    bool
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	last      *protocol.Response
	observers map[int]func(protocol.Response)
	nextObs   int
	stopping  bool
	done      chan struct{}
}

// NewListener wraps an owned connection. The listener starts disconnected;
// call Start to begin consuming frames.
func NewListener(owner *transport.Owner, cfg Config) *Listener {
	return &Listener{
		owner:     owner,
		crypto:    cfg.Crypto,
		enc:       cfg.Encrypted,
		logger:    cfg.Logger,
		observers: make(map[int]func(protocol.Response)),
	}
}

// Start launches the read loop. It fails if the listener is already running
// or the connection has been closed.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateListening {
		return errors.New("listener already running")
	}
	if l.owner.Closed() {
		return &transport.Error{Op: "read", Err: transport.ErrClosed}
	}
	if l.enc && l.crypto == nil {
		return errors.New("encrypted mode requires a cipher")
	}

	l.state = StateListening
	l.stopping = false
	l.done = make(chan struct{})
	go l.run(l.done)
	return nil
}

// Stop ends the Listening state and releases the serial handle, unblocking
// any pending read. It is safe to call more than once.
func (l *Listener) Stop() error {
	l.mu.Lock()
	l.stopping = true
	done := l.done
	l.mu.Unlock()

	err := l.owner.Close()
	if done != nil {
		<-done
	}
	return err
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastResponse returns the most recently received Response, if any.
func (l *Listener) LastResponse() (protocol.Response, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return protocol.Response{}, false
	}
	return *l.last, true
}

// Subscribe registers an observer called for every decoded Response. The
// callback runs on the read loop goroutine and must return quickly. The
// returned function removes the observer.
func (l *Listener) Subscribe(fn func(protocol.Response)) func() {
	l.mu.Lock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

// SendCommand encodes one Command (encrypted per the configured mode) and
// writes it as a single frame. It does not wait for a response and works
// whether or not the read loop is running.
func (l *Listener) SendCommand(action string, data *string) error {
	if action == "" {
		return errors.New("action must not be empty")
	}
	cmd := protocol.Command{Action: action, Data: data}

	var body []byte
	var err error
	if l.enc {
		body, err = protocol.EncodeEncryptedCommand(cmd, l.crypto)
	} else {
		body, err = protocol.EncodeCommand(cmd)
	}
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	if err := l.owner.Write(framing.Seal(body)); err != nil {
		return err
	}
	l.logger.Debug().Str("action", action).Bool("encrypted", l.enc).Msg("command sent")
	return nil
}

// Await blocks until a Response arrives whose response_to matches action, or
// until ctx is done. The protocol carries no request IDs, so two in-flight
// commands with the same action are indistinguishable here; callers that
// need stricter correlation must not overlap same-action commands.
func (l *Listener) Await(ctx context.Context, action string) (protocol.Response, error) {
	ch := make(chan protocol.Response, 1)
	cancel := l.Subscribe(func(r protocol.Response) {
		if r.ResponseTo != nil && *r.ResponseTo == action {
			select {
			case ch <- r:
			default:
			}
		}
	})
	defer cancel()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// Decrypt opens an arbitrary received envelope with the configured cipher.
func (l *Listener) Decrypt(env crypto.Envelope) ([]byte, error) {
	if l.crypto == nil {
		return nil, errors.New("no cipher configured")
	}
	return l.crypto.Decrypt(env)
}

func (l *Listener) run(done chan struct{}) {
	defer close(done)
	defer func() {
		l.mu.Lock()
		l.state = StateDisconnected
		l.mu.Unlock()
	}()

	l.logger.Info().Bool("encrypted", l.enc).Msg("listening")

	var framer framing.Framer
	buf := make([]byte, 1024)
	for {
		n, err := l.owner.Read(buf)
		if err != nil {
			l.mu.Lock()
			stopping := l.stopping
			l.mu.Unlock()
			if stopping || l.owner.Closed() {
				l.logger.Info().Msg("listener stopped")
				return
			}
			l.logger.Error().Err(err).Msg("transport failure, listener terminating")
			return
		}
		if n == 0 {
			continue
		}
		for _, frame := range framer.Feed(buf[:n]) {
			l.handleFrame(frame)
		}
	}
}

// handleFrame decodes one frame and publishes it. Decode failures are
// diagnostics, not fatal: the offending frame is dropped and the loop
// continues.
func (l *Listener) handleFrame(frame []byte) {
	resp, err := l.decodeFrame(frame)
	if err != nil {
		if crypto.IsAuthenticationError(err) {
			// Possible tampering or key mismatch; always surfaced loudly.
			l.logger.Error().Err(err).Msg("frame failed authentication")
		} else {
			l.logger.Warn().Err(err).Int("len", len(frame)).Msg("discarding undecodable frame")
		}
		return
	}

	l.logger.Debug().
		Str("status", resp.Status).
		Str("message", resp.Message).
		Msg("response received")

	l.mu.Lock()
	r := resp
	l.last = &r
	observers := make([]func(protocol.Response), 0, len(l.observers))
	for _, fn := range l.observers {
		observers = append(observers, fn)
	}
	l.mu.Unlock()

	for _, fn := range observers {
		fn(resp)
	}
}

// decodeFrame tries the shape this channel expects first, then falls back to
// the other shape so plaintext boot banners still surface on an encrypted
// channel. Authentication failures never fall through to the fallback.
func (l *Listener) decodeFrame(frame []byte) (protocol.Response, error) {
	if l.enc {
		resp, err := protocol.DecodeEncryptedResponse(frame, l.crypto)
		if err == nil {
			return resp, nil
		}
		var malformed *protocol.MalformedError
		if errors.As(err, &malformed) && malformed.Shape == "envelope" {
			if plain, perr := protocol.DecodeResponse(frame); perr == nil {
				return plain, nil
			}
		}
		return protocol.Response{}, err
	}

	resp, err := protocol.DecodeResponse(frame)
	if err == nil {
		return resp, nil
	}
	if l.crypto != nil {
		if enc, eerr := protocol.DecodeEncryptedResponse(frame, l.crypto); eerr == nil {
			return enc, nil
		}
	}
	return protocol.Response{}, err
}
