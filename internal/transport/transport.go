// Package transport owns the physical serial connection. It opens the port
// at the fixed line configuration both peers agree on (115200 8N1, no flow
// control) and arbitrates access between the command-sending path and the
// listener's read loop.
package transport

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the line rate both peers are built for.
const DefaultBaud = 115200

// ErrClosed is returned for operations on a closed connection.
var ErrClosed = errors.New("port is closed")

// Error wraps a failure of the underlying serial handle.
type Error struct {
	// Op is the operation that failed ("open", "read", "write", "close")
	Op string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Port is the minimal surface the rest of the system needs from a serial
// handle. *serial.Port satisfies it; tests substitute in-memory pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush discards stale buffered data, typically once after opening
	Flush() error
}

// Config selects the port to open. Baud defaults to DefaultBaud; the rest of
// the line configuration (8 data bits, no parity, 1 stop bit) is fixed.
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the named serial port. The returned Port blocks on Read unless
// a ReadTimeout was configured.
func Open(cfg Config) (Port, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return port, nil
}

var portGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/tty.usb*",
	"/dev/cu.usb*",
	"/dev/cu.SLAB*",
}

// ListPorts enumerates serial port device paths likely to carry the device.
// The serial driver has no enumeration API, so this scans the conventional
// /dev names for USB serial adapters.
func ListPorts() []string {
	var ports []string
	for _, pattern := range portGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports
}

// Owner holds exclusive mutable access to one open Port. Writes of complete
// frames are serialized under a mutex so concurrent senders never interleave
// at the byte level. Reads are deliberately not covered by that mutex: the
// listener may sit in a blocking Read without starving writers.
type Owner struct {
	writeMu sync.Mutex
	port    Port

	closeMu sync.Mutex
	closed  bool
}

// NewOwner wraps an open port. The Owner takes over the handle; callers must
// not use the port directly afterwards.
func NewOwner(port Port) *Owner {
	return &Owner{port: port}
}

// Write sends p as one atomic unit. Callers pass fully framed bytes; the
// Owner does not interpret content.
func (o *Owner) Write(p []byte) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	if o.isClosed() {
		return &Error{Op: "write", Err: ErrClosed}
	}
	if _, err := o.port.Write(p); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

// Read fills p from the port. It is called only by the listener's read loop
// and may block until bytes arrive or the port is closed.
func (o *Owner) Read(p []byte) (int, error) {
	return o.port.Read(p)
}

// Close releases the serial handle. A read blocked in the listener unblocks
// with an error. Close is idempotent.
func (o *Owner) Close() error {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.port.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

// Closed reports whether Close has been called.
func (o *Owner) Closed() bool {
	return o.isClosed()
}

func (o *Owner) isClosed() bool {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	return o.closed
}
