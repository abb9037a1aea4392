// Package framing delimits discrete messages on the raw serial byte stream.
// Frames are newline-terminated UTF-8 records; partial reads are buffered
// until the terminator arrives.
package framing

import "bytes"

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// Framer accumulates raw serial bytes and splits out complete frames. One
// Framer belongs to one connection and is not safe for concurrent use; the
// read loop that owns the connection is its only caller.
type Framer struct {
	buf bytes.Buffer
}

// Feed appends b to the internal buffer and returns every complete frame now
// available, in order, with the delimiter and surrounding whitespace
// stripped. Bytes after the last delimiter are retained for the next call.
// Empty frames (consecutive delimiters, or bare CRLF) are skipped.
func (f *Framer) Feed(b []byte) [][]byte {
	f.buf.Write(b)

	var frames [][]byte
	for {
		i := bytes.IndexByte(f.buf.Bytes(), Delimiter)
		if i < 0 {
			return frames
		}
		line := bytes.TrimSpace(f.buf.Next(i + 1)[:i])
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		frames = append(frames, frame)
	}
}

// Pending returns the number of buffered bytes not yet forming a complete
// frame.
func (f *Framer) Pending() int { return f.buf.Len() }

// Seal returns body followed by exactly one delimiter, ready to hand to the
// transport. The input is not modified.
func Seal(body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, body...)
	return append(out, Delimiter)
}
