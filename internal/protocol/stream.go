package protocol

import (
	"bufio"
	"io"
)

// MaxFrameSize bounds a single frame. A longer line ends the stream because
// the next frame boundary can no longer be trusted.
const MaxFrameSize = 1 << 20

// Decoder reassembles frames from a byte stream. A frame may arrive split
// over many reads, and one read may carry several frames.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder reads frames from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxFrameSize)
	return &Decoder{scanner: s}
}

// Next returns the next message. Errors wrapping ErrDecode or
// ErrUnknownMessageType concern only that frame and the caller may keep
// reading. Any other error, including io.EOF, ends the stream.
func (d *Decoder) Next() (Message, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}
		return Decode(line)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
