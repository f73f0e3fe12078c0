// Package messaging implements the browser native-messaging channel: each
// frame is a 4-byte little-endian length followed by that many bytes of
// UTF-8 JSON.
package messaging

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxOutgoing caps a message sent to the browser.
	MaxOutgoing = 1 << 20
	// MaxIncoming caps a message accepted from the browser.
	MaxIncoming = 64 << 20

	headerLen = 4
)

// ErrTooLarge is returned for a frame over the size limit.
var ErrTooLarge = errors.New("message too large")

// Conn reads and writes frames. Writes are serialized so responses and
// notices may be sent from different goroutines; reads are not.
type Conn struct {
	r  io.Reader
	w  io.Writer
	mu sync.Mutex
}

// NewConn wraps a reader and writer, usually stdin and stdout.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: r, w: w}
}

// ReadFrame returns the next frame's payload. It returns io.EOF when the
// browser closes the channel between frames. An oversized frame is skipped
// and reported as ErrTooLarge, leaving the stream positioned at the next frame.
func (c *Conn) ReadFrame() ([]byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}

	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxIncoming {
		if _, err := io.CopyN(io.Discard, c.r, int64(n)); err != nil {
			return nil, fmt.Errorf("failed to skip oversized frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("truncated frame: %w", io.ErrUnexpectedEOF)
	}
	return payload, nil
}

// Read decodes the next frame into v.
func (c *Conn) Read(v any) error {
	payload, err := c.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// Write encodes v as one frame.
func (c *Conn) Write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if len(payload) > MaxOutgoing {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	frame := make([]byte, headerLen+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerLen:], payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
