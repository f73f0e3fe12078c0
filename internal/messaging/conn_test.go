package messaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func frame(payload string) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func TestWriteFraming(t *testing.T) {
	var out bytes.Buffer
	c := NewConn(nil, &out)
	if err := c.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := frame(`{"a":1}`); !bytes.Equal(out.Bytes(), want) {
		t.Errorf("frame = %v, want %v", out.Bytes(), want)
	}
}

func TestReadFrames(t *testing.T) {
	in := bytes.NewBuffer(nil)
	in.Write(frame(`{"type":"stats"}`))
	in.Write(frame(`{"type":"reload","id":"x"}`))
	c := NewConn(in, io.Discard)

	var first, second struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := c.Read(&first); err != nil || first.Type != "stats" {
		t.Fatalf("first = %+v, %v", first, err)
	}
	if err := c.Read(&second); err != nil || second.ID != "x" {
		t.Fatalf("second = %+v, %v", second, err)
	}
	if _, err := c.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestReadTruncated(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"short header", []byte{5, 0}},
		{"short payload", frame(`{"type":"stats"}`)[:8]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConn(bytes.NewReader(tt.input), io.Discard)
			if _, err := c.ReadFrame(); !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
			}
		})
	}
}

func TestWriteTooLarge(t *testing.T) {
	var out bytes.Buffer
	c := NewConn(nil, &out)
	err := c.Write(strings.Repeat("x", MaxOutgoing))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if out.Len() != 0 {
		t.Error("nothing should be written for an oversized message")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestReadTooLargeSkipsFrame(t *testing.T) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxIncoming+1)
	in := io.MultiReader(
		bytes.NewReader(header[:]),
		io.LimitReader(zeroReader{}, MaxIncoming+1),
		bytes.NewReader(frame(`{"type":"stats"}`)),
	)
	c := NewConn(in, io.Discard)

	if _, err := c.ReadFrame(); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	payload, err := c.ReadFrame()
	if err != nil || string(payload) != `{"type":"stats"}` {
		t.Errorf("next frame = %q, %v", payload, err)
	}
}
