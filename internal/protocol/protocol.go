package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame type constants for the animus command channel.
const (
	FrameCommand byte = 0x00
	FrameReport  byte = 0x01

	// MaxDatagram is the largest UDP payload. Receive buffers are sized to
	// it so that list-carrying reports are never truncated.
	MaxDatagram = 65507

	headerLen = 5
)

// Frame represents a wire-protocol frame with a type byte and payload.
// Wire format: [type:u8][length:u32 BE][payload]
// Exactly one frame is carried per datagram.
type Frame struct {
	Type    byte
	Payload []byte
}

// ReadFrame reads a single frame from the reader.
// Returns (nil, nil) on clean EOF during the header read.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [headerLen]byte
	_, err := io.ReadFull(r, header[:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	frameType := header[0]
	length := binary.BigEndian.Uint32(header[1:5])

	if length > MaxDatagram-headerLen {
		return nil, fmt.Errorf("frame payload too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if length > 0 {
		_, err = io.ReadFull(r, payload)
		if err != nil {
			return nil, fmt.Errorf("reading frame payload: %w", err)
		}
	}

	switch frameType {
	case FrameCommand, FrameReport:
		return &Frame{Type: frameType, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("unknown frame type: 0x%02x", frameType)
	}
}

// WriteFrame writes a single frame to the writer.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxDatagram-headerLen {
		return fmt.Errorf("frame payload too large: %d bytes", len(f.Payload))
	}

	var header [headerLen]byte
	header[0] = f.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

// encodeFrame renders a frame into a single datagram.
func encodeFrame(frameType byte, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))
	if err := WriteFrame(&buf, &Frame{Type: frameType, Payload: payload}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrame parses one datagram and checks that it carries the expected
// frame type. Trailing bytes after the frame are rejected.
func decodeFrame(datagram []byte, want byte) ([]byte, error) {
	r := bytes.NewReader(datagram)
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("truncated frame: %d bytes", len(datagram))
	}
	if f.Type != want {
		return nil, fmt.Errorf("expected frame type 0x%02x, got 0x%02x", want, f.Type)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after frame", r.Len())
	}
	return f.Payload, nil
}
