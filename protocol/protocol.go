// Package protocol implements the length-prefixed frame format used by framechan.
//
// TCP is a byte stream with no message boundaries. Every message is therefore
// preceded by a fixed 4-byte header carrying the body length. The receiver reads
// the header first, then reads exactly that many bytes.
//
// Frame format:
//
//	0         4
//	┌─────────┬──────────────────────┐
//	│ bodyLen │       body ...       │
//	│ uint32  │   bodyLen bytes      │
//	│ LE      │   (UTF-8 JSON)       │
//	└─────────┴──────────────────────┘
//
// Invariant: len(frame) == HeaderSize + bodyLen.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize        = 4
	DefaultMaxBodyLen = 16 * 1024 * 1024
)

var (
	ErrShortHeader  = errors.New("protocol: stream ended inside frame header")
	ErrShortBody    = errors.New("protocol: stream ended inside frame body")
	ErrBodyTooLarge = errors.New("protocol: frame body exceeds limit")
)

// Header is the fixed 4-byte frame header.
type Header struct {
	BodyLen uint32 // Little-endian on the wire
}

// EncodeHeader returns the wire form of h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf, h.BodyLen)
	return buf
}

// DecodeHeader parses a 4-byte header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("protocol: invalid header length: %d", len(b))
	}
	return Header{BodyLen: binary.LittleEndian.Uint32(b)}, nil
}

// Encode writes a complete frame (header + body) to w using DefaultMaxBodyLen.
func Encode(w io.Writer, body []byte) error {
	return EncodeLimit(w, body, DefaultMaxBodyLen)
}

// EncodeLimit writes a complete frame to w, refusing bodies longer than maxBodyLen.
// The header and body go out in a single Write so that a caller holding a write
// lock never leaves half a frame on the stream between two writes.
func EncodeLimit(w io.Writer, body []byte, maxBodyLen uint32) error {
	if uint64(len(body)) > uint64(maxBodyLen) {
		return fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, len(body), maxBodyLen)
	}

	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(body)))
	copy(frame[HeaderSize:], body)

	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// Decode reads one complete frame from r using DefaultMaxBodyLen.
func Decode(r io.Reader) ([]byte, error) {
	return DecodeLimit(r, DefaultMaxBodyLen)
}

// DecodeLimit reads one complete frame from r and returns its body.
//
// A stream that ends before the first header byte returns io.EOF so callers
// can tell a clean close from a broken one. Ending anywhere later returns
// ErrShortHeader or ErrShortBody. A header announcing more than maxBodyLen
// bytes is rejected before any body allocation.
func DecodeLimit(r io.Reader, maxBodyLen uint32) ([]byte, error) {
	// Step 1: Read the fixed 4-byte header
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}

	h, err := DecodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	// Step 2: Reject lengths we are not willing to buffer
	if h.BodyLen > maxBodyLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, h.BodyLen, maxBodyLen)
	}

	// Step 3: Read exactly BodyLen bytes
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes", ErrShortBody, h.BodyLen)
		}
		return nil, err
	}

	return body, nil
}
