package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"framechan/message"
)

// BinaryCodec is a compact alternative to JSON for peers that both opt in.
//
// Layout, all integers little-endian like the frame header:
//
//	count   uint16
//	repeat count times, keys in sorted order:
//	  keyLen uint16 | key bytes | valLen uint32 | val bytes
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(msg message.Message) ([]byte, error) {
	if len(msg) > math.MaxUint16 {
		return nil, fmt.Errorf("codec: too many keys: %d", len(msg))
	}

	keys := msg.Keys()

	// Calculate the encoded size up front
	total := 2
	for _, k := range keys {
		if len(k) > math.MaxUint16 {
			return nil, fmt.Errorf("codec: key too long: %d bytes", len(k))
		}
		total += 2 + len(k) + 4 + len(msg[k])
	}
	buf := make([]byte, total)

	offset := 0
	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(keys)))
	offset += 2

	for _, k := range keys {
		v := msg[k]

		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(k)))
		offset += 2
		offset += copy(buf[offset:], k)

		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(v)))
		offset += 4
		offset += copy(buf[offset:], v)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, msg *message.Message) error {
	r := reader{data: data}

	count, ok := r.uint16()
	if !ok {
		return fmt.Errorf("%w: missing pair count", ErrDecode)
	}

	m := make(message.Message, count)
	for i := 0; i < int(count); i++ {
		keyLen, ok := r.uint16()
		if !ok {
			return fmt.Errorf("%w: pair %d: missing key length", ErrDecode, i)
		}
		key, ok := r.bytes(int(keyLen))
		if !ok {
			return fmt.Errorf("%w: pair %d: truncated key", ErrDecode, i)
		}
		valLen, ok := r.uint32()
		if !ok {
			return fmt.Errorf("%w: pair %d: missing value length", ErrDecode, i)
		}
		val, ok := r.bytes(int(valLen))
		if !ok {
			return fmt.Errorf("%w: pair %d: truncated value", ErrDecode, i)
		}
		m[string(key)] = string(val)
	}

	if r.offset != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(data)-r.offset)
	}

	*msg = m
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks data with bounds checks.
type reader struct {
	data   []byte
	offset int
}

func (r *reader) bytes(n int) ([]byte, bool) {
	if n < 0 || len(r.data)-r.offset < n {
		return nil, false
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, true
}

func (r *reader) uint16() (uint16, bool) {
	b, ok := r.bytes(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *reader) uint32() (uint32, bool) {
	b, ok := r.bytes(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}
