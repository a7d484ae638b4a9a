// Package codec turns a message.Message into frame bodies and back.
//
// The codec is a property of the channel, agreed by both ends out of band:
// the frame header carries only a length, so there is no codec tag on the wire.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"framechan/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// ErrDecode wraps every failure to turn a frame body into a Message.
var ErrDecode = errors.New("codec: malformed message body")

type Codec interface {
	Encode(msg message.Message) ([]byte, error)
	Decode(data []byte, msg *message.Message) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}

	return &JSONCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}
