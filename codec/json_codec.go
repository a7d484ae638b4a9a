package codec

import (
	"encoding/json"
	"fmt"

	"framechan/message"
)

// JSONCodec produces the default wire payload: a UTF-8 JSON object whose
// values are all strings.
type JSONCodec struct{}

func (c *JSONCodec) Encode(msg message.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *JSONCodec) Decode(data []byte, msg *message.Message) error {
	var m message.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// "null" unmarshals into a nil map without error
	if m == nil {
		return fmt.Errorf("%w: body is not a JSON object", ErrDecode)
	}
	*msg = m
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
