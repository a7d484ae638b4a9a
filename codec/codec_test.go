package codec

import (
	"errors"
	"math/rand"
	"testing"
	"testing/quick"

	"framechan/message"
)

var roundTripCases = []message.Message{
	{},
	message.NewConnect("1234"),
	{"clientId": "ü-ñ-日本", "method": "connect", "note": "quote \" and \\ and \n"},
	{"": "empty key", "empty": ""},
}

// roundTrips reports whether m survives Encode then Decode unchanged.
func roundTrips(c Codec, m message.Message) bool {
	data, err := c.Encode(m)
	if err != nil {
		return false
	}
	var decoded message.Message
	if err := c.Decode(data, &decoded); err != nil {
		return false
	}
	return decoded.Equal(m)
}

func TestRoundTripRandomMessages(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		property := func(m message.Message) bool { return roundTrips(c, m) }
		if err := quick.Check(property, &quick.Config{MaxCount: 500}); err != nil {
			t.Fatalf("%v: %v", c.Type(), err)
		}
	}
}

func TestBinaryCodecRoundTripRawBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	randomString := func() string {
		b := make([]byte, rng.Intn(64))
		rng.Read(b)
		return string(b)
	}

	c := &BinaryCodec{}
	for i := 0; i < 200; i++ {
		m := message.Message{}
		for j := rng.Intn(20); j > 0; j-- {
			m[randomString()] = randomString()
		}
		if !roundTrips(c, m) {
			t.Fatalf("binary round trip failed for %q", m)
		}
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := &JSONCodec{}

	for _, orig := range roundTripCases {
		data, err := c.Encode(orig)
		if err != nil {
			t.Fatalf("JSONCodec Encode failed: %v", err)
		}

		var decoded message.Message
		if err := c.Decode(data, &decoded); err != nil {
			t.Fatalf("JSONCodec Decode failed: %v", err)
		}
		if !decoded.Equal(orig) {
			t.Errorf("round trip mismatch: got %v, want %v", decoded, orig)
		}
	}
}

func TestJSONCodecDecodeErrors(t *testing.T) {
	c := &JSONCodec{}

	for _, body := range []string{``, `{`, `null`, `[1,2]`, `{"a":1}`, `"str"`} {
		var m message.Message
		err := c.Decode([]byte(body), &m)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("body %q: expect ErrDecode, got %v", body, err)
		}
	}
}

func TestJSONCodecDecodesSpacedPayload(t *testing.T) {
	// Payload as produced by clients that pretty-print separators
	body := []byte(`{"clientId": "1234", "method": "connect"}`)

	var m message.Message
	if err := (&JSONCodec{}).Decode(body, &m); err != nil {
		t.Fatal(err)
	}
	if !m.Equal(message.NewConnect("1234")) {
		t.Fatalf("unexpected message: %v", m)
	}
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	c := &BinaryCodec{}

	for _, orig := range roundTripCases {
		data, err := c.Encode(orig)
		if err != nil {
			t.Fatalf("BinaryCodec Encode failed: %v", err)
		}

		var decoded message.Message
		if err := c.Decode(data, &decoded); err != nil {
			t.Fatalf("BinaryCodec Decode failed: %v", err)
		}
		if !decoded.Equal(orig) {
			t.Errorf("round trip mismatch: got %v, want %v", decoded, orig)
		}
	}
}

func TestBinaryCodecDeterministic(t *testing.T) {
	c := &BinaryCodec{}
	msg := message.Message{"z": "1", "a": "2", "m": "3"}

	first, _ := c.Encode(msg)
	for i := 0; i < 20; i++ {
		again, _ := c.Encode(msg)
		if string(again) != string(first) {
			t.Fatal("binary encoding depends on map iteration order")
		}
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(message.NewConnect("1234"))
	if err != nil {
		t.Fatal(err)
	}

	for n := 0; n < len(data); n++ {
		var m message.Message
		if err := c.Decode(data[:n], &m); !errors.Is(err, ErrDecode) {
			t.Fatalf("prefix of %d bytes: expect ErrDecode, got %v", n, err)
		}
	}

	var m message.Message
	if err := c.Decode(append(data, 0x00), &m); !errors.Is(err, ErrDecode) {
		t.Fatalf("trailing byte: expect ErrDecode, got %v", err)
	}
}

func TestParseCodecType(t *testing.T) {
	cases := map[string]CodecType{"": CodecTypeJSON, "json": CodecTypeJSON, " Binary ": CodecTypeBinary}
	for in, want := range cases {
		got, err := ParseCodecType(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %v, want %v", in, got, want)
		}
	}

	if _, err := ParseCodecType("xml"); err == nil {
		t.Fatal("expect error for unknown codec")
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("expect JSON codec")
	}
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Fatal("expect binary codec")
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	cdc := GetCodec(CodecTypeJSON)
	msg := message.NewConnect("1234")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.Message
		cdc.Decode(data, &out)
	}
}

func BenchmarkCodecBinary(b *testing.B) {
	cdc := GetCodec(CodecTypeBinary)
	msg := message.NewConnect("1234")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.Message
		cdc.Decode(data, &out)
	}
}
