// Package message defines the Message exchanged over a framechan channel.
//
// A Message is a flat mapping of string keys to string values. It gets
// serialized by the codec layer and wrapped in a protocol frame for transmission.
//
//   - On request:  "method" names the operation, "clientId" identifies the caller.
//   - On reply:    "status" is "ok" on success; "error" is non-empty on failure.
package message

import "sort"

// Well-known keys.
const (
	KeyClientID  = "clientId"
	KeyMethod    = "method"
	KeyStatus    = "status"
	KeySessionID = "sessionId"
	KeyError     = "error"
)

// Built-in methods and status values.
const (
	MethodConnect = "connect"
	MethodPing    = "ping"
	MethodPong    = "pong"
	StatusOK      = "ok"
)

// Message carries the data of a single request or reply.
type Message map[string]string

// NewConnect builds the connect request a client sends first.
func NewConnect(clientID string) Message {
	return Message{
		KeyClientID: clientID,
		KeyMethod:   MethodConnect,
	}
}

// NewError builds an error reply for req. The request method is echoed back
// so the caller can tell which operation failed.
func NewError(req Message, errMsg string) Message {
	reply := Message{KeyError: errMsg}
	if m := req.Method(); m != "" {
		reply[KeyMethod] = m
	}
	return reply
}

func (m Message) Method() string    { return m[KeyMethod] }
func (m Message) ClientID() string  { return m[KeyClientID] }
func (m Message) SessionID() string { return m[KeySessionID] }
func (m Message) Status() string    { return m[KeyStatus] }

// Err returns the "error" value; empty means success.
func (m Message) Err() string { return m[KeyError] }

// Clone returns an independent copy of m.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the keys of m in sorted order.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether m and other hold the same pairs.
func (m Message) Equal(other Message) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
