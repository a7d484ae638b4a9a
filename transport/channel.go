// Package transport implements the framed message channel: one owned net.Conn
// carrying length-prefixed frames.
//
// The wire has no request id, so a channel is strictly request/response in
// order. Callers that share a channel are serialized by its mutexes:
//
//	Send:    sending lock ──→ protocol.Encode(header+body, one Write)
//	Receive: receiving lock ──→ protocol.Decode(ReadFull header, ReadFull body)
//	Call:    calling lock ──→ Send then Receive, so replies pair with requests
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"framechan/codec"
	"framechan/message"
	"framechan/protocol"
)

var ErrClosed = errors.New("transport: channel closed")

// Channel owns a connection until Close.
type Channel struct {
	conn         net.Conn
	codec        codec.Codec
	maxBodyLen   uint32
	readTimeout  time.Duration
	writeTimeout time.Duration

	calling   sync.Mutex // Held across a whole Call so replies pair with requests
	sending   sync.Mutex // Frames from different goroutines must not interleave
	receiving sync.Mutex // A frame must be read by exactly one reader
	closed    atomic.Bool

	writeDeadline bool // Guarded by sending; a deadline is set on conn
	readDeadline  bool // Guarded by receiving
}

type Option func(*Channel)

// WithCodec selects the body codec; both ends must agree.
func WithCodec(t codec.CodecType) Option {
	return func(c *Channel) { c.codec = codec.GetCodec(t) }
}

// WithMaxBodyLen bounds frames in both directions.
func WithMaxBodyLen(n uint32) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxBodyLen = n
		}
	}
}

// WithTimeouts sets per-operation deadlines; zero disables one.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Channel) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// NewChannel takes ownership of conn.
func NewChannel(conn net.Conn, opts ...Option) *Channel {
	c := &Channel{
		conn:       conn,
		codec:      &codec.JSONCodec{},
		maxBodyLen: protocol.DefaultMaxBodyLen,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial opens a TCP connection to addr and wraps it in a Channel.
func Dial(ctx context.Context, addr string, opts ...Option) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewChannel(conn, opts...), nil
}

// Send writes body as one frame.
func (c *Channel) Send(body []byte) error {
	return c.send(context.Background(), body)
}

func (c *Channel) send(ctx context.Context, body []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.sending.Lock()
	defer c.sending.Unlock()

	if err := setDeadline(c.conn.SetWriteDeadline, &c.writeDeadline, deadline(ctx, c.writeTimeout)); err != nil {
		return c.wrap(err)
	}
	return c.wrap(protocol.EncodeLimit(c.conn, body, c.maxBodyLen))
}

// Receive blocks until one complete frame arrives and returns its body.
func (c *Channel) Receive() ([]byte, error) {
	return c.receive(context.Background())
}

func (c *Channel) receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.receiving.Lock()
	defer c.receiving.Unlock()

	if err := setDeadline(c.conn.SetReadDeadline, &c.readDeadline, deadline(ctx, c.readTimeout)); err != nil {
		return nil, c.wrap(err)
	}
	body, err := protocol.DecodeLimit(c.conn, c.maxBodyLen)
	if err != nil {
		return nil, c.wrap(err)
	}
	return body, nil
}

// SendMessage encodes msg with the channel codec and sends it.
func (c *Channel) SendMessage(msg message.Message) error {
	body, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(body)
}

// ReceiveMessage receives one frame and decodes it with the channel codec.
func (c *Channel) ReceiveMessage() (message.Message, error) {
	body, err := c.Receive()
	if err != nil {
		return nil, err
	}
	var msg message.Message
	if err := c.codec.Decode(body, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Call sends req and waits for the reply. The ctx deadline, if earlier than
// the configured timeouts, becomes the connection deadline.
//
// A Call that fails on the wire or is abandoned by ctx closes the channel:
// a late or partial reply would otherwise be paired with the next request.
func (c *Channel) Call(ctx context.Context, req message.Message) (message.Message, error) {
	c.calling.Lock()
	defer c.calling.Unlock()

	body, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	if err := c.send(ctx, body); err != nil {
		c.Close()
		return nil, ctxErr(ctx, err)
	}
	replyBody, err := c.receive(ctx)
	if err != nil {
		c.Close()
		return nil, ctxErr(ctx, err)
	}

	var reply message.Message
	if err := c.codec.Decode(replyBody, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Close closes the connection. Safe to call more than once.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

func (c *Channel) Conn() net.Conn {
	return c.conn
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) Codec() codec.Codec {
	return c.codec
}

// wrap reports use after Close as ErrClosed instead of net.ErrClosed noise.
func (c *Channel) wrap(err error) error {
	if err == nil {
		return nil
	}
	if c.closed.Load() && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// deadline picks the earlier of now+timeout and the ctx deadline.
// The zero time means no deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// setDeadline applies d through set, skipping the call when no deadline is
// wanted and none is left over. Some conns (net.Pipe) fail SetDeadline once
// the peer is gone; a failed clear is left for the following read to report.
func setDeadline(set func(time.Time) error, active *bool, d time.Time) error {
	if d.IsZero() && !*active {
		return nil
	}
	if err := set(d); err != nil && !d.IsZero() {
		return err
	}
	*active = !d.IsZero()
	return nil
}

// ctxErr attaches the context error when ctx ended the exchange. The conn
// deadline can fire a moment before ctx itself reports DeadlineExceeded.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return errors.Join(err, context.DeadlineExceeded)
	}
	return err
}
