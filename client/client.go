// Package client sends the connect handshake and follow-up requests over a
// single owned framechan channel.
//
//	Connect → Registry.Discover(service) → Balancer.Pick(clientId) → Dial
//	        → Call({clientId, method: connect}) → ack {status, sessionId}
//
// Calls pass through a middleware chain (logging, then retry) whose innermost
// handler is the network round trip. A failed round trip drops the channel,
// so a retry redials, possibly to another instance.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"framechan/codec"
	"framechan/config"
	"framechan/loadbalance"
	"framechan/logging"
	"framechan/message"
	"framechan/middleware"
	"framechan/protocol"
	"framechan/registry"
	"framechan/transport"
)

// ErrNoInstances means the registry has nothing registered under the service.
var ErrNoInstances = loadbalance.ErrNoInstances

// RemoteError is a reply carrying a non-empty "error" key.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error on %s: %s", e.Method, e.Message)
}

type Client struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	service     string
	clientID    string
	dialTimeout time.Duration
	chanOpts    []transport.Option
	handler     middleware.HandlerFunc
	log         zerolog.Logger

	mu        sync.Mutex
	ch        *transport.Channel // Owned; nil until first use or after a failure
	addr      string
	sessionID string
}

// New builds a client from configuration. A nil reg means a static registry
// holding cfg's host:port; a nil bal means the configured balancer.
func New(cfg config.Config, reg registry.Registry, bal loadbalance.Balancer) (*Client, error) {
	ct, err := codec.ParseCodecType(cfg.Channel.Codec)
	if err != nil {
		return nil, err
	}

	if reg == nil {
		static := registry.NewStaticRegistry()
		static.Register(context.Background(), cfg.Client.Service, registry.Instance{Addr: cfg.ClientAddr(), Weight: 1}, 0)
		reg = static
	}
	if bal == nil {
		if bal, err = loadbalance.New(cfg.Client.Balancer); err != nil {
			return nil, err
		}
	}

	clientID := cfg.Client.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c := &Client{
		registry:    reg,
		balancer:    bal,
		service:     cfg.Client.Service,
		clientID:    clientID,
		dialTimeout: cfg.Client.DialTimeout,
		chanOpts: []transport.Option{
			transport.WithCodec(ct),
			transport.WithMaxBodyLen(uint32(cfg.Channel.MaxBodyLen)),
			transport.WithTimeouts(cfg.Channel.ReadTimeout, cfg.Channel.WriteTimeout),
		},
		log: logging.WithComponent("client").With().Str("client_id", clientID).Logger(),
	}

	c.handler = middleware.Chain(
		middleware.LoggingMiddleware(c.log),
		middleware.RetryMiddleware(cfg.Client.Retries, cfg.Client.RetryBackoff, Retryable, c.log),
	)(c.roundTrip)
	return c, nil
}

// Connect sends {clientId, method: connect} and returns the server's ack.
func (c *Client) Connect(ctx context.Context) (message.Message, error) {
	reply, err := c.Call(ctx, message.NewConnect(c.clientID))
	if err != nil {
		return nil, err
	}
	if reply.Status() != message.StatusOK {
		return reply, fmt.Errorf("connect: unexpected status %q", reply.Status())
	}

	c.mu.Lock()
	c.sessionID = reply.SessionID()
	c.mu.Unlock()

	c.log.Info().Str("session_id", reply.SessionID()).Str("addr", c.RemoteAddr()).Msg("connected")
	return reply, nil
}

// Ping checks that the server still answers on the current channel.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.Call(ctx, message.Message{message.KeyMethod: message.MethodPing})
	if err != nil {
		return err
	}
	if reply.Method() != message.MethodPong {
		return fmt.Errorf("ping: unexpected reply method %q", reply.Method())
	}
	return nil
}

// Call sends req and returns the reply. A reply with an "error" key is
// returned together with a *RemoteError.
func (c *Client) Call(ctx context.Context, req message.Message) (message.Message, error) {
	return c.handler(ctx, req)
}

func (c *Client) roundTrip(ctx context.Context, req message.Message) (message.Message, error) {
	ch, err := c.channel(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := ch.Call(ctx, req)
	if err != nil {
		c.drop(ch)
		return nil, err
	}
	if msg := reply.Err(); msg != "" {
		return reply, &RemoteError{Method: reply.Method(), Message: msg}
	}
	return reply, nil
}

// channel returns the open channel, dialing a new one when needed. The
// dial runs without c.mu so Close and the accessors never wait on it.
func (c *Client) channel(ctx context.Context) (*transport.Channel, error) {
	c.mu.Lock()
	if c.ch != nil && !c.ch.Closed() {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	c.mu.Unlock()

	ch, addr, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent caller may have dialed first; keep theirs
	if c.ch != nil && !c.ch.Closed() {
		ch.Close()
		return c.ch, nil
	}
	c.ch = ch
	c.addr = addr
	return ch, nil
}

// dial resolves the service, picks an instance and connects to it.
func (c *Client) dial(ctx context.Context) (*transport.Channel, string, error) {
	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return nil, "", fmt.Errorf("discover %s: %w", c.service, err)
	}
	inst, err := c.balancer.Pick(c.clientID, instances)
	if err != nil {
		return nil, "", fmt.Errorf("pick %s instance: %w", c.service, err)
	}

	dialCtx := ctx
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	ch, err := transport.Dial(dialCtx, inst.Addr, c.chanOpts...)
	if err != nil {
		return nil, "", err
	}

	c.log.Debug().Str("addr", inst.Addr).Str("balancer", c.balancer.Name()).Msg("dialed")
	return ch, inst.Addr, nil
}

func (c *Client) drop(ch *transport.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch.Close()
	if c.ch == ch {
		c.ch = nil
		c.addr = ""
	}
}

// Close closes the owned channel. The client may be used again afterwards;
// the next call redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	err := c.ch.Close()
	c.ch = nil
	c.addr = ""
	return err
}

func (c *Client) ClientID() string {
	return c.clientID
}

// SessionID is the id from the last successful Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RemoteAddr is the address of the current channel, empty when none is open.
func (c *Client) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Retryable extends middleware.DefaultRetryable with failures specific to a
// framed channel: a peer that hung up inside a frame, a channel closed under
// us, and a registry that has no instances yet.
func Retryable(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	return middleware.DefaultRetryable(err) ||
		errors.Is(err, protocol.ErrShortHeader) ||
		errors.Is(err, protocol.ErrShortBody) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, ErrNoInstances) ||
		(errors.As(err, &opErr) && opErr.Op == "dial")
}
