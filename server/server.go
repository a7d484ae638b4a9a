// Package server implements the reference framechan server: it accepts TCP
// connections, reads length-prefixed messages and answers each one.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → Receive frame → Codec.Decode → Middleware Chain → route by "method"
//	    → handler → Codec.Encode → Send frame → next frame
//
// Unlike an RPC server with sequence ids, requests on one connection are
// handled one at a time: the frame carries no id, so replies must leave in
// the order requests arrived.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"framechan/codec"
	"framechan/config"
	"framechan/logging"
	"framechan/message"
	"framechan/middleware"
	"framechan/registry"
	"framechan/transport"
)

var (
	ErrUnknownMethod   = errors.New("unknown method")
	ErrMissingMethod   = errors.New("missing method")
	ErrMissingClientID = errors.New("missing clientId")
	ErrServerClosed    = errors.New("server: closed")
)

// Server answers framed messages.
type Server struct {
	mu          sync.RWMutex
	handlers    map[string]middleware.HandlerFunc // Wire method → handler
	middlewares []middleware.Middleware           // Applied in order
	handler     middleware.HandlerFunc            // Built once at Serve: middleware(...(route))
	listener    net.Listener
	conns       map[*transport.Channel]struct{}

	wg       sync.WaitGroup // In-flight requests, for graceful shutdown
	connWg   sync.WaitGroup // Connection goroutines
	shutdown atomic.Bool

	chanOpts []transport.Option
	log      zerolog.Logger

	registry      registry.Registry // nil when not using discovery
	service       string
	advertiseAddr string // Registered address; differs from ":8765" style listen addresses
	registered    bool   // Guarded by mu; Shutdown deregisters only when set
	ttl           int64
}

type Option func(*Server)

func WithCodec(t codec.CodecType) Option {
	return func(s *Server) { s.chanOpts = append(s.chanOpts, transport.WithCodec(t)) }
}

func WithMaxBodyLen(n uint32) Option {
	return func(s *Server) { s.chanOpts = append(s.chanOpts, transport.WithMaxBodyLen(n)) }
}

// WithTimeouts sets connection deadlines. A read timeout drops connections
// that stay idle longer than it.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) { s.chanOpts = append(s.chanOpts, transport.WithTimeouts(read, write)) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRegistry announces the server under service at advertiseAddr while it
// serves. An empty advertiseAddr uses the listener address.
func WithRegistry(reg registry.Registry, service, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	}
}

// NewServer creates a server with the built-in connect and ping methods.
func NewServer(opts ...Option) *Server {
	s := &Server{
		handlers: make(map[string]middleware.HandlerFunc),
		conns:    make(map[*transport.Channel]struct{}),
		log:      logging.WithComponent("server"),
		ttl:      10,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Handle(message.MethodConnect, s.handleConnect)
	s.Handle(message.MethodPing, handlePing)
	return s
}

// FromConfig builds a server from configuration: channel options, registry
// announcement, and the recover → logging → rate limit → timeout chain.
func FromConfig(cfg config.Config, reg registry.Registry) (*Server, error) {
	ct, err := codec.ParseCodecType(cfg.Channel.Codec)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithCodec(ct),
		WithMaxBodyLen(uint32(cfg.Channel.MaxBodyLen)),
		WithTimeouts(cfg.Channel.ReadTimeout, cfg.Channel.WriteTimeout),
	}
	if reg != nil {
		opts = append(opts, WithRegistry(reg, cfg.Server.Service, cfg.Server.Advertise, cfg.Registry.TTL))
	}

	s := NewServer(opts...)
	s.Use(middleware.RecoverMiddleware())
	s.Use(middleware.LoggingMiddleware(s.log))
	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, burst))
	}
	if cfg.Server.HandlerTimeout > 0 {
		s.Use(middleware.TimeoutMiddleware(cfg.Server.HandlerTimeout))
	}
	return s, nil
}

// Handle routes method to h, replacing any previous handler.
func (s *Server) Handle(method string, h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Register exposes the handler methods of rcvr (see newService).
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, h := range svc.methods {
		s.handlers[name] = h
	}
	s.log.Debug().Str("service", svc.name).Int("methods", len(svc.methods)).Msg("registered service")
	return nil
}

// Use registers a middleware. Middlewares registered after Serve have no effect.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and blocks in the accept loop.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener serves on an existing listener until Shutdown. It returns nil
// after Shutdown and the accept error otherwise.
func (s *Server) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	// Build the middleware chain once at startup (not per-request)
	s.handler = middleware.Chain(s.middlewares...)(s.route)
	if s.advertiseAddr == "" {
		s.advertiseAddr = listener.Addr().String()
	}
	advertiseAddr := s.advertiseAddr
	s.mu.Unlock()

	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.registry.Register(ctx, s.service, registry.Instance{Addr: advertiseAddr, Weight: 1}, s.ttl)
		cancel()
		if err != nil {
			listener.Close()
			return fmt.Errorf("server: register %s: %w", s.service, err)
		}

		// Shutdown may have run while Register was in flight and found
		// nothing to deregister
		s.mu.Lock()
		stopped := s.shutdown.Load()
		s.registered = !stopped
		s.mu.Unlock()
		if stopped {
			s.deregister(advertiseAddr)
			listener.Close()
			return nil
		}
	}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("serving")

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener, which makes Accept fail
			if s.shutdown.Load() {
				return nil
			}
			return err
		}

		ch := transport.NewChannel(conn, s.chanOpts...)
		if !s.track(ch) {
			ch.Close()
			continue
		}
		go s.handleConn(ch)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(ch *transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[ch] = struct{}{}
	s.connWg.Add(1)
	return true
}

func (s *Server) untrack(ch *transport.Channel) {
	s.mu.Lock()
	delete(s.conns, ch)
	s.mu.Unlock()
	s.connWg.Done()
}

// beginRequest registers an in-flight request unless shutdown has started.
// Holding mu orders every wg.Add before Shutdown's wg.Wait.
func (s *Server) beginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// handleConn reads frames sequentially and answers each before reading the next.
func (s *Server) handleConn(ch *transport.Channel) {
	defer s.untrack(ch)
	defer ch.Close()

	remote := ch.RemoteAddr().String()
	log := s.log.With().Str("remote", remote).Logger()
	log.Debug().Msg("connection opened")

	for {
		body, err := ch.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), s.shutdown.Load(), errors.Is(err, transport.ErrClosed):
				log.Debug().Msg("connection closed")
			default:
				// Framing is lost: a short or oversized frame leaves no way to resync
				log.Warn().Err(err).Msg("dropping connection")
			}
			return
		}

		if !s.beginRequest() {
			return
		}
		reply := s.process(ch.Codec(), body)
		err = ch.SendMessage(reply)
		s.wg.Done()

		if err != nil {
			log.Warn().Err(err).Msg("failed to send reply")
			return
		}
	}
}

// process decodes one request body and produces its reply. Payloads that
// are framed correctly but do not decode get an error reply; the stream is
// still in sync, so the connection stays open.
func (s *Server) process(c codec.Codec, body []byte) message.Message {
	var req message.Message
	if err := c.Decode(body, &req); err != nil {
		return message.NewError(nil, err.Error())
	}

	reply, err := s.handler(context.Background(), req)
	if err != nil {
		return message.NewError(req, err.Error())
	}
	if reply == nil {
		reply = message.Message{message.KeyMethod: req.Method(), message.KeyStatus: message.StatusOK}
	}
	return reply
}

// route is the innermost handler: it dispatches on the "method" key.
func (s *Server) route(ctx context.Context, req message.Message) (message.Message, error) {
	method := req.Method()
	if method == "" {
		return nil, ErrMissingMethod
	}

	s.mu.RLock()
	h, ok := s.handlers[method]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return h(ctx, req)
}

// handleConnect acknowledges a client and assigns it a session id.
func (s *Server) handleConnect(_ context.Context, req message.Message) (message.Message, error) {
	clientID := req.ClientID()
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	sessionID := uuid.NewString()
	s.log.Info().Str("client_id", clientID).Str("session_id", sessionID).Msg("client connected")
	return message.Message{
		message.KeyMethod:    message.MethodConnect,
		message.KeyStatus:    message.StatusOK,
		message.KeyClientID:  clientID,
		message.KeySessionID: sessionID,
	}, nil
}

func handlePing(_ context.Context, _ message.Message) (message.Message, error) {
	return message.Message{message.KeyMethod: message.MethodPong}, nil
}

func (s *Server) deregister(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Deregister(ctx, s.service, addr); err != nil {
		s.log.Warn().Err(err).Str("addr", addr).Msg("deregister failed")
	}
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag so the Accept error is recognized as intentional
//  2. Deregister from the registry so clients stop picking this server
//  3. Close the listener
//  4. Wait for in-flight requests (bounded by timeout)
//  5. Close every connection, idle ones included, and wait for their goroutines
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag under mu so no request can begin after wg.Wait starts
	// and no registration can complete unnoticed
	s.mu.Lock()
	s.shutdown.Store(true)
	listener := s.listener
	registered := s.registered
	s.registered = false
	advertiseAddr := s.advertiseAddr
	s.mu.Unlock()

	if registered {
		s.deregister(advertiseAddr)
	}

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for in-flight requests")
	}

	s.mu.Lock()
	for ch := range s.conns {
		ch.Close()
	}
	s.mu.Unlock()

	// Closed connections make their goroutines return promptly, unless one
	// is stuck in a handler that outlived the timeout
	if err == nil {
		s.connWg.Wait()
	}

	s.log.Info().Msg("shut down")
	return err
}
