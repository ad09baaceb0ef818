// Package server implements the Fast server multiplexer: it accepts
// connections from a transport.Listener, instantiates per-connection state,
// routes inbound requests to registered handlers by method name, and gives
// each handler a response-writer bound to the right connection and msgid.
package server

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fast-rpc/codec"
	"fast-rpc/crc"
	"fast-rpc/ferr"
	"fast-rpc/message"
	"fast-rpc/metrics"
	"fast-rpc/transport"
)

// Option configures a Server at construction.
type Option func(*Server)

// WithCRCMode sets the server's CRC mode: V1, V2, or the dual-accept V1V2.
func WithCRCMode(mode crc.Mode) Option {
	return func(s *Server) { s.crcMode = mode }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithCollector attaches a metrics sink recording requests_completed.
func WithCollector(collector *metrics.Collector) Option {
	return func(s *Server) { s.collector = collector }
}

// WithRateLimit gives every accepted connection its own token-bucket write
// limiter, rate r tokens/sec with burst size burst. A handler's Write/End/
// Fail then blocks the writer, not just the caller, whenever it outpaces
// the bucket: each connection gets its own bucket, so one slow consumer
// pauses only its own connection.
func WithRateLimit(r float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = rate.Limit(r)
		s.rateBurst = burst
		s.rateLimited = true
	}
}

// Server accepts connections from a transport.Listener and dispatches
// requests to registered handlers.
type Server struct {
	listener  transport.Listener
	crcMode   crc.Mode
	log       zerolog.Logger
	collector *metrics.Collector

	rateLimited bool
	rateLimit   rate.Limit
	rateBurst   int

	handlersMu sync.Mutex
	handlers   map[string]Handler

	connsMu            sync.Mutex
	conns              map[int64]*connection
	nextConnID         int64
	destroyedCallbacks []func()
	closed             bool
}

// New builds a Server over listener.
func New(listener transport.Listener, opts ...Option) (*Server, error) {
	s := &Server{
		listener: listener,
		log:      zerolog.Nop(),
		handlers: make(map[string]Handler),
		conns:    make(map[int64]*connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.crcMode == crc.ModeUnset {
		s.crcMode = crc.V1V2
	}
	if !crc.ValidateServerDefault(s.crcMode) {
		return nil, ferr.NewInvalidArgument(fmt.Sprintf("server crc_mode must be V1, V2, or V1_V2, got %s", s.crcMode))
	}
	return s, nil
}

// RegisterRPCMethod registers h under name, replacing any prior handler.
func (s *Server) RegisterRPCMethod(name string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[name] = h
}

func (s *Server) handlerFor(name string) (Handler, bool) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	h, ok := s.handlers[name]
	return h, ok
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return ferr.NewTransportError("accept failed", err)
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections; in-flight work on existing
// connections is not forcibly terminated.
func (s *Server) Close() error {
	s.connsMu.Lock()
	s.closed = true
	s.connsMu.Unlock()
	return s.listener.Close()
}

func (s *Server) isClosed() bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.closed
}

// OnConnsDestroyed queues cb to run whenever the active connection set
// transitions to empty. If it is already empty, cb still runs, scheduled
// for a later turn.
func (s *Server) OnConnsDestroyed(cb func()) {
	s.connsMu.Lock()
	s.destroyedCallbacks = append(s.destroyedCallbacks, cb)
	empty := len(s.conns) == 0
	s.connsMu.Unlock()
	if empty {
		go cb()
	}
}

func (s *Server) allocConnID() int64 {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.nextConnID++
	return s.nextConnID
}

func (s *Server) connAdded(c *connection) {
	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()
}

func (s *Server) connRemoved(id int64) {
	s.connsMu.Lock()
	delete(s.conns, id)
	empty := len(s.conns) == 0
	callbacks := append([]func(){}, s.destroyedCallbacks...)
	s.connsMu.Unlock()
	if empty {
		go func() {
			for _, cb := range callbacks {
				cb()
			}
		}()
	}
}

func (s *Server) handleConn(raw transport.Conn) {
	id := s.allocConnID()

	if s.rateLimited {
		raw = transport.NewRateLimited(raw, rate.NewLimiter(s.rateLimit, s.rateBurst))
	}

	enc, err := codec.NewEncoder(crc.ModeUnset)
	if err != nil {
		raw.Close()
		return
	}
	dec, err := codec.NewDecoder(s.crcMode)
	if err != nil {
		raw.Close()
		return
	}

	conn := &connection{
		id:             id,
		raw:            raw,
		server:         s,
		enc:            enc,
		dec:            dec,
		activeRequests: make(map[int64]*serverRequest),
	}
	s.connAdded(conn)
	defer s.connRemoved(id)

	buf := make([]byte, 64*1024)
	for {
		n, rerr := raw.Read(buf)
		if n > 0 {
			msgs, derr := conn.dec.Feed(buf[:n])
			for _, m := range msgs {
				conn.dispatch(m)
			}
			if derr != nil {
				conn.fail(derr)
				return
			}
		}
		if rerr != nil {
			conn.fail(ferr.NewTransportError("read failed", rerr))
			return
		}
	}
}

func badMethodPayload(method string) message.ErrorPayload {
	return message.ErrorPayload{
		Name:    string(ferr.CategoryMisc),
		Message: fmt.Sprintf("no handler registered for method %q", method),
		Info:    map[string]any{"fastReason": string(ferr.ReasonBadMethod), "rpcMethod": method},
	}
}
