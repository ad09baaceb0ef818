// Package client implements the Fast client multiplexer: it owns the
// outbound encoder and inbound decoder for one connected transport,
// allocates message identifiers from a circular 31-bit space, tracks
// in-flight requests, and routes decoded messages to the right pending
// request.
package client

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fast-rpc/codec"
	"fast-rpc/crc"
	"fast-rpc/ferr"
	"fast-rpc/message"
	"fast-rpc/metrics"
	"fast-rpc/transport"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithCRCMode sets the client's CRC mode. Must resolve to V1 or V2; V1_V2
// is rejected.
func WithCRCMode(mode crc.Mode) Option {
	return func(c *Client) { c.crcMode = mode }
}

// WithRecentRequests bounds the size of the recently-completed request ring
// used for late-arrival diagnosis.
func WithRecentRequests(n int) Option {
	return func(c *Client) { c.recentCap = n }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithCollector attaches a metrics sink recording requests_completed.
func WithCollector(collector *metrics.Collector) Option {
	return func(c *Client) { c.collector = collector }
}

// Client is one connected duplex transport driven as a Fast multiplexer.
type Client struct {
	conn transport.Conn
	enc  *codec.Encoder
	dec  *codec.Decoder
	log  zerolog.Logger

	crcMode   crc.Mode
	recentCap int
	collector *metrics.Collector
	recent    *recentRing

	writeMu sync.Mutex

	mu       sync.Mutex
	cursor   int64
	pending  map[int64]*pendingRequest
	detached bool

	errOnce sync.Once
}

// New builds a Client over conn and starts its read loop.
func New(conn transport.Conn, opts ...Option) (*Client, error) {
	c := &Client{
		conn:    conn,
		log:     zerolog.Nop(),
		pending: make(map[int64]*pendingRequest),
		cursor:  -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.crcMode == crc.ModeUnset {
		c.crcMode = crc.V1
	}
	if !crc.ValidateConcrete(c.crcMode) {
		return nil, ferr.NewInvalidArgument(fmt.Sprintf("client crc_mode must be V1 or V2, got %s", c.crcMode))
	}

	enc, err := codec.NewEncoder(c.crcMode)
	if err != nil {
		return nil, err
	}
	dec, err := codec.NewDecoder(c.crcMode)
	if err != nil {
		return nil, err
	}
	c.enc = enc
	c.dec = dec
	c.recent = newRecentRing(c.recentCap)

	go c.readLoop()
	return c, nil
}

// RPC allocates a msgid, sends one DATA message of {m:{name,uts}, d:args},
// and returns a streaming handle for the response.
func (c *Client) RPC(method string, args []any) (*RequestHandle, error) {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return nil, ferr.NewInvalidArgument("client is detached")
	}
	msgid := c.nextMsgidLocked()
	req := newPendingRequest(msgid, method)
	c.pending[msgid] = req
	c.mu.Unlock()

	if args == nil {
		args = []any{}
	}
	msg := &message.Message{
		Msgid:  msgid,
		Status: message.StatusData,
		Data: map[string]any{
			"m": map[string]any{"name": method, "uts": time.Now().UnixMicro()},
			"d": args,
		},
	}
	buf, err := c.enc.Encode(msg)
	if err != nil {
		c.drop(msgid)
		return nil, err
	}
	if err := c.write(buf); err != nil {
		c.drop(msgid)
		wrapped := ferr.NewTransportError("write failed", err)
		go c.shutdown(wrapped)
		return nil, ferr.NewRequestError(wrapped, msgid, method)
	}
	return &RequestHandle{req: req}, nil
}

// RPCBufferAndCallback is a convenience wrapper around RPC that buffers the
// whole response and reports it through cb, failing the request if more
// than maxObjectsToBuffer items arrive.
func (c *Client) RPCBufferAndCallback(method string, args []any, maxObjectsToBuffer int, cb func(err error, data []any, count int)) {
	handle, err := c.RPC(method, args)
	if err != nil {
		cb(err, nil, 0)
		return
	}
	go func() {
		var buffered []any
		overflowed := false
		for {
			v, ok := handle.Next()
			if !ok {
				break
			}
			if overflowed {
				// Already reported; keep draining so the request reaches
				// its terminal state and emit never blocks on this msgid.
				continue
			}
			if len(buffered) >= maxObjectsToBuffer {
				overflowed = true
				cb(ferr.NewInvalidArgument(fmt.Sprintf("rpcBufferAndCallback: exceeded buffer bound of %d objects", maxObjectsToBuffer)), buffered, len(buffered))
				continue
			}
			buffered = append(buffered, v)
		}
		if !overflowed {
			cb(handle.Err(), buffered, len(buffered))
		}
	}()
}

// Detach disconnects the client from its transport without closing it;
// every in-flight request fails with a detach error.
func (c *Client) Detach() {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	c.detached = true
	c.mu.Unlock()
	c.fail(ferr.NewTransportError("client detached", nil))
}

func (c *Client) drop(msgid int64) {
	c.mu.Lock()
	delete(c.pending, msgid)
	c.mu.Unlock()
}

func (c *Client) write(buf []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

// nextMsgidLocked allocates the next msgid from the circular 31-bit cursor,
// skipping any still in-flight. Callers must hold c.mu.
func (c *Client) nextMsgidLocked() int64 {
	for {
		c.cursor++
		if c.cursor > message.MaxMsgid {
			c.cursor = 0
		}
		if _, inUse := c.pending[c.cursor]; !inUse {
			return c.cursor
		}
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		if c.isDetached() {
			return
		}
		n, rerr := c.conn.Read(buf)
		if c.isDetached() {
			return
		}
		if n > 0 {
			msgs, derr := c.dec.Feed(buf[:n])
			for _, m := range msgs {
				if fatal := c.dispatch(m); fatal != nil {
					c.shutdown(fatal)
					return
				}
			}
			if derr != nil {
				c.shutdown(derr)
				return
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if closeErr := c.dec.Close(); closeErr != nil {
					c.shutdown(closeErr)
					return
				}
				c.shutdown(ferr.NewTransportError("connection closed by peer", rerr))
				return
			}
			c.shutdown(ferr.NewTransportError("read failed", rerr))
			return
		}
	}
}

func (c *Client) isDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

// dispatch routes one decoded message to its pending request. A non-nil
// return is a connection-level protocol error (unknown msgid).
func (c *Client) dispatch(m *message.Message) error {
	c.mu.Lock()
	req, ok := c.pending[m.Msgid]
	c.mu.Unlock()
	if !ok {
		msg := fmt.Sprintf("unknown msgid %d", m.Msgid)
		if entry, late := c.recent.lookup(m.Msgid); late {
			c.log.Warn().Int64("msgid", m.Msgid).Str("rpc_method", entry.method).
				Str("outcome", entry.outcome).Msg("message arrived for an already-completed request")
			msg = fmt.Sprintf("unknown msgid %d (completed %s ago as %s)", m.Msgid,
				time.Since(entry.completedAt).Round(time.Millisecond), entry.outcome)
		}
		return ferr.NewProtocolError(ferr.ReasonUnknownMsgid, msg, ferr.Info{"msgid": m.Msgid})
	}

	switch m.Status {
	case message.StatusData:
		for _, item := range message.DataItems(m.Data) {
			req.emit(item)
		}
	case message.StatusEnd:
		for _, item := range message.DataItems(m.Data) {
			req.emit(item)
		}
		c.complete(req, nil)
	case message.StatusError:
		ep := message.DecodeErrorPayload(m.Data)
		serverErr := ferr.NewServerError(ep.Name, ep.Message, ep.Info, ep.Context, ep.AseErrors)
		c.complete(req, ferr.NewRequestError(serverErr, req.msgid, req.method))
	}
	return nil
}

func (c *Client) complete(req *pendingRequest, err error) {
	c.mu.Lock()
	delete(c.pending, req.msgid)
	c.mu.Unlock()

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.recent.record(recentEntry{msgid: req.msgid, method: req.method, completedAt: time.Now(), outcome: outcome})
	c.collector.RecordCompleted(req.method, outcome)
	req.terminate(err)
}

func (c *Client) shutdown(connErr error) {
	c.conn.Close()
	c.fail(connErr)
}

// fail fans connErr out to every pending request as a FastRequestError and
// emits the client's own error event exactly once.
func (c *Client) fail(connErr error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	c.errOnce.Do(func() {
		c.log.Error().Err(connErr).Msg("connection failed")
	})

	for _, req := range pending {
		c.collector.RecordCompleted(req.method, "failure")
		req.terminate(ferr.NewRequestError(connErr, req.msgid, req.method))
	}
}
