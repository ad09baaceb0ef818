package server

import (
	"fmt"
	"sync"

	"fast-rpc/codec"
	"fast-rpc/crc"
	"fast-rpc/ferr"
	"fast-rpc/message"
	"fast-rpc/transport"
)

// connection is one accepted transport driven as a server multiplexer.
type connection struct {
	id     int64
	raw    transport.Conn
	server *Server
	enc    *codec.Encoder
	dec    *codec.Decoder

	mu             sync.Mutex
	activeRequests map[int64]*serverRequest
	closed         bool

	writeMu sync.Mutex
}

func (c *connection) dispatch(m *message.Message) {
	c.mu.Lock()
	_, inFlight := c.activeRequests[m.Msgid]
	c.mu.Unlock()

	if inFlight {
		// A client must not send further messages on an in-flight msgid.
		// Terminal at the connection level.
		c.fail(ferr.NewProtocolError(ferr.ReasonInvalidMsgid,
			fmt.Sprintf("msgid %d received a second message while a request is in-flight", m.Msgid),
			ferr.Info{"msgid": m.Msgid}))
		return
	}

	if m.Status != message.StatusData {
		c.fail(ferr.NewProtocolError(ferr.ReasonInvalidMsgid,
			fmt.Sprintf("msgid %d: first message for a new request must be DATA", m.Msgid),
			ferr.Info{"msgid": m.Msgid}))
		return
	}

	meta, _ := message.RequestMeta(m.Data)
	handler, ok := c.server.handlerFor(meta.Name)
	if !ok {
		c.writeMessage(m.Msgid, message.StatusError,
			map[string]any{"d": toWireErrorData(badMethodPayload(meta.Name))}, mirrorModeFor(m.DecodedCRCMode))
		return
	}

	req := newServerRequest(c, m.Msgid, meta.Name, m.DecodedCRCMode)
	c.mu.Lock()
	c.activeRequests[m.Msgid] = req
	c.mu.Unlock()

	go handler.Invoke(req, message.DataItems(m.Data))
}

func (c *connection) removeRequest(msgid int64) {
	c.mu.Lock()
	delete(c.activeRequests, msgid)
	c.mu.Unlock()
}

func (c *connection) writeMessage(msgid int64, status message.Status, data map[string]any, mode crc.Mode) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ferr.NewTransportError("connection closed", nil)
	}

	msg := &message.Message{Msgid: msgid, Status: status, Data: data, CRCMode: mode}
	buf, err := c.enc.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.raw.Write(buf); err != nil {
		return ferr.NewTransportError("write failed", err)
	}
	return nil
}

// fail marks the connection closed and discards any further handler
// output; in-flight handlers may keep running but their writes will be
// silently dropped.
func (c *connection) fail(connErr error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.raw.Close()
	c.server.log.Error().Err(connErr).Int64("conn_id", c.id).Msg("connection failed")
}
