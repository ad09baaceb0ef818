package server

import (
	"sync"
	"time"

	"fast-rpc/crc"
	"fast-rpc/message"
)

// serverRequest is the per-request state created on the first DATA message
// for a fresh msgid. It implements Writer.
type serverRequest struct {
	conn       *connection
	msgid      int64
	method     string
	mirrorMode crc.Mode
	startedAt  time.Time

	mu    sync.Mutex
	ended bool
}

func newServerRequest(c *connection, msgid int64, method string, decodedMode crc.Mode) *serverRequest {
	return &serverRequest{
		conn:       c,
		msgid:      msgid,
		method:     method,
		mirrorMode: mirrorModeFor(decodedMode),
		startedAt:  time.Now(),
	}
}

// mirrorModeFor picks the per-message CRC override a reply should use to
// mirror the decoded mode of the request that started it. V1_V2 can never
// be a literal effective encode mode, so a V1_V2 decode is
// mirrored by encoding with V1: that re-enables the matching-CRC search,
// and a frame it finds validates under both variants — the practical
// equivalent of "replying in V1_V2" without ever materializing it.
func mirrorModeFor(decoded crc.Mode) crc.Mode {
	if decoded == crc.V2 {
		return crc.V2
	}
	return crc.V1
}

func (r *serverRequest) Write(value any) error {
	return r.send([]any{value})
}

func (r *serverRequest) End(values ...any) error {
	if values == nil {
		values = []any{}
	}
	return r.terminate(message.StatusEnd, map[string]any{"d": values})
}

func (r *serverRequest) Fail(ep message.ErrorPayload) error {
	return r.terminate(message.StatusError, map[string]any{"d": toWireErrorData(ep)})
}

func (r *serverRequest) ConnectionID() int64 { return r.conn.id }
func (r *serverRequest) RequestID() int64    { return r.msgid }
func (r *serverRequest) Method() string      { return r.method }

func (r *serverRequest) send(items []any) error {
	r.mu.Lock()
	ended := r.ended
	r.mu.Unlock()
	if ended {
		r.conn.server.log.Warn().Int64("conn_id", r.conn.id).Int64("msgid", r.msgid).
			Msg("write after request terminated, dropped")
		return nil
	}
	return r.conn.writeMessage(r.msgid, message.StatusData, map[string]any{"d": items}, r.mirrorMode)
}

// terminate enforces the one-terminal-message-per-request rule: exactly
// one END or ERROR per (connection, msgid). A second call is silently
// dropped and logged.
func (r *serverRequest) terminate(status message.Status, data map[string]any) error {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		r.conn.server.log.Warn().Int64("conn_id", r.conn.id).Int64("msgid", r.msgid).
			Msg("terminal write after request already terminated, dropped")
		return nil
	}
	r.ended = true
	r.mu.Unlock()

	err := r.conn.writeMessage(r.msgid, status, data, r.mirrorMode)

	outcome := "success"
	if status == message.StatusError {
		outcome = "failure"
	}
	r.conn.server.collector.RecordCompleted(r.method, outcome)
	r.conn.removeRequest(r.msgid)
	return err
}

func toWireErrorData(ep message.ErrorPayload) map[string]any {
	d := map[string]any{"name": ep.Name, "message": ep.Message}
	if ep.Info != nil {
		d["info"] = ep.Info
	}
	if ep.Context != nil {
		d["context"] = ep.Context
	}
	if ep.AseErrors != nil {
		d["ase_errors"] = ep.AseErrors
	}
	return d
}
