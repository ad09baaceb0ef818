package client

import "sync"

// pendingRequest is the client's in-flight request table entry. items
// is never closed — closing a channel that a concurrent dispatch goroutine
// might still be sending on would panic — instead emit and Next both race
// against done, the single one-shot terminal signal.
type pendingRequest struct {
	msgid  int64
	method string

	items chan any
	done  chan struct{}

	err  error
	once sync.Once
}

func newPendingRequest(msgid int64, method string) *pendingRequest {
	return &pendingRequest{
		msgid:  msgid,
		method: method,
		items:  make(chan any),
		done:   make(chan struct{}),
	}
}

// emit delivers v to a blocked consumer, giving the stream its backpressure:
// emit runs on the client's read loop, so a slow Next caller holds up
// further dispatch for every msgid on the connection. Returns
// false if the request terminated before v could be delivered.
func (p *pendingRequest) emit(v any) bool {
	select {
	case p.items <- v:
		return true
	case <-p.done:
		return false
	}
}

// terminate ends the request exactly once. Safe to call
// more than once; only the first call has any effect.
func (p *pendingRequest) terminate(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// RequestHandle is the lazy finite sequence of data items plus terminal
// outcome returned by Client.RPC.
type RequestHandle struct {
	req *pendingRequest
}

// Next blocks for the next data item. ok is false once the request has
// terminated and every already-buffered item has been delivered; callers
// should then inspect Err.
func (h *RequestHandle) Next() (any, bool) {
	select {
	case v := <-h.req.items:
		return v, true
	case <-h.req.done:
		select {
		case v := <-h.req.items:
			return v, true
		default:
			return nil, false
		}
	}
}

// Err blocks until the request terminates and reports its outcome: nil on
// END, a *ferr.Error (FastRequestError) on failure.
func (h *RequestHandle) Err() error {
	<-h.req.done
	return h.req.err
}
