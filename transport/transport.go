// Package transport defines the duplex byte-stream contract the core
// requires from its environment and a couple of concrete adapters over
// net.Conn / net.Listener, plus a token-bucket-limited Conn used for
// per-connection flow control on the server side.
package transport

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// Conn is a bidirectional byte stream: reliable in-order delivery, close
// notification via a Read/Write error, and no assumed message boundaries.
// Any net.Conn already satisfies it.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Listener accepts Conns. Any net.Listener already satisfies it once its
// Accept result is narrowed to Conn, which NetListener does.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// NetListener adapts a net.Listener to Listener.
type NetListener struct {
	net.Listener
}

func NewNetListener(l net.Listener) *NetListener {
	return &NetListener{Listener: l}
}

func (l *NetListener) Accept() (Conn, error) {
	return l.Listener.Accept()
}

// RateLimited wraps a Conn so that Write blocks on a token-bucket limiter
// before reaching the underlying connection: a handler that writes faster
// than the limiter allows is made to wait rather than buffering unbounded
// output. Because the limiter is shared by every request on the
// connection, a slow consumer pauses the whole connection, an approximate
// but sufficient form of per-request flow control.
type RateLimited struct {
	Conn
	limiter *rate.Limiter
}

// NewRateLimited wraps conn with limiter. A nil limiter disables limiting.
func NewRateLimited(conn Conn, limiter *rate.Limiter) *RateLimited {
	return &RateLimited{Conn: conn, limiter: limiter}
}

func (r *RateLimited) Write(p []byte) (int, error) {
	if r.limiter != nil {
		// WaitN rejects any n above the burst size, so wait in burst-sized
		// steps until the whole of p is covered.
		for remaining := len(p); remaining > 0; {
			n := remaining
			if b := r.limiter.Burst(); b > 0 && n > b {
				n = b
			}
			if err := r.limiter.WaitN(context.Background(), n); err != nil {
				return 0, err
			}
			remaining -= n
		}
	}
	return r.Conn.Write(p)
}
