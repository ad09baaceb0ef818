package server

import (
	"bytes"
	"net"
	"testing"
	"time"

	"fast-rpc/client"
	"fast-rpc/crc"
	"fast-rpc/transport"
)

func startTestServer(t *testing.T, register func(*Server)) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s, err := New(transport.NewNetListener(ln), WithCRCMode(crc.V1V2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	register(s)
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s, ln.Addr().String()
}

func dialClient(t *testing.T, addr string, mode crc.Mode) *client.Client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c, err := client.New(conn, client.WithCRCMode(mode))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func TestEchoScenario(t *testing.T) {
	_, addr := startTestServer(t, func(s *Server) {
		s.RegisterRPCMethod("echo", HandlerFunc(func(w Writer, args []any) {
			w.Write(map[string]any{"value": args[0]})
			w.End()
		}))
	})
	c := dialClient(t, addr, crc.V2)

	handle, err := c.RPC("echo", []any{"lafayette"})
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	v, ok := handle.Next()
	if !ok {
		t.Fatal("expected one item")
	}
	item := v.(map[string]any)
	if item["value"] != "lafayette" {
		t.Fatalf("unexpected value: %+v", item)
	}
	if _, ok := handle.Next(); ok {
		t.Fatal("expected no second item")
	}
	if err := handle.Err(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestUnknownMethodScenario(t *testing.T) {
	_, addr := startTestServer(t, func(s *Server) {})
	c := dialClient(t, addr, crc.V2)

	handle, err := c.RPC("badmethod", nil)
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if _, ok := handle.Next(); ok {
		t.Fatal("expected no data for an unknown method")
	}
	if err := handle.Err(); err == nil {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestMultiMessageStreamScenario(t *testing.T) {
	_, addr := startTestServer(t, func(s *Server) {
		s.RegisterRPCMethod("stream", HandlerFunc(func(w Writer, args []any) {
			for n := 0; n <= 4; n++ {
				for i := 0; i < n; i++ {
					w.Write(i)
				}
			}
			w.End()
		}))
	})
	c := dialClient(t, addr, crc.V2)

	handle, err := c.RPC("stream", nil)
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	count := 0
	for {
		if _, ok := handle.Next(); !ok {
			break
		}
		count++
	}
	if count != 10 {
		t.Fatalf("expected 10 items, got %d", count)
	}
}

func TestMixedCRCModeClientsScenario(t *testing.T) {
	_, addr := startTestServer(t, func(s *Server) {
		s.RegisterRPCMethod("echo", HandlerFunc(func(w Writer, args []any) {
			w.Write(args[0])
			w.End()
		}))
	})

	v1Client := dialClient(t, addr, crc.V1)
	v2Client := dialClient(t, addr, crc.V2)

	h1, err := v1Client.RPC("echo", []any{"a"})
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	h2, err := v2Client.RPC("echo", []any{"b"})
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if _, ok := h1.Next(); !ok {
		t.Fatal("expected v1 client to receive a reply")
	}
	if err := h1.Err(); err != nil {
		t.Fatalf("v1 client: %v", err)
	}
	if _, ok := h2.Next(); !ok {
		t.Fatal("expected v2 client to receive a reply")
	}
	if err := h2.Err(); err != nil {
		t.Fatalf("v2 client: %v", err)
	}
}

func TestRateLimitedConnectionThrottlesStreaming(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s, err := New(transport.NewNetListener(ln), WithCRCMode(crc.V1V2), WithRateLimit(200, 40))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RegisterRPCMethod("stream", HandlerFunc(func(w Writer, args []any) {
		for i := 0; i < 5; i++ {
			w.Write(bytes.Repeat([]byte("x"), 40))
		}
		w.End()
	}))
	go s.Serve()
	t.Cleanup(func() { s.Close() })

	c := dialClient(t, ln.Addr().String(), crc.V2)
	start := time.Now()
	handle, err := c.RPC("stream", nil)
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	count := 0
	for {
		if _, ok := handle.Next(); !ok {
			break
		}
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 items, got %d", count)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("expected the per-connection limiter to introduce delay, elapsed only %v", elapsed)
	}
}

func TestOnConnsDestroyedFiresWhenAlreadyEmpty(t *testing.T) {
	s, _ := startTestServer(t, func(s *Server) {})
	done := make(chan struct{})
	s.OnConnsDestroyed(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected OnConnsDestroyed to fire when the connection set was already empty")
	}
}

func TestRegisterStructAddsMethods(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	s, err := New(transport.NewNetListener(ln))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recv := &addService{}
	if err := RegisterStruct(s, recv); err != nil {
		t.Fatalf("RegisterStruct: %v", err)
	}
	if _, ok := s.handlerFor("Add"); !ok {
		t.Fatal("expected Add to be registered")
	}
}

type addService struct{}

func (a *addService) Add(w Writer, args []any) {
	w.Write(len(args))
	w.End()
}
