package mcp

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/routegate/routegate/internal/common"
)

func TestServeStdio_RequestResponse(t *testing.T) {
	s := newTestServer(t)

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	if err := ServeStdio(context.Background(), s, in, &out); err != nil {
		t.Fatalf("ServeStdio failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 responses (notification is silent), got %d: %q", len(lines), lines)
	}

	first := decodeReply(t, []byte(lines[0]))
	if first.ID != float64(1) || first.Error != nil {
		t.Errorf("unexpected first reply: %+v", first)
	}
	second := decodeReply(t, []byte(lines[1]))
	if second.ID != float64(2) {
		t.Errorf("expected id 2 echoed, got %v", second.ID)
	}

	if s.ClientCount() != 0 {
		t.Errorf("stdio client must be unregistered after EOF, count is %d", s.ClientCount())
	}
}

func TestSocketServer_RoundTripAndBroadcast(t *testing.T) {
	s := newTestServer(t)
	sock := NewSocketServer(s, common.NewSilentLogger())
	if err := sock.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer sock.Close()

	conn, err := net.Dial("tcp", sock.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":5,"method":"ping"}` + "\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	reply := decodeReply(t, line)
	if reply.ID != float64(5) || reply.Error != nil {
		t.Errorf("unexpected reply: %+v", reply)
	}

	// The connection is a registered client and receives broadcasts.
	waitForClients(t, s, 1)
	s.RefreshTable(context.Background(), tableWithRoutes(t, echoRoute("GET", "/users/{id}")))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err = reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("broadcast read failed: %v", err)
	}
	if !bytes.Contains(line, []byte(MethodToolsChanged)) {
		t.Errorf("expected %s broadcast, got %s", MethodToolsChanged, line)
	}
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d", n)
}

func TestStreamHandler_Post(t *testing.T) {
	s := newTestServer(t)
	h := NewStreamHandler(s, common.NewSilentLogger())

	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	reply := decodeReply(t, w.Body.Bytes())
	if reply.ID != float64(1) || reply.Error != nil {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestStreamHandler_NotificationAccepted(t *testing.T) {
	s := newTestServer(t)
	h := NewStreamHandler(s, common.NewSilentLogger())

	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 202 {
		t.Errorf("expected 202 for a notification, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %s", w.Body.String())
	}
}

func TestStreamHandler_Events(t *testing.T) {
	s := newTestServer(t)
	h := NewStreamHandler(s, common.NewSilentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/mcp/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeEvents(w, req)
	}()

	waitForClients(t, s, 1)
	s.Notifier().ToolsChanged(nil)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: ready") {
		t.Errorf("expected ready handshake, got %q", body)
	}
	if !strings.Contains(body, "clientId") {
		t.Errorf("expected client id in handshake, got %q", body)
	}
	if !strings.Contains(body, MethodToolsChanged) {
		t.Errorf("expected broadcast delivered over the stream, got %q", body)
	}

	if s.ClientCount() != 0 {
		t.Errorf("stream client must be unregistered after disconnect, count is %d", s.ClientCount())
	}
}

func TestStreamClient_BackpressureFailure(t *testing.T) {
	c := &streamClient{
		id:   "slow",
		ch:   make(chan []byte, 1),
		done: make(chan struct{}),
	}

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send should buffer: %v", err)
	}
	if err := c.Send([]byte("b")); err == nil {
		t.Error("expected an error once the buffer is full and nobody drains")
	}

	c.Close()
	if err := c.Send([]byte("c")); err == nil {
		t.Error("expected an error after close")
	}
}

func TestSocketServer_AddrBeforeListen(t *testing.T) {
	sock := NewSocketServer(newTestServer(t), common.NewSilentLogger())
	if sock.Addr() != "" {
		t.Errorf("expected empty addr before listen, got %q", sock.Addr())
	}
}
