package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/routegate/routegate/internal/common"
)

// maxMessageSize caps a single inbound JSON-RPC message on the line-based
// transports.
const maxMessageSize = 4 << 20 // 4MB

// TransportClient is one connected MCP client, polymorphic over the stdio,
// socket, and HTTP-stream transports. A client is Ready once registered with
// the server; any Send failure moves it to Closed and it is removed from the
// broadcast set.
type TransportClient interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// clientSet is the live client collection owned by the Server.
type clientSet struct {
	mu      sync.RWMutex
	clients map[string]TransportClient
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[string]TransportClient)}
}

func (c *clientSet) add(client TransportClient) {
	c.mu.Lock()
	c.clients[client.ID()] = client
	c.mu.Unlock()
}

func (c *clientSet) remove(id string) {
	c.mu.Lock()
	delete(c.clients, id)
	c.mu.Unlock()
}

// snapshot returns the current clients so broadcast can iterate without
// holding the lock across writes.
func (c *clientSet) snapshot() []TransportClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TransportClient, 0, len(c.clients))
	for _, cl := range c.clients {
		out = append(out, cl)
	}
	return out
}

func (c *clientSet) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// --- stdio transport ---

// stdioClient writes newline-delimited JSON to the process stdout.
type stdioClient struct {
	id string
	mu sync.Mutex
	w  io.Writer
}

func (c *stdioClient) ID() string { return c.id }

func (c *stdioClient) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(msg); err != nil {
		return err
	}
	_, err := c.w.Write([]byte{'\n'})
	return err
}

func (c *stdioClient) Close() error { return nil }

// ServeStdio runs the stdio transport until EOF or context cancellation.
// The stdio client is Ready immediately; there is no handshake.
func ServeStdio(ctx context.Context, s *Server, r io.Reader, w io.Writer) error {
	client := &stdioClient{id: uuid.New().String(), w: w}
	s.Register(client)
	defer s.Unregister(client.ID())

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.HandleMessage(ctx, line)
		if resp == nil {
			continue
		}
		if err := client.Send(resp); err != nil {
			return fmt.Errorf("stdio write failed: %w", err)
		}
	}
	return scanner.Err()
}

// --- socket transport ---

// socketClient writes newline-delimited JSON to one TCP connection.
type socketClient struct {
	id   string
	mu   sync.Mutex
	conn net.Conn
}

func (c *socketClient) ID() string { return c.id }

func (c *socketClient) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(msg); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte{'\n'})
	return err
}

func (c *socketClient) Close() error { return c.conn.Close() }

// SocketServer accepts persistent TCP connections speaking newline-delimited
// JSON-RPC. Each connection is registered as a client after accept and
// removed on disconnect or write failure.
type SocketServer struct {
	server *Server
	logger *common.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewSocketServer creates a socket transport for the given server.
func NewSocketServer(server *Server, logger *common.Logger) *SocketServer {
	return &SocketServer{server: server, logger: logger}
}

// Listen binds the listen address and starts the accept loop in the
// background.
func (s *SocketServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("socket transport listen failed: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("socket transport listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, or empty before Listen.
func (s *SocketServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *SocketServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed during shutdown.
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *SocketServer) handleConn(conn net.Conn) {
	defer s.wg.Done()

	client := &socketClient{id: uuid.New().String(), conn: conn}
	s.server.Register(client)
	defer func() {
		s.server.Unregister(client.ID())
		conn.Close()
	}()

	logger := s.logger.WithCorrelationId(client.ID())
	logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("socket client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.server.HandleMessage(context.Background(), line)
		if resp == nil {
			continue
		}
		if err := client.Send(resp); err != nil {
			logger.Warn().Str("error", err.Error()).Msg("socket write failed, dropping client")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug().Str("error", err.Error()).Msg("socket client read ended")
	}
}

// Close stops the listener and waits for connection handlers to finish.
func (s *SocketServer) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return nil
}

// --- HTTP stream transport ---

// streamSendBuffer bounds per-client queued notifications; a client that
// cannot drain in time is treated as failed.
const streamSendBuffer = 16

// streamClient delivers messages to one long-lived HTTP event stream.
type streamClient struct {
	id   string
	ch   chan []byte
	once sync.Once
	done chan struct{}
}

func (c *streamClient) ID() string { return c.id }

func (c *streamClient) Send(msg []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("stream client %s closed", c.id)
	case c.ch <- msg:
		return nil
	default:
		return fmt.Errorf("stream client %s is not draining", c.id)
	}
}

func (c *streamClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// StreamHandler exposes the HTTP transport: POST requests carry individual
// JSON-RPC messages, GET opens a server-sent-events push stream that
// receives broadcast notifications.
type StreamHandler struct {
	server *Server
	logger *common.Logger
}

// NewStreamHandler creates the HTTP transport handler.
func NewStreamHandler(server *Server, logger *common.Logger) *StreamHandler {
	return &StreamHandler{server: server, logger: logger}
}

// ServeHTTP handles POST /mcp.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := h.server.HandleMessage(r.Context(), body)
	if resp == nil {
		// Notification: acknowledged without a body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

// ServeEvents handles GET /mcp/events: it registers the caller as a
// push-stream client until the connection drops.
func (h *StreamHandler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	client := &streamClient{
		id:   uuid.New().String(),
		ch:   make(chan []byte, streamSendBuffer),
		done: make(chan struct{}),
	}
	h.server.Register(client)
	defer func() {
		h.server.Unregister(client.ID())
		client.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Handshake: the stream is Ready once the client id is delivered.
	fmt.Fprintf(w, "event: ready\ndata: {\"clientId\":%q}\n\n", client.id)
	flusher.Flush()

	h.logger.Debug().Str("client_id", client.id).Msg("stream client connected")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case msg := <-client.ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				h.logger.Warn().
					Str("client_id", client.id).
					Str("error", err.Error()).
					Msg("stream write failed, dropping client")
				return
			}
			flusher.Flush()
		}
	}
}
