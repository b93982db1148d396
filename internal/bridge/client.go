package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/routegate/routegate/internal/common"
)

// Bridge failure modes.
var (
	// ErrTimeout reports that a bridge did not respond within the
	// configured window.
	ErrTimeout = errors.New("bridge request timed out")
	// ErrCrashed reports that the bridge process exited before responding.
	ErrCrashed = errors.New("bridge process exited before responding")
	// ErrUnavailable reports that the bridge is down until explicitly
	// restarted.
	ErrUnavailable = errors.New("bridge unavailable until restarted")
	// ErrPendingFull reports that the bounded pending-request queue is
	// exhausted.
	ErrPendingFull = errors.New("bridge pending request limit reached")
)

// maxPendingRequests bounds outstanding requests per bridge. Requests beyond
// the bound are rejected rather than queued without limit.
const maxPendingRequests = 64

// defaultCallTimeout applies when the bridge config sets none.
const defaultCallTimeout = 15 * time.Second

// Config describes one bridge process.
type Config struct {
	ID      string
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// ToolInfo is one tool advertised by a bridge.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// rpcOutcome carries a completed round-trip back to the caller.
type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// wireRequest / wireResponse are the framed JSON-RPC envelopes exchanged
// with the bridge process.
type wireRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type wireResponse struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client wraps one external tool-provider process and speaks Content-Length
// framed JSON-RPC over its stdio. The pending-request map is owned by this
// client and only touched under its lock.
type Client struct {
	cfg    Config
	logger *common.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pending   map[int64]chan rpcOutcome
	nextID    int64
	available bool
	exitOnce  *sync.Once
	done      chan struct{}
}

// NewClient creates a client for the given bridge configuration. The
// process is not started until Start.
func NewClient(cfg Config, logger *common.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger.WithCorrelationId("bridge:" + cfg.ID),
		pending: make(map[int64]chan rpcOutcome),
	}
}

// ID returns the bridge identifier.
func (c *Client) ID() string { return c.cfg.ID }

// Available reports whether the process is running and accepting requests.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Start spawns the bridge process and begins reading its stdout.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available {
		return nil
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	if len(c.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range c.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge %s: stdin pipe failed: %w", c.cfg.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("bridge %s: stdout pipe failed: %w", c.cfg.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("bridge %s: stderr pipe failed: %w", c.cfg.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bridge %s: failed to start %q: %w", c.cfg.ID, c.cfg.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.pending = make(map[int64]chan rpcOutcome)
	c.available = true
	c.exitOnce = &sync.Once{}
	c.done = make(chan struct{})

	c.logger.Info().
		Str("command", c.cfg.Command).
		Int("pid", cmd.Process.Pid).
		Msg("bridge process started")

	go c.readLoop(stdout, cmd, c.exitOnce, c.done)
	go c.stderrLoop(stderr)

	return nil
}

// attach wires an already-connected pipe pair instead of spawning a
// process. Used by tests to script the remote side.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader) {
	c.mu.Lock()
	c.stdin = stdin
	c.pending = make(map[int64]chan rpcOutcome)
	c.available = true
	c.exitOnce = &sync.Once{}
	c.done = make(chan struct{})
	exitOnce, done := c.exitOnce, c.done
	c.mu.Unlock()

	go c.readLoop(stdout, nil, exitOnce, done)
}

// readLoop re-assembles framed messages from the process stdout and
// dispatches them. On stream end it fails every pending request with
// ErrCrashed and flags the bridge unavailable.
func (c *Client) readLoop(stdout io.Reader, cmd *exec.Cmd, exitOnce *sync.Once, done chan struct{}) {
	var dec Decoder
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			messages, derr := dec.Feed(buf[:n])
			for _, msg := range messages {
				c.dispatch(msg)
			}
			if derr != nil {
				c.logger.Error().Str("error", derr.Error()).Msg("bridge stream corrupt")
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Debug().Str("error", err.Error()).Msg("bridge stdout read ended")
			}
			break
		}
	}

	exitOnce.Do(func() {
		if cmd != nil {
			cmd.Wait()
		}
		c.failAll(ErrCrashed)
		close(done)
		c.logger.Warn().Msg("bridge process exited")
	})
}

// stderrLoop forwards bridge stderr lines to the gateway log.
func (c *Client) stderrLoop(stderr io.Reader) {
	buf := make([]byte, 8*1024)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			c.logger.Debug().Str("stderr", string(buf[:n])).Msg("bridge output")
		}
		if err != nil {
			return
		}
	}
}

// dispatch routes one decoded message to its pending request. Messages with
// a method and no id are notifications from the bridge and are only logged.
func (c *Client) dispatch(msg []byte) {
	var resp wireResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		c.logger.Warn().Str("error", err.Error()).Msg("bridge sent unparseable message")
		return
	}
	if resp.ID == nil {
		if resp.Method != "" {
			c.logger.Debug().Str("method", resp.Method).Msg("bridge notification")
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*resp.ID]
	if ok {
		delete(c.pending, *resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Int64("id", *resp.ID).Msg("bridge response for unknown request id")
		return
	}

	if resp.Error != nil {
		ch <- rpcOutcome{err: fmt.Errorf("bridge error %d: %s", resp.Error.Code, resp.Error.Message)}
		return
	}
	ch <- rpcOutcome{result: resp.Result}
}

// failAll completes every pending request with err.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = false
	for id, ch := range c.pending {
		ch <- rpcOutcome{err: err}
		delete(c.pending, id)
	}
}

// Call sends a framed request and waits for the matching response. It fails
// with ErrTimeout when no response arrives within the configured window and
// with ErrCrashed when the process exits before responding.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.available {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge %s: %w", c.cfg.ID, ErrUnavailable)
	}
	if len(c.pending) >= maxPendingRequests {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge %s: %w", c.cfg.ID, ErrPendingFull)
	}

	c.nextID++
	id := c.nextID
	ch := make(chan rpcOutcome, 1)
	c.pending[id] = ch

	payload, err := json.Marshal(wireRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge %s: failed to encode request: %w", c.cfg.ID, err)
	}
	writeErr := WriteFrame(c.stdin, payload)
	c.mu.Unlock()

	if writeErr != nil {
		c.forget(id)
		return nil, fmt.Errorf("bridge %s: write failed: %w", c.cfg.ID, writeErr)
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("bridge %s: %w", c.cfg.ID, out.err)
		}
		return out.result, nil
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("bridge %s: %w", c.cfg.ID, ErrTimeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// forget abandons a pending request after timeout or cancellation.
func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// notify sends a framed notification (no id, no response expected).
func (c *Client) notify(method string, params any) error {
	payload, err := json.Marshal(wireRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available {
		return fmt.Errorf("bridge %s: %w", c.cfg.ID, ErrUnavailable)
	}
	return WriteFrame(c.stdin, payload)
}

// Initialize performs the MCP handshake with the bridge process.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]any{
			"name":    "routegate",
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return err
	}
	return c.notify("notifications/initialized", map[string]any{})
}

// ListTools queries the bridge for its advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("bridge %s: failed to parse tool list: %w", c.cfg.ID, err)
	}
	return parsed.Tools, nil
}

// CallTool invokes one bridge tool and returns its result verbatim.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
}

// Close terminates the bridge process. Pending requests are failed by the
// read loop when the stream ends.
func (c *Client) Close() error {
	c.mu.Lock()
	stdin := c.stdin
	cmd := c.cmd
	c.available = false
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	return nil
}

// Restart terminates the process (if running) and spawns a fresh one. Used
// after a crash; the bridge stays unavailable until this succeeds.
func (c *Client) Restart() error {
	c.Close()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}

	c.mu.Lock()
	c.cmd = nil
	c.stdin = nil
	c.mu.Unlock()

	return c.Start()
}
