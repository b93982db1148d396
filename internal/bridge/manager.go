package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/routegate/routegate/internal/common"
)

// defaultListTimeout bounds a full ListAllTools sweep across every bridge.
const defaultListTimeout = 10 * time.Second

// ListResult carries one bridge's contribution to an aggregate tool listing.
// A failing bridge reports its error instead of failing the sweep.
type ListResult struct {
	Tools []ToolInfo `json:"tools,omitempty"`
	Err   string     `json:"error,omitempty"`
}

// Manager owns the set of configured bridge clients and routes tool calls to
// them. It also maintains a name index so calls can omit the bridge id.
type Manager struct {
	logger      *common.Logger
	listTimeout time.Duration

	mu        sync.RWMutex
	order     []string
	clients   map[string]*Client
	toolIndex map[string]string
}

// NewManager creates clients for every configured bridge. Processes are not
// started until Start.
func NewManager(cfgs []Config, logger *common.Logger) *Manager {
	m := &Manager{
		logger:      logger,
		listTimeout: defaultListTimeout,
		clients:     make(map[string]*Client, len(cfgs)),
		toolIndex:   make(map[string]string),
	}
	for _, cfg := range cfgs {
		if _, exists := m.clients[cfg.ID]; exists {
			logger.Warn().Str("bridge_id", cfg.ID).Msg("duplicate bridge id, keeping first")
			continue
		}
		m.order = append(m.order, cfg.ID)
		m.clients[cfg.ID] = NewClient(cfg, logger)
	}
	return m
}

// Start spawns and initializes every bridge. A bridge that fails to start is
// logged and left unavailable; the others keep running.
func (m *Manager) Start(ctx context.Context) {
	for _, id := range m.IDs() {
		client := m.client(id)
		if err := client.Start(); err != nil {
			m.logger.Error().
				Str("bridge_id", id).
				Str("error", err.Error()).
				Msg("bridge failed to start")
			continue
		}
		if err := client.Initialize(ctx); err != nil {
			m.logger.Error().
				Str("bridge_id", id).
				Str("error", err.Error()).
				Msg("bridge handshake failed")
		}
	}
}

// IDs returns bridge ids in configuration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Manager) client(id string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[id]
}

// ListAllTools queries every bridge in parallel under a shared deadline.
// Failures are reported per bridge so one slow or crashed process never
// hides the tools of the others.
func (m *Manager) ListAllTools(ctx context.Context) map[string]ListResult {
	ctx, cancel := context.WithTimeout(ctx, m.listTimeout)
	defer cancel()

	ids := m.IDs()
	results := make(map[string]ListResult, len(ids))

	var wg sync.WaitGroup
	var resultsMu sync.Mutex
	for _, id := range ids {
		client := m.client(id)
		wg.Add(1)
		go func(id string, client *Client) {
			defer wg.Done()

			var res ListResult
			if !client.Available() {
				res.Err = ErrUnavailable.Error()
			} else if tools, err := client.ListTools(ctx); err != nil {
				res.Err = err.Error()
			} else {
				res.Tools = tools
			}

			resultsMu.Lock()
			results[id] = res
			resultsMu.Unlock()

			if len(res.Tools) > 0 {
				m.mu.Lock()
				for _, t := range res.Tools {
					if _, taken := m.toolIndex[t.Name]; !taken {
						m.toolIndex[t.Name] = id
					}
				}
				m.mu.Unlock()
			}
		}(id, client)
	}
	wg.Wait()

	return results
}

// FindTool resolves a tool name to the bridge that advertised it. The index
// is populated by ListAllTools sweeps.
func (m *Manager) FindTool(toolName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.toolIndex[toolName]
	return id, ok
}

// CallTool invokes a tool on a specific bridge, or resolves the bridge by
// tool name when bridgeID is empty.
func (m *Manager) CallTool(ctx context.Context, bridgeID, toolName string, args map[string]any) (json.RawMessage, error) {
	if bridgeID == "" {
		id, ok := m.FindTool(toolName)
		if !ok {
			return nil, fmt.Errorf("no bridge advertises tool %q", toolName)
		}
		bridgeID = id
	}

	client := m.client(bridgeID)
	if client == nil {
		return nil, fmt.Errorf("unknown bridge %q", bridgeID)
	}
	return client.CallTool(ctx, toolName, args)
}

// Restart restarts one crashed bridge by id.
func (m *Manager) Restart(id string) error {
	client := m.client(id)
	if client == nil {
		return fmt.Errorf("unknown bridge %q", id)
	}
	return client.Restart()
}

// Close terminates every bridge process.
func (m *Manager) Close() {
	for _, id := range m.IDs() {
		if client := m.client(id); client != nil {
			client.Close()
		}
	}
}
