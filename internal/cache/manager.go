// Package cache maintains the independently-refreshable snapshot of tools,
// resources, and prompts derived from the current route table. The gateway
// merges this snapshot with its static registries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/mcp"
	"github.com/routegate/routegate/internal/routes"
)

// Stats reports cache manager state for diagnostics.
type Stats struct {
	Tools       int       `json:"tools"`
	Resources   int       `json:"resources"`
	Prompts     int       `json:"prompts"`
	Generation  uint64    `json:"generation"`
	RefreshedAt time.Time `json:"refreshed_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Refreshes   int64     `json:"refreshes"`
}

// Manager derives a snapshot from a route table and serves it until the TTL
// elapses, after which the next read re-derives it. Thread-safe with
// sync.RWMutex; snapshots are never mutated in place.
type Manager struct {
	ttl    time.Duration
	logger *common.Logger

	mu          sync.RWMutex
	table       *routes.Table
	tools       []mcp.ToolDescriptor
	resources   []mcp.Resource
	prompts     []mcp.Prompt
	byToolName  map[string]routes.RouteDescriptor
	refreshedAt time.Time

	hits      int64
	misses    int64
	refreshes int64
}

// NewManager creates a cache manager with the given staleness TTL.
func NewManager(ttl time.Duration, logger *common.Logger) *Manager {
	return &Manager{
		ttl:        ttl,
		logger:     logger,
		table:      routes.EmptyTable(),
		byToolName: make(map[string]routes.RouteDescriptor),
	}
}

// Refresh rebuilds the snapshot from a new route table. Called by the
// reload coordinator after each successful table swap.
func (m *Manager) Refresh(table *routes.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = table
	m.rebuildLocked()
}

// rebuildLocked derives the snapshot from the held table. Must be called
// with mu held.
func (m *Manager) rebuildLocked() {
	tools := mcp.AdaptTable(m.table.Routes, mcp.SourceCached)

	byName := make(map[string]routes.RouteDescriptor, len(tools))
	resources := make([]mcp.Resource, 0, len(tools))
	for i, d := range tools {
		route := m.table.Routes[i]
		byName[d.Name()] = route

		doc, err := json.Marshal(route)
		if err != nil {
			continue
		}
		resources = append(resources, mcp.NewResource(
			"route://"+d.Name(),
			d.Name(),
			fmt.Sprintf("Route descriptor for %s", route.Key()),
			"application/json",
			string(doc),
		))
	}

	var prompts []mcp.Prompt
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for _, d := range tools {
			names = append(names, d.Name())
		}
		prompts = append(prompts, mcp.NewPrompt(
			"api-overview",
			"Summary of the operations currently published by this gateway",
			fmt.Sprintf("The gateway currently publishes %d operations: %s.",
				len(names), strings.Join(names, ", ")),
		))
	}

	m.tools = tools
	m.resources = resources
	m.prompts = prompts
	m.byToolName = byName
	m.refreshedAt = time.Now()
	m.refreshes++
}

// ensureFresh re-derives the snapshot when it is stale. Returns with mu held
// for reading released.
func (m *Manager) ensureFresh() {
	m.mu.RLock()
	stale := time.Since(m.refreshedAt) > m.ttl
	m.mu.RUnlock()
	if !stale {
		m.mu.Lock()
		m.hits++
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.refreshedAt) > m.ttl {
		m.misses++
		m.rebuildLocked()
	}
}

// GetTools returns the current cached tool snapshot.
func (m *Manager) GetTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.ensureFresh()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mcp.ToolDescriptor, len(m.tools))
	copy(out, m.tools)
	return out, nil
}

// GetResources returns the current cached resource snapshot.
func (m *Manager) GetResources(ctx context.Context) ([]mcp.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.ensureFresh()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mcp.Resource, len(m.resources))
	copy(out, m.resources)
	return out, nil
}

// GetPrompts returns the current cached prompt snapshot.
func (m *Manager) GetPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.ensureFresh()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mcp.Prompt, len(m.prompts))
	copy(out, m.prompts)
	return out, nil
}

// FindRoute resolves a cached tool name back to its route descriptor.
func (m *Manager) FindRoute(toolName string) (routes.RouteDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	route, ok := m.byToolName[toolName]
	return route, ok
}

// GetCacheStats returns a point-in-time view of cache state.
func (m *Manager) GetCacheStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Tools:       len(m.tools),
		Resources:   len(m.resources),
		Prompts:     len(m.prompts),
		Generation:  m.table.Generation,
		RefreshedAt: m.refreshedAt,
		TTLSeconds:  int(m.ttl / time.Second),
		Hits:        m.hits,
		Misses:      m.misses,
		Refreshes:   m.refreshes,
	}
}
