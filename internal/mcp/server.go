package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/routes"
)

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// SnapshotProvider supplies the second, independently-refreshed set of
// tools, resources, and prompts merged into the server's view. Implemented
// by the cache manager.
type SnapshotProvider interface {
	GetTools(ctx context.Context) ([]ToolDescriptor, error)
	GetResources(ctx context.Context) ([]Resource, error)
	GetPrompts(ctx context.Context) ([]Prompt, error)
	FindRoute(toolName string) (routes.RouteDescriptor, bool)
}

// BridgeInvoker forwards tool calls to external bridge processes.
// Implemented by the bridge manager.
type BridgeInvoker interface {
	CallTool(ctx context.Context, bridgeID, toolName string, args map[string]any) (json.RawMessage, error)
	FindTool(toolName string) (string, bool)
}

// handlerFunc handles one JSON-RPC method. It returns a result or an error
// to embed in the response.
type handlerFunc func(ctx context.Context, req *Request) (any, *RPCError)

// Server is the multi-transport MCP server. It owns the connected client
// set, the merged tool/resource view, and the dispatch of inbound JSON-RPC
// requests to method handlers. The route table reference is swapped
// atomically so readers never observe a half-updated table.
type Server struct {
	name    string
	version string
	logger  *common.Logger

	table     atomic.Pointer[routes.Table]
	resources *ResourceRegistry
	prompts   *PromptRegistry
	cache     SnapshotProvider
	bridges   BridgeInvoker

	clients  *clientSet
	notifier *NotificationManager
	methods  map[string]handlerFunc
}

// NewServer creates a server with an empty route table. Cache and bridge
// collaborators are optional and attached via SetCache / SetBridges.
func NewServer(name, version string, logger *common.Logger) *Server {
	s := &Server{
		name:      name,
		version:   version,
		logger:    logger,
		resources: NewResourceRegistry(),
		prompts:   NewPromptRegistry(),
		clients:   newClientSet(),
	}
	s.table.Store(routes.EmptyTable())
	s.notifier = NewNotificationManager(s.clients, logger)

	// Fixed method map: dispatch is tagged, never reflective.
	s.methods = map[string]handlerFunc{
		"initialize":               s.handleInitialize,
		"ping":                     s.handlePing,
		"tools/list":               s.handleToolsList,
		"tools/call":               s.handleToolsCall,
		"resources/list":           s.handleResourcesList,
		"resources/read":           s.handleResourcesRead,
		"resources/templates/list": s.handleResourceTemplatesList,
		"prompts/list":             s.handlePromptsList,
		"prompts/get":              s.handlePromptsGet,
	}
	return s
}

// SetCache attaches the snapshot provider merged into list responses.
func (s *Server) SetCache(cache SnapshotProvider) { s.cache = cache }

// SetBridges attaches the bridge invoker used for bridge-backed tool calls.
func (s *Server) SetBridges(bridges BridgeInvoker) { s.bridges = bridges }

// Resources returns the static resource registry.
func (s *Server) Resources() *ResourceRegistry { return s.resources }

// Prompts returns the static prompt registry.
func (s *Server) Prompts() *PromptRegistry { return s.prompts }

// Notifier returns the notification manager bound to this server's clients.
func (s *Server) Notifier() *NotificationManager { return s.notifier }

// Table returns the current route table snapshot.
func (s *Server) Table() *routes.Table { return s.table.Load() }

// SwapTable atomically replaces the route table without notifying clients.
// Used for the initial load before any client is connected.
func (s *Server) SwapTable(t *routes.Table) { s.table.Store(t) }

// RefreshTable atomically replaces the route table and broadcasts the full
// current tool list to every connected client. The broadcast happens-after
// the swap.
func (s *Server) RefreshTable(ctx context.Context, t *routes.Table) {
	s.table.Store(t)
	s.notifier.ToolsChanged(s.MergedTools(ctx))

	s.logger.Info().
		Int64("generation", int64(t.Generation)).
		Int("routes", t.Len()).
		Msg("route table swapped")
}

// Register adds a transport client to the broadcast set.
func (s *Server) Register(client TransportClient) {
	s.clients.add(client)
	s.logger.Debug().Str("client_id", client.ID()).Msg("transport client registered")
}

// Unregister removes a transport client from the broadcast set.
func (s *Server) Unregister(id string) {
	s.clients.remove(id)
	s.logger.Debug().Str("client_id", id).Msg("transport client removed")
}

// ClientCount returns the number of connected transport clients.
func (s *Server) ClientCount() int { return s.clients.len() }

// HandleMessage dispatches one inbound JSON-RPC message and returns the
// encoded response, or nil when the message is a notification. Behavior is
// identical regardless of the transport that delivered the message.
func (s *Server) HandleMessage(ctx context.Context, data []byte) []byte {
	req, errResp := ParseRequest(data)
	if errResp != nil {
		return errResp.Marshal()
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		if req.IsNotification() {
			// Client-side notifications (e.g. notifications/initialized)
			// need no reply.
			return nil
		}
		return NewError(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method)).Marshal()
	}

	result, rpcErr := handler(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return (&Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}).Marshal()
	}
	return NewResult(req.ID, result).Marshal()
}

// MergedTools combines the static route table with the cache manager's
// snapshot. Static tools take precedence on name collision; the result order
// is deterministic (table order, then cached order).
func (s *Server) MergedTools(ctx context.Context) []ToolDescriptor {
	static := AdaptTable(s.table.Load().Routes, SourceStatic)

	merged := make([]ToolDescriptor, 0, len(static))
	taken := make(map[string]bool, len(static))
	for _, d := range static {
		taken[d.Name()] = true
		merged = append(merged, d)
	}

	if s.cache != nil {
		cached, err := s.cache.GetTools(ctx)
		if err != nil {
			s.logger.Warn().Str("error", err.Error()).Msg("cache snapshot unavailable, serving static tools only")
			return merged
		}
		for _, d := range cached {
			if taken[d.Name()] {
				continue
			}
			taken[d.Name()] = true
			merged = append(merged, d)
		}
	}
	return merged
}

// mergedResources combines static registry entries with cached ones,
// static-first on URI collision.
func (s *Server) mergedResources(ctx context.Context) []Resource {
	static := s.resources.List()
	merged := make([]Resource, 0, len(static))
	taken := make(map[string]bool, len(static))
	for _, r := range static {
		taken[r.URI] = true
		merged = append(merged, r)
	}
	if s.cache != nil {
		cached, err := s.cache.GetResources(ctx)
		if err != nil {
			s.logger.Warn().Str("error", err.Error()).Msg("cache snapshot unavailable, serving static resources only")
			return merged
		}
		for _, r := range cached {
			if taken[r.URI] {
				continue
			}
			taken[r.URI] = true
			merged = append(merged, r)
		}
	}
	return merged
}

// mergedPrompts combines static registry entries with cached ones,
// static-first on name collision.
func (s *Server) mergedPrompts(ctx context.Context) []Prompt {
	static := s.prompts.List()
	merged := make([]Prompt, 0, len(static))
	taken := make(map[string]bool, len(static))
	for _, p := range static {
		taken[p.Name] = true
		merged = append(merged, p)
	}
	if s.cache != nil {
		cached, err := s.cache.GetPrompts(ctx)
		if err != nil {
			s.logger.Warn().Str("error", err.Error()).Msg("cache snapshot unavailable, serving static prompts only")
			return merged
		}
		for _, p := range cached {
			if taken[p.Name] {
				continue
			}
			taken[p.Name] = true
			merged = append(merged, p)
		}
	}
	return merged
}

// --- method handlers ---

func (s *Server) handleInitialize(ctx context.Context, req *Request) (any, *RPCError) {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
			"prompts":   map[string]any{"listChanged": true},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	}, nil
}

func (s *Server) handlePing(ctx context.Context, req *Request) (any, *RPCError) {
	return map[string]any{}, nil
}

func (s *Server) handleToolsList(ctx context.Context, req *Request) (any, *RPCError) {
	return map[string]any{"tools": s.MergedTools(ctx)}, nil
}

// toolCallParams is the tools/call parameter shape.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) (any, *RPCError) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid tool call params"}
	}
	if params.Name == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "tool name is required"}
	}

	// Static table first, then the cached snapshot.
	if route, ok := s.findStaticRoute(params.Name); ok {
		return s.invokeRoute(ctx, route, params.Arguments)
	}
	if s.cache != nil {
		if route, ok := s.cache.FindRoute(params.Name); ok {
			return s.invokeRoute(ctx, route, params.Arguments)
		}
	}

	// Bridge-backed tools: forward and relay the result verbatim.
	if s.bridges != nil {
		if bridgeID, ok := s.bridges.FindTool(params.Name); ok {
			result, err := s.bridges.CallTool(ctx, bridgeID, params.Name, params.Arguments)
			if err != nil {
				return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
			}
			return json.RawMessage(result), nil
		}
	}

	return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown tool %q", params.Name)}
}

// findStaticRoute resolves a tool name against the current table using the
// same adaptation that produced the published names.
func (s *Server) findStaticRoute(toolName string) (routes.RouteDescriptor, bool) {
	table := s.table.Load()
	adapted := AdaptTable(table.Routes, SourceStatic)
	for i, d := range adapted {
		if d.Name() == toolName {
			return table.Routes[i], true
		}
	}
	return routes.RouteDescriptor{}, false
}

// invokeRoute executes a route handler and wraps the payload per MCP
// content conventions. Handler failures map to -32603.
func (s *Server) invokeRoute(ctx context.Context, route routes.RouteDescriptor, args map[string]any) (any, *RPCError) {
	if route.Handler == nil {
		return nil, &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("route %s has no handler", route.Key())}
	}

	payload, err := route.Handler(ctx, callInputFromArgs(args))
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}

	text, ok := payload.(string)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("failed to encode tool result: %v", err)}
		}
		text = string(data)
	}

	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}, nil
}

// callInputFromArgs splits tool arguments into the params/query/body groups
// the input schema nests them under.
func callInputFromArgs(args map[string]any) routes.CallInput {
	group := func(key string) map[string]any {
		if m, ok := args[key].(map[string]any); ok {
			return m
		}
		return nil
	}
	return routes.CallInput{
		Params: group("params"),
		Query:  group("query"),
		Body:   group("body"),
	}
}

func (s *Server) handleResourcesList(ctx context.Context, req *Request) (any, *RPCError) {
	return map[string]any{"resources": s.mergedResources(ctx)}, nil
}

// resourceReadParams is the resources/read parameter shape.
type resourceReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleResourcesRead(ctx context.Context, req *Request) (any, *RPCError) {
	var params resourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "resource uri is required"}
	}

	res, content, err := s.resources.Read(params.URI)
	if err != nil && s.cache != nil {
		// Fall back to the cached resource set.
		cached, cacheErr := s.cache.GetResources(ctx)
		if cacheErr == nil {
			for _, r := range cached {
				if r.URI == params.URI {
					res, content, err = r, r.Content, nil
					break
				}
			}
		}
	}
	if err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	return map[string]any{
		"contents": []map[string]any{
			{
				"uri":      params.URI,
				"mimeType": res.MIMEType,
				"text":     content,
			},
		},
	}, nil
}

func (s *Server) handleResourceTemplatesList(ctx context.Context, req *Request) (any, *RPCError) {
	templates := s.resources.Templates()
	out := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		out = append(out, map[string]any{
			"uriTemplate": t.URI,
			"name":        t.Name,
			"description": t.Description,
			"mimeType":    t.MIMEType,
		})
	}
	return map[string]any{"resourceTemplates": out}, nil
}

func (s *Server) handlePromptsList(ctx context.Context, req *Request) (any, *RPCError) {
	prompts := s.mergedPrompts(ctx)
	out := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		args := make([]map[string]any, 0, len(p.Parameters))
		for _, param := range p.Parameters {
			args = append(args, map[string]any{"name": param, "required": true})
		}
		out = append(out, map[string]any{
			"name":        p.Name,
			"description": p.Description,
			"arguments":   args,
		})
	}
	return map[string]any{"prompts": out}, nil
}

// promptGetParams is the prompts/get parameter shape.
type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (s *Server) handlePromptsGet(ctx context.Context, req *Request) (any, *RPCError) {
	var params promptGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "prompt name is required"}
	}

	p, content, err := s.prompts.Render(params.Name, params.Arguments)
	if err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	return map[string]any{
		"description": p.Description,
		"messages": []map[string]any{
			{
				"role":    "user",
				"content": map[string]any{"type": "text", "text": content},
			},
		},
	}, nil
}
