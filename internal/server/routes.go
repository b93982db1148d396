package server

import "net/http"

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// MCP endpoint (JSON-RPC over HTTP) and the notification event stream
	mux.Handle("/mcp", s.app.Stream)
	mux.HandleFunc("/mcp/events", s.app.Stream.ServeEvents)
	mux.HandleFunc("/mcp/tools", s.app.ToolsHandler.ServeHTTP)

	// Bridge endpoints; with no bridges configured they report empty results
	mux.HandleFunc("/bridge/list-tools", s.app.BridgeListHandler.ServeHTTP)
	mux.HandleFunc("/bridge/call-tool", s.app.BridgeCallHandler.ServeHTTP)

	// API routes
	mux.HandleFunc("/api/health", s.app.HealthHandler.ServeHTTP)
	mux.HandleFunc("/api/version", s.app.VersionHandler.ServeHTTP)
	mux.HandleFunc("/api/cache/stats", s.app.CacheStatsHandler.ServeHTTP)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.handleNotFound)

	// Everything else is resolved against the dynamic route table
	mux.Handle("/", s.app.RouteDispatcher)

	return mux
}

// handleNotFound returns a JSON 404 for unmatched API routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"Not Found","message":"The requested endpoint does not exist"}`))
}
