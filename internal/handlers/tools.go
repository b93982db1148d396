package handlers

import (
	"net/http"

	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/mcp"
)

// ToolsHandler publishes the merged tool list over plain HTTP so callers can
// inspect the gateway without speaking MCP.
type ToolsHandler struct {
	server *mcp.Server
	logger *common.Logger
}

// NewToolsHandler creates a new tools listing handler.
func NewToolsHandler(server *mcp.Server, logger *common.Logger) *ToolsHandler {
	return &ToolsHandler{server: server, logger: logger}
}

// ServeHTTP handles GET /mcp/tools.
func (h *ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	tools := h.server.MergedTools(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
	})
}
