package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/routegate/routegate/internal/bridge"
	"github.com/routegate/routegate/internal/common"
)

// BridgeDirectory is the bridge manager surface the HTTP handlers need.
type BridgeDirectory interface {
	ListAllTools(ctx context.Context) map[string]bridge.ListResult
	CallTool(ctx context.Context, bridgeID, toolName string, args map[string]any) (json.RawMessage, error)
}

// BridgeListHandler aggregates tool listings from every configured bridge.
type BridgeListHandler struct {
	bridges BridgeDirectory
	logger  *common.Logger
}

// NewBridgeListHandler creates a new bridge listing handler.
func NewBridgeListHandler(bridges BridgeDirectory, logger *common.Logger) *BridgeListHandler {
	return &BridgeListHandler{bridges: bridges, logger: logger}
}

// ServeHTTP handles GET /bridge/list-tools. Bridges that fail report their
// error inline; the endpoint itself still returns 200 with partial results.
func (h *BridgeListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	results := h.bridges.ListAllTools(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"servers": results,
	})
}

// bridgeCallRequest is the POST /bridge/call-tool body. bridgeId is
// optional; without it the tool name is resolved through the bridge index.
type bridgeCallRequest struct {
	ToolName string         `json:"toolName"`
	BridgeID string         `json:"bridgeId"`
	Args     map[string]any `json:"args"`
}

// BridgeCallHandler forwards a single tool call to a bridge process.
type BridgeCallHandler struct {
	bridges BridgeDirectory
	logger  *common.Logger
}

// NewBridgeCallHandler creates a new bridge call handler.
func NewBridgeCallHandler(bridges BridgeDirectory, logger *common.Logger) *BridgeCallHandler {
	return &BridgeCallHandler{bridges: bridges, logger: logger}
}

// ServeHTTP handles POST /bridge/call-tool.
func (h *BridgeCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req bridgeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ToolName == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "toolName required"})
		return
	}

	result, err := h.bridges.CallTool(r.Context(), req.BridgeID, req.ToolName, req.Args)
	if err != nil {
		h.logger.Warn().
			Str("bridge_id", req.BridgeID).
			Str("tool", req.ToolName).
			Str("error", err.Error()).
			Msg("bridge tool call failed")
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}
