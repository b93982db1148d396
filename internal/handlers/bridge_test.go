package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/routegate/routegate/internal/bridge"
	"github.com/routegate/routegate/internal/common"
)

// directoryStub satisfies BridgeDirectory with canned results.
type directoryStub struct {
	listResults map[string]bridge.ListResult
	callResult  json.RawMessage
	callErr     error
	lastBridge  string
	lastTool    string
	lastArgs    map[string]any
}

func (d *directoryStub) ListAllTools(ctx context.Context) map[string]bridge.ListResult {
	return d.listResults
}

func (d *directoryStub) CallTool(ctx context.Context, bridgeID, toolName string, args map[string]any) (json.RawMessage, error) {
	d.lastBridge, d.lastTool, d.lastArgs = bridgeID, toolName, args
	return d.callResult, d.callErr
}

func TestBridgeListHandler_PartialResults(t *testing.T) {
	stub := &directoryStub{listResults: map[string]bridge.ListResult{
		"up":   {Tools: []bridge.ToolInfo{{Name: "remote_echo"}}},
		"down": {Err: "bridge unavailable until restarted"},
	}}
	h := NewBridgeListHandler(stub, common.NewSilentLogger())

	req := httptest.NewRequest("GET", "/bridge/list-tools", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with partial results, got %d", w.Code)
	}

	var out struct {
		Servers map[string]struct {
			Tools []bridge.ToolInfo `json:"tools"`
			Error string            `json:"error"`
		} `json:"servers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if len(out.Servers["up"].Tools) != 1 {
		t.Errorf("expected the healthy bridge's tools, got %+v", out.Servers["up"])
	}
	if out.Servers["down"].Error == "" {
		t.Error("expected the failing bridge's error inline")
	}
}

func TestBridgeCallHandler_MissingToolName(t *testing.T) {
	h := NewBridgeCallHandler(&directoryStub{}, common.NewSilentLogger())

	req := httptest.NewRequest("POST", "/bridge/call-tool", strings.NewReader(`{"bridgeId":"up"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if out["error"] != "toolName required" {
		t.Errorf("expected error %q, got %q", "toolName required", out["error"])
	}
}

func TestBridgeCallHandler_ForwardsCall(t *testing.T) {
	stub := &directoryStub{callResult: json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`)}
	h := NewBridgeCallHandler(stub, common.NewSilentLogger())

	body := `{"bridgeId":"up","toolName":"remote_echo","args":{"q":"x"}}`
	req := httptest.NewRequest("POST", "/bridge/call-tool", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.lastBridge != "up" || stub.lastTool != "remote_echo" {
		t.Errorf("call not forwarded as given: bridge=%q tool=%q", stub.lastBridge, stub.lastTool)
	}
	if w.Body.String() != string(stub.callResult) {
		t.Errorf("expected bridge result relayed verbatim, got %s", w.Body.String())
	}
}

func TestBridgeCallHandler_BodyFieldsReachBridge(t *testing.T) {
	stub := &directoryStub{callResult: json.RawMessage(`{}`)}
	h := NewBridgeCallHandler(stub, common.NewSilentLogger())

	body := `{"toolName":"echo","bridgeId":"b1","args":{"x":1}}`
	req := httptest.NewRequest("POST", "/bridge/call-tool", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.lastBridge != "b1" {
		t.Errorf("bridgeId dropped: forwarded %q, want %q", stub.lastBridge, "b1")
	}
	if len(stub.lastArgs) != 1 || stub.lastArgs["x"] != float64(1) {
		t.Errorf("args dropped: forwarded %v, want map[x:1]", stub.lastArgs)
	}
}

func TestBridgeCallHandler_BridgeError(t *testing.T) {
	stub := &directoryStub{callErr: errors.New("bridge request timed out")}
	h := NewBridgeCallHandler(stub, common.NewSilentLogger())

	body := `{"toolName":"remote_echo"}`
	req := httptest.NewRequest("POST", "/bridge/call-tool", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a bridge failure, got %d", w.Code)
	}
}

func TestBridgeCallHandler_RejectsGet(t *testing.T) {
	h := NewBridgeCallHandler(&directoryStub{}, common.NewSilentLogger())

	req := httptest.NewRequest("GET", "/bridge/call-tool", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
