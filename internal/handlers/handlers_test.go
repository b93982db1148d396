package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/routegate/routegate/internal/cache"
	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/mcp"
	"github.com/routegate/routegate/internal/routes"
)

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(common.NewSilentLogger())

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("expected status ok, got %q", out["status"])
	}
}

func TestHealthHandler_RejectsPost(t *testing.T) {
	h := NewHealthHandler(common.NewSilentLogger())

	req := httptest.NewRequest("POST", "/api/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	h := NewVersionHandler(common.NewSilentLogger())

	req := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	for _, key := range []string{"version", "build", "git_commit"} {
		if _, ok := out[key]; !ok {
			t.Errorf("expected %q in version payload", key)
		}
	}
}

func TestToolsHandler_ServesMergedList(t *testing.T) {
	logger := common.NewSilentLogger()
	srv := mcp.NewServer("routegate-test", "0.0.1", logger)
	srv.SwapTable(routes.NewTable(1, []routes.RouteDescriptor{
		{Method: "GET", Path: "/users/{id}"},
	}))

	h := NewToolsHandler(srv, logger)
	req := httptest.NewRequest("GET", "/mcp/tools", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "get_users_id" {
		t.Errorf("unexpected tool list: %+v", out.Tools)
	}
}

func TestCacheStatsHandler(t *testing.T) {
	logger := common.NewSilentLogger()
	m := cache.NewManager(30*time.Second, logger)
	m.Refresh(routes.NewTable(4, []routes.RouteDescriptor{{Method: "GET", Path: "/a"}}))

	h := NewCacheStatsHandler(m, logger)
	req := httptest.NewRequest("GET", "/api/cache/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if stats.Tools != 1 || stats.Generation != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWriteError_Shape(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "boom")

	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if out["status"] != "error" || out["error"] != "boom" {
		t.Errorf("unexpected error payload: %v", out)
	}
}
