package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/routes"
)

// TableSource supplies the current route table snapshot. Implemented by
// mcp.Server.
type TableSource interface {
	Table() *routes.Table
}

// RouteDispatcher serves the dynamic route table over plain REST: each
// loaded route descriptor is reachable at its declared method and path,
// alongside its MCP tool form.
type RouteDispatcher struct {
	tables TableSource
	logger *common.Logger
}

// NewRouteDispatcher creates a new route dispatcher.
func NewRouteDispatcher(tables TableSource, logger *common.Logger) *RouteDispatcher {
	return &RouteDispatcher{tables: tables, logger: logger}
}

// ServeHTTP matches the request against the current table and invokes the
// route handler. A path that matches under a different method yields 405.
func (d *RouteDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := d.tables.Table()

	pathMatched := false
	for _, route := range table.Routes {
		params, ok := matchPath(route.Path, r.URL.Path)
		if !ok {
			continue
		}
		pathMatched = true
		if route.Method != r.Method {
			continue
		}
		d.invoke(w, r, route, params)
		return
	}

	if pathMatched {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed for this route")
		return
	}
	WriteError(w, http.StatusNotFound, "no route matches "+r.URL.Path)
}

// invoke builds the handler input from the request and writes the result.
func (d *RouteDispatcher) invoke(w http.ResponseWriter, r *http.Request, route routes.RouteDescriptor, params map[string]any) {
	if route.Handler == nil {
		WriteError(w, http.StatusInternalServerError, "route has no handler")
		return
	}

	input := routes.CallInput{Params: params}

	if rawQuery := r.URL.Query(); len(rawQuery) > 0 {
		query := make(map[string]any, len(rawQuery))
		for key, values := range rawQuery {
			if len(values) > 0 {
				query[key] = values[0]
			}
		}
		input.Query = query
	}

	if r.Body != nil && r.ContentLength != 0 {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		input.Body = body
	}

	payload, err := route.Handler(r.Context(), input)
	if err != nil {
		d.logger.Warn().
			Str("route", route.Key()).
			Str("error", err.Error()).
			Msg("route handler failed")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	// Handlers that already produce JSON text pass through untouched.
	if text, ok := payload.(string); ok && json.Valid([]byte(text)) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(text))
		return
	}
	WriteJSON(w, http.StatusOK, payload)
}

// matchPath compares a declared route path against a request path, treating
// {name} segments as captures.
func matchPath(pattern, path string) (map[string]any, bool) {
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternSegs) != len(pathSegs) {
		return nil, false
	}

	var params map[string]any
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
			if params == nil {
				params = make(map[string]any)
			}
			params[seg[1:len(seg)-1]] = pathSegs[i]
			continue
		}
		if seg != pathSegs[i] {
			return nil, false
		}
	}
	return params, true
}
