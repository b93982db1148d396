// Package routes defines the route table published by the gateway and the
// loader that rebuilds it from route definition files.
package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// allowedMethods is the whitelist of HTTP methods for route descriptors.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// ParamSpec describes one parameter of a route.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, array, object
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	In          string `json:"in"` // path, query, body
}

// CallInput carries the resolved arguments for one route invocation,
// grouped the same way the tool input schema nests them.
type CallInput struct {
	Params map[string]any `json:"params,omitempty"`
	Query  map[string]any `json:"query,omitempty"`
	Body   map[string]any `json:"body,omitempty"`
}

// HandlerFunc executes a route with the given input.
type HandlerFunc func(ctx context.Context, in CallInput) (any, error)

// RouteDescriptor is one published operation. Immutable once loaded;
// identified by (Method, Path).
type RouteDescriptor struct {
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Description  string          `json:"description,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Params       []ParamSpec     `json:"params,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Handler      HandlerFunc     `json:"-"`
}

// Key returns the route identity string.
func (r RouteDescriptor) Key() string {
	return r.Method + " " + r.Path
}

// Validate checks a descriptor for the constraints every published route
// must satisfy.
func (r RouteDescriptor) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("route %q has empty method", r.Path)
	}
	if !allowedMethods[strings.ToUpper(r.Method)] {
		return fmt.Errorf("route %q has unsupported method %q", r.Path, r.Method)
	}
	if r.Path == "" {
		return fmt.Errorf("route has empty path")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route %q has invalid path (must start with /)", r.Path)
	}
	if strings.Contains(r.Path, "..") {
		return fmt.Errorf("route %q has invalid path (contains ..)", r.Path)
	}
	for _, p := range r.Params {
		if p.Name == "" {
			return fmt.Errorf("route %q has a parameter with empty name", r.Path)
		}
		switch p.In {
		case "path", "query", "body":
		default:
			return fmt.Errorf("route %q parameter %q has invalid location %q", r.Path, p.Name, p.In)
		}
	}
	return nil
}

// Loader produces the current ordered list of route descriptors and accepts
// cache-invalidation hints for changed source files.
type Loader interface {
	Load(ctx context.Context) ([]RouteDescriptor, error)
	Invalidate(path string)
}
