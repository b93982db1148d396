package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/routegate/routegate/internal/routes"
)

// Tool descriptor sources. Bridge-sourced descriptors use BridgeSource.
const (
	SourceStatic = "static"
	SourceCached = "cached"
)

// BridgeSource returns the source tag for a bridge-provided tool.
func BridgeSource(bridgeID string) string {
	return "bridge:" + bridgeID
}

// ToolDescriptor is the MCP-visible representation of one callable
// operation. Derived, never hand-edited; its lifetime is tied to the route
// table generation (or bridge listing) that produced it.
type ToolDescriptor struct {
	Tool         mcp.Tool
	OutputSchema json.RawMessage
	Source       string
}

// Name returns the derived tool name.
func (d ToolDescriptor) Name() string {
	return d.Tool.Name
}

// MarshalJSON flattens the descriptor into the wire shape shared by the REST
// and MCP surfaces. Map marshaling sorts keys, so output is deterministic.
func (d ToolDescriptor) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"name":        d.Tool.Name,
		"description": d.Tool.Description,
		"inputSchema": d.Tool.InputSchema,
	}
	if len(d.OutputSchema) > 0 {
		m["outputSchema"] = d.OutputSchema
	}
	if d.Source != "" {
		m["source"] = d.Source
	}
	return json.Marshal(m)
}

// ToolName derives a tool name from an HTTP method and path: separators and
// parameter braces become underscores, runs collapse, result is lower-case.
// "GET /users/{id}" becomes "get_users_id".
func ToolName(method, path string) string {
	raw := strings.ToLower(method + "/" + strings.Trim(path, "/"))

	var b strings.Builder
	lastSep := false
	for _, r := range raw {
		switch r {
		case '/', '{', '}', '-', '.', ' ':
			if !lastSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastSep = true
		default:
			b.WriteRune(r)
			lastSep = false
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// AdaptRoute converts one route descriptor into a tool descriptor. Pure and
// idempotent: the same route always yields the same descriptor.
func AdaptRoute(r routes.RouteDescriptor, source string) ToolDescriptor {
	return ToolDescriptor{
		Tool: mcp.Tool{
			Name:        ToolName(r.Method, r.Path),
			Description: routeDescription(r),
			InputSchema: inputSchema(r.Params),
		},
		OutputSchema: r.OutputSchema,
		Source:       source,
	}
}

// AdaptTable converts a route list into tool descriptors, suffixing name
// collisions deterministically by table order (_2, _3, ...).
func AdaptTable(rts []routes.RouteDescriptor, source string) []ToolDescriptor {
	taken := make(map[string]bool, len(rts))
	out := make([]ToolDescriptor, 0, len(rts))
	for _, r := range rts {
		d := AdaptRoute(r, source)
		name := d.Tool.Name
		for i := 2; taken[name]; i++ {
			name = fmt.Sprintf("%s_%d", d.Tool.Name, i)
		}
		taken[name] = true
		d.Tool.Name = name
		out = append(out, d)
	}
	return out
}

// routeDescription falls back to "METHOD path" when no description is set.
func routeDescription(r routes.RouteDescriptor) string {
	if r.Description != "" {
		return r.Description
	}
	return r.Method + " " + r.Path
}

// inputSchema builds the tool input schema: path, query, and body parameters
// each nested under a fixed top-level key.
func inputSchema(params []routes.ParamSpec) mcp.ToolInputSchema {
	groups := map[string]map[string]any{}
	required := map[string][]string{}

	for _, p := range params {
		group := p.In
		if groups[group] == nil {
			groups[group] = map[string]any{}
		}
		groups[group][p.Name] = paramSchema(p)
		if p.Required {
			required[group] = append(required[group], p.Name)
		}
	}

	properties := map[string]any{}
	for group, key := range map[string]string{"path": "params", "query": "query", "body": "body"} {
		props, ok := groups[group]
		if !ok {
			continue
		}
		obj := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(required[group]) > 0 {
			obj["required"] = sortedCopy(required[group])
		}
		properties[key] = obj
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
	}
}

// paramSchema maps one parameter spec to its JSON schema fragment.
func paramSchema(p routes.ParamSpec) map[string]any {
	schema := map[string]any{}
	switch p.Type {
	case "number":
		schema["type"] = "number"
	case "boolean":
		schema["type"] = "boolean"
	case "array":
		schema["type"] = "array"
		schema["items"] = map[string]any{"type": "string"}
	case "object":
		schema["type"] = "object"
	default:
		schema["type"] = "string"
	}
	if p.Description != "" {
		schema["description"] = p.Description
	}
	return schema
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}
