package mcp

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// placeholderPattern matches {name} template placeholders.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Resource is one readable entry, keyed by URI. A URI containing {name}
// placeholders is a template resolved at read time.
type Resource struct {
	URI           string   `json:"uri"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	MIMEType      string   `json:"mimeType,omitempty"`
	Content       string   `json:"-"`
	Parameters    []string `json:"parameters,omitempty"`
	HasParameters bool     `json:"hasParameters"`
}

// NewResource builds a resource, deriving Parameters from placeholders in
// the URI.
func NewResource(uri, name, description, mimeType, content string) Resource {
	params := extractPlaceholders(uri)
	return Resource{
		URI:           uri,
		Name:          name,
		Description:   description,
		MIMEType:      mimeType,
		Content:       content,
		Parameters:    params,
		HasParameters: len(params) > 0,
	}
}

// Prompt is one named prompt with optional {name} placeholders in its content.
type Prompt struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Content       string   `json:"-"`
	Parameters    []string `json:"parameters,omitempty"`
	HasParameters bool     `json:"hasParameters"`
}

// NewPrompt builds a prompt, deriving Parameters from placeholders in the
// content.
func NewPrompt(name, description, content string) Prompt {
	params := extractPlaceholders(content)
	return Prompt{
		Name:          name,
		Description:   description,
		Content:       content,
		Parameters:    params,
		HasParameters: len(params) > 0,
	}
}

// extractPlaceholders returns the ordered distinct placeholder names in s.
func extractPlaceholders(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// ResourceRegistry is the in-memory registry of static resources, keyed by
// URI. Registration order is preserved for deterministic listings.
type ResourceRegistry struct {
	mu    sync.RWMutex
	order []string
	items map[string]Resource
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{items: make(map[string]Resource)}
}

// Register adds a resource. Re-registering a URI replaces the entry but
// keeps its original position.
func (r *ResourceRegistry) Register(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[res.URI]; !exists {
		r.order = append(r.order, res.URI)
	}
	r.items[res.URI] = res
}

// List returns the non-template resources in registration order.
func (r *ResourceRegistry) List() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.order))
	for _, uri := range r.order {
		if res := r.items[uri]; !res.HasParameters {
			out = append(out, res)
		}
	}
	return out
}

// Templates returns the template resources in registration order.
func (r *ResourceRegistry) Templates() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Resource
	for _, uri := range r.order {
		if res := r.items[uri]; res.HasParameters {
			out = append(out, res)
		}
	}
	return out
}

// Read resolves a URI to content. Exact matches are returned as-is;
// otherwise the URI is matched against each template and placeholder values
// extracted from the URI are substituted into the template content.
func (r *ResourceRegistry) Read(uri string) (Resource, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.items[uri]; ok && !res.HasParameters {
		return res, res.Content, nil
	}

	for _, key := range r.order {
		res := r.items[key]
		if !res.HasParameters {
			continue
		}
		values, ok := matchTemplate(res.URI, uri)
		if !ok {
			continue
		}
		content := res.Content
		for name, val := range values {
			content = strings.ReplaceAll(content, "{"+name+"}", val)
		}
		return res, content, nil
	}

	return Resource{}, "", fmt.Errorf("unknown resource uri %q", uri)
}

// matchTemplate matches a concrete URI against a templated one, returning
// the placeholder values on success.
func matchTemplate(template, uri string) (map[string]string, bool) {
	names := placeholderPattern.FindAllStringSubmatch(template, -1)
	if len(names) == 0 {
		return nil, false
	}

	pattern := "^"
	rest := template
	for {
		loc := placeholderPattern.FindStringIndex(rest)
		if loc == nil {
			pattern += regexp.QuoteMeta(rest)
			break
		}
		pattern += regexp.QuoteMeta(rest[:loc[0]]) + "([^/]+)"
		rest = rest[loc[1]:]
	}
	pattern += "$"

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}

	values := make(map[string]string, len(names))
	for i, n := range names {
		values[n[1]] = m[i+1]
	}
	return values, true
}

// PromptRegistry is the in-memory registry of prompts, keyed by name.
type PromptRegistry struct {
	mu    sync.RWMutex
	order []string
	items map[string]Prompt
}

// NewPromptRegistry creates an empty registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{items: make(map[string]Prompt)}
}

// Register adds a prompt. Re-registering a name replaces the entry but keeps
// its original position.
func (r *PromptRegistry) Register(p Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.items[p.Name] = p
}

// List returns all prompts in registration order.
func (r *PromptRegistry) List() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Prompt, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}

// Render resolves a prompt by name, substituting the given arguments into
// its placeholders. Missing required placeholders are an error.
func (r *PromptRegistry) Render(name string, args map[string]string) (Prompt, string, error) {
	r.mu.RLock()
	p, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return Prompt{}, "", fmt.Errorf("unknown prompt %q", name)
	}

	content := p.Content
	for _, param := range p.Parameters {
		val, ok := args[param]
		if !ok {
			return Prompt{}, "", fmt.Errorf("prompt %q requires argument %q", name, param)
		}
		content = strings.ReplaceAll(content, "{"+param+"}", val)
	}
	return p, content, nil
}
