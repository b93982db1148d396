package mcp

import (
	"testing"
)

func TestResourceRegistry_ExactAndTemplate(t *testing.T) {
	r := NewResourceRegistry()
	r.Register(NewResource("doc://readme", "readme", "", "text/plain", "static content"))
	r.Register(NewResource("doc://users/{id}/profile", "profile", "", "application/json", `{"user":"{id}"}`))

	_, content, err := r.Read("doc://readme")
	if err != nil {
		t.Fatalf("exact read failed: %v", err)
	}
	if content != "static content" {
		t.Errorf("expected static content, got %q", content)
	}

	_, content, err = r.Read("doc://users/7/profile")
	if err != nil {
		t.Fatalf("template read failed: %v", err)
	}
	if content != `{"user":"7"}` {
		t.Errorf("expected substituted content, got %q", content)
	}

	if _, _, err := r.Read("doc://users/7"); err == nil {
		t.Error("expected an error for a uri matching no template")
	}
}

func TestResourceRegistry_ListSplitsTemplates(t *testing.T) {
	r := NewResourceRegistry()
	r.Register(NewResource("doc://plain", "plain", "", "", "x"))
	r.Register(NewResource("doc://tmpl/{id}", "tmpl", "", "", "{id}"))

	if got := len(r.List()); got != 1 {
		t.Errorf("expected 1 plain resource, got %d", got)
	}
	if got := len(r.Templates()); got != 1 {
		t.Errorf("expected 1 template resource, got %d", got)
	}
}

func TestResourceRegistry_ReRegisterKeepsPosition(t *testing.T) {
	r := NewResourceRegistry()
	r.Register(NewResource("doc://a", "a", "", "", "1"))
	r.Register(NewResource("doc://b", "b", "", "", "2"))
	r.Register(NewResource("doc://a", "a", "", "", "updated"))

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(list))
	}
	if list[0].URI != "doc://a" || list[0].Content != "updated" {
		t.Errorf("expected doc://a first with updated content, got %+v", list[0])
	}
}

func TestPromptRegistry_Render(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(NewPrompt("summary", "", "Summarize {topic} in {style} style"))

	p, content, err := r.Render("summary", map[string]string{"topic": "caching", "style": "terse"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if content != "Summarize caching in terse style" {
		t.Errorf("unexpected rendered content: %q", content)
	}
	if len(p.Parameters) != 2 {
		t.Errorf("expected 2 derived parameters, got %v", p.Parameters)
	}

	if _, _, err := r.Render("summary", map[string]string{"topic": "caching"}); err == nil {
		t.Error("expected an error for a missing argument")
	}
	if _, _, err := r.Render("nope", nil); err == nil {
		t.Error("expected an error for an unknown prompt")
	}
}
