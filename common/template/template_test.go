package template

import (
	"testing"
)

func testScope() Scope {
	return Scope{
		Data: map[string]interface{}{
			"content": "pong",
			"meta":    map[string]interface{}{"model": "gpt-4o-mini"},
			"docs": []interface{}{
				map[string]interface{}{"text": "first"},
				map[string]interface{}{"text": "second"},
			},
		},
		Input: map[string]interface{}{
			"query":   "ping",
			"content": "shadowed",
		},
		Context: map[string]interface{}{"region": "eu"},
	}
}

func TestRender_NoPlaceholdersUnchanged(t *testing.T) {
	out := Render("plain text, no substitution", testScope())
	if out != "plain text, no substitution" {
		t.Errorf("unexpected rendering: %q", out)
	}
}

func TestRender_SimplePath(t *testing.T) {
	out := Render("answer: {{content}}", testScope())
	if out != "answer: pong" {
		t.Errorf("expected 'answer: pong', got %q", out)
	}
}

func TestRender_ExplicitRootPinsNamespace(t *testing.T) {
	// bare paths search data first; explicit roots override
	if out := Render("{{input.content}}", testScope()); out != "shadowed" {
		t.Errorf("expected input namespace value, got %q", out)
	}
	if out := Render("{{context.region}}", testScope()); out != "eu" {
		t.Errorf("expected context value, got %q", out)
	}
}

func TestRender_SearchOrderDataInputContext(t *testing.T) {
	if out := Render("{{content}}", testScope()); out != "pong" {
		t.Errorf("data should win the search order, got %q", out)
	}
	if out := Render("{{query}}", testScope()); out != "ping" {
		t.Errorf("input should be searched after data, got %q", out)
	}
	if out := Render("{{region}}", testScope()); out != "eu" {
		t.Errorf("context should be searched last, got %q", out)
	}
}

func TestRender_IndexedPath(t *testing.T) {
	out := Render("{{docs[1].text}}", testScope())
	if out != "second" {
		t.Errorf("expected 'second', got %q", out)
	}
}

func TestRender_MissingPathRendersEmpty(t *testing.T) {
	out := Render("[{{nope.nothing}}]", testScope())
	if out != "[]" {
		t.Errorf("missing path must render empty, got %q", out)
	}
}

func TestRender_NonStringSerialized(t *testing.T) {
	out := Render("{{meta}}", testScope())
	if out != `{"model":"gpt-4o-mini"}` {
		t.Errorf("expected JSON-serialized object, got %q", out)
	}
}

func TestRender_MultiplePlaceholders(t *testing.T) {
	out := Render("{{query}} -> {{content}} ({{context.region}})", testScope())
	if out != "ping -> pong (eu)" {
		t.Errorf("unexpected multi-placeholder render: %q", out)
	}
}

func TestLookup_WholeNamespace(t *testing.T) {
	value, found := Lookup("data", testScope())
	if !found {
		t.Fatal("expected data namespace lookup to succeed")
	}
	ns, ok := value.(map[string]interface{})
	if !ok || ns["content"] != "pong" {
		t.Errorf("unexpected namespace value: %v", value)
	}
}

func TestLookup_Missing(t *testing.T) {
	if _, found := Lookup("data.absent", testScope()); found {
		t.Error("expected lookup miss for absent key")
	}
	if _, found := Lookup("absent", Scope{}); found {
		t.Error("expected lookup miss on empty scope")
	}
}
