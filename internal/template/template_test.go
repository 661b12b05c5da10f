package template

import (
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	payload := map[string]any{
		"issue": map[string]any{
			"title":  "Crash on start",
			"number": 42,
			"labels": []any{"bug", "p1"},
			"user":   map[string]any{"login": "octocat"},
		},
		"timer": map[string]any{
			"ruleName":    "hourly ping",
			"triggeredAt": time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		"secrets": map[string]any{"token": "hunter2"},
		"track":   map[string]any{"popularity": 71.5},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple", "New issue: {{issue.title}}", "New issue: Crash on start"},
		{"nested", "by {{issue.user.login}}", "by octocat"},
		{"int", "#{{issue.number}}", "#42"},
		{"float", "{{track.popularity}}", "71.5"},
		{"list", "labels: {{issue.labels}}", "labels: bug, p1"},
		{"time", "at {{timer.triggeredAt}}", "at 2026-03-01T09:00:00Z"},
		{"spaces inside braces", "Tick {{ timer.ruleName }}", "Tick hourly ping"},
		{"multiple", "{{issue.title}} / {{issue.number}}", "Crash on start / 42"},
		{"unknown path", "x{{issue.missing}}y", "xy"},
		{"unknown namespace", "x{{secrets.token}}y", "xy"},
		{"malformed", "x{{issue..title}}y", "xy"},
		{"expression is not evaluated", "{{ 1+1 }}", ""},
		{"no placeholders", "Just plain text", "Just plain text"},
		{"single braces untouched", "{issue.title}", "{issue.title}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.template, payload); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRender_Idempotent(t *testing.T) {
	payload := map[string]any{"email": map[string]any{"subject": "Invoice"}}
	tmpl := "Subject: {{email.subject}}"
	first := Render(tmpl, payload)
	second := Render(tmpl, payload)
	if first != second {
		t.Errorf("Render not deterministic: %q vs %q", first, second)
	}
	if plain := "no placeholders here"; Render(plain, payload) != plain {
		t.Error("placeholder-free template was modified")
	}
}

func TestRender_SanitizesValues(t *testing.T) {
	payload := map[string]any{"message": map[string]any{"content": "hi\x00there\r\n"}}
	if got := Render("{{message.content}}", payload); got != "hithere\n" {
		t.Errorf("Render() = %q, want control characters stripped", got)
	}
}

func TestRender_NilPayload(t *testing.T) {
	if got := Render("a{{issue.title}}b", nil); got != "ab" {
		t.Errorf("Render(nil payload) = %q, want ab", got)
	}
}

func TestRenderParameters(t *testing.T) {
	payload := map[string]any{"issue": map[string]any{"title": "Bug", "number": 7}}
	params := map[string]any{
		"title":  "Mirror: {{issue.title}}",
		"labels": []any{"mirror", "{{issue.number}}"},
		"nested": map[string]any{"body": "see #{{issue.number}}"},
		"count":  3,
		"draft":  true,
	}

	got := RenderParameters(params, payload)

	if got["title"] != "Mirror: Bug" {
		t.Errorf("title = %v", got["title"])
	}
	if labels := got["labels"].([]any); labels[1] != "7" {
		t.Errorf("labels = %v", labels)
	}
	if body := got["nested"].(map[string]any)["body"]; body != "see #7" {
		t.Errorf("nested body = %v", body)
	}
	if got["count"] != 3 || got["draft"] != true {
		t.Errorf("non-string values changed: count=%v draft=%v", got["count"], got["draft"])
	}
	if params["title"] != "Mirror: {{issue.title}}" {
		t.Error("RenderParameters mutated its input")
	}
}

func TestLookup(t *testing.T) {
	payload := map[string]any{
		"email":   map[string]any{"headers": map[string]string{"From": "a@b.c"}},
		"nothing": nil,
	}
	if v, ok := Lookup(payload, "email.headers.From"); !ok || v != "a@b.c" {
		t.Errorf("Lookup through map[string]string = %v, %v", v, ok)
	}
	if _, ok := Lookup(payload, "nothing"); ok {
		t.Error("nil value should not resolve")
	}
	if _, ok := Lookup(payload, "email.headers.From.deeper"); ok {
		t.Error("path through a scalar should not resolve")
	}
}
