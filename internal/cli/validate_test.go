package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validRule = `owner: alice
action:
  provider: timer
  kind: every_day
  filter:
    time: "09:00"
reaction:
  provider: webhook
  kind: post
  parameters:
    url: https://hooks.example.com/standup
`

const invalidRule = `owner: alice
action:
  provider: timer
  kind: every_day
  filter:
    time: "25:99"
reaction:
  provider: webhook
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "standup.yaml", validRule)
	bad := writeFile(t, dir, "broken.yml", invalidRule)
	writeFile(t, dir, "README.md", "not a rule")
	other := t.TempDir()
	writable := writeFile(t, other, "open.yaml", validRule)
	if err := os.Chmod(writable, 0o666); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    []string
	}{
		{
			name: "single valid file",
			args: []string{"validate", good},
			want: []string{"ok", "standup", "Validated 1 rules, 0 invalid"},
		},
		{
			name:    "invalid file",
			args:    []string{"validate", bad},
			wantErr: true,
			want:    []string{"invalid", "recurrence", "reaction kind is required"},
		},
		{
			name:    "whole rules dir",
			args:    []string{"validate", "--rules-dir", dir},
			wantErr: true,
			want:    []string{"Validated 2 rules, 1 invalid"},
		},
		{
			name:    "world-writable file",
			args:    []string{"validate", writable},
			wantErr: true,
			want:    []string{"world-writable"},
		},
		{
			name:    "missing file",
			args:    []string{"validate", filepath.Join(dir, "nope.yaml")},
			wantErr: true,
			want:    []string{"reading rule file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestValidate_JSON(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "standup.yaml", validRule)

	out, err := execute(t, "--format", "json", "validate", good)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	var results []fileResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(results) != 1 || !results[0].Valid || results[0].Name != "standup" {
		t.Errorf("unexpected results %+v", results)
	}
}
