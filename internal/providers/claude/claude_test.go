package claude

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/engine"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBuildArgs(t *testing.T) {
	cfg := config.ClaudeConfig{
		Model:           "sonnet",
		AllowedTools:    []string{"Bash", "Read"},
		DisallowedTools: []string{"WebFetch"},
		PermissionMode:  "default",
		MaxBudgetUSD:    0.50,
		SystemPrompt:    "You are helpful",
	}

	args := BuildArgs(cfg, "Do something", "")

	assertContains(t, args, "--print")
	assertContains(t, args, "--model")
	assertContains(t, args, "sonnet")
	assertContains(t, args, "--allowedTools")
	assertContains(t, args, "Bash,Read")
	assertContains(t, args, "--disallowedTools")
	assertContains(t, args, "WebFetch")
	assertContains(t, args, "--permission-mode")
	assertContains(t, args, "default")
	assertContains(t, args, "--max-budget-usd")
	assertContains(t, args, "0.50")
	assertContains(t, args, "--system-prompt")
	assertContains(t, args, "You are helpful")

	if args[len(args)-1] != "Do something" {
		t.Errorf("expected prompt as last arg, got %s", args[len(args)-1])
	}
}

func TestBuildArgs_ModelOverride(t *testing.T) {
	args := BuildArgs(config.ClaudeConfig{Model: "sonnet"}, "test", "opus")
	assertContains(t, args, "opus")
	for _, a := range args {
		if a == "sonnet" {
			t.Errorf("configured model should be overridden: %v", args)
		}
	}
}

func assertContains(t *testing.T, slice []string, val string) {
	t.Helper()
	for _, v := range slice {
		if v == val {
			return
		}
	}
	t.Errorf("expected %v to contain %q", slice, val)
}

// fakeBinary writes a shell script standing in for the CLI.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPrompt(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	bin := fakeBinary(t, `echo "$GREETING $@" > "$ARGS_FILE"`)
	a := New(config.ClaudeConfig{
		Binary:  bin,
		Model:   "sonnet",
		EnvVars: map[string]string{"ARGS_FILE": out, "GREETING": "hi"},
	}, discard)

	err := a.ExecuteReaction(context.Background(), "run_prompt", "alice", map[string]any{"prompt": "summarize inbox"}, nil)
	if err != nil {
		t.Fatalf("ExecuteReaction: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := "hi --print --model sonnet summarize inbox\n"; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRunPrompt_Failures(t *testing.T) {
	tests := []struct {
		name     string
		binary   string
		prompt   any
		wantKind engine.Kind
	}{
		{"missing binary", "/nonexistent/claude", "x", engine.KindConfig},
		{"empty prompt", "true", "  ", engine.KindConfig},
		{"non-zero exit", "false", "x", engine.KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(config.ClaudeConfig{Binary: tt.binary}, discard)
			err := a.ExecuteReaction(context.Background(), "run_prompt", "alice", map[string]any{"prompt": tt.prompt}, nil)
			if got := engine.KindOf(err); got != tt.wantKind {
				t.Errorf("expected %s, got %s (%v)", tt.wantKind, got, err)
			}
		})
	}
}

func TestRunPrompt_ScrubsOutput(t *testing.T) {
	bin := fakeBinary(t, `echo "auth failed: Bearer abcdefghijklmnopqrstuvwxyz0123"; exit 2`)
	a := New(config.ClaudeConfig{Binary: bin}, discard)

	err := a.ExecuteReaction(context.Background(), "run_prompt", "alice", map[string]any{"prompt": "x"}, nil)
	if !engine.IsKind(err, engine.KindExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if strings.Contains(err.Error(), "abcdefghijklmnopqrstuvwxyz0123") {
		t.Errorf("token leaked into error: %v", err)
	}
}

func TestRunPrompt_Timeout(t *testing.T) {
	bin := fakeBinary(t, `exec sleep 5`)
	a := New(config.ClaudeConfig{Binary: bin}, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := a.ExecuteReaction(ctx, "run_prompt", "alice", map[string]any{"prompt": "x"}, nil)
	if !engine.IsKind(err, engine.KindExecution) || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}
