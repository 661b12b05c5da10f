// Package claude runs prompts through the claude CLI in print mode.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/security"
	"github.com/colebrumley/areamgr/internal/template"
)

const (
	Provider = "claude"

	// maxOutput bounds how much CLI output is logged or carried in errors.
	maxOutput = 2000
)

var reactions = []registry.ReactionDescriptor{
	{
		Kind:        "run_prompt",
		Description: "Run prompt through claude --print, optionally overriding the model",
		Required:    []string{"prompt"},
	},
}

// Adapter shells out to the CLI. There are no per-owner credentials: the
// CLI uses whatever login the daemon user has.
type Adapter struct {
	cfg    config.ClaudeConfig
	logger *slog.Logger
}

func New(cfg config.ClaudeConfig, logger *slog.Logger) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &Adapter{cfg: cfg, logger: logger.With("provider", Provider)}
}

// BuildArgs constructs the command-line arguments for claude. A non-empty
// model overrides the configured one.
func BuildArgs(cfg config.ClaudeConfig, prompt, model string) []string {
	args := []string{"--print"}

	if model == "" {
		model = cfg.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if len(cfg.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(cfg.DisallowedTools, ","))
	}
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if cfg.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", fmt.Sprintf("%.2f", cfg.MaxBudgetUSD))
	}
	if cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", cfg.SystemPrompt)
	}

	args = append(args, prompt)
	return args
}

func (a *Adapter) Name() string { return Provider }

func (a *Adapter) DescribeActions() []registry.ActionDescriptor { return nil }

func (a *Adapter) DescribeReactions() []registry.ReactionDescriptor { return reactions }

func (a *Adapter) Authenticate(context.Context, string, registry.Credentials) error { return nil }

func (a *Adapter) IsAuthenticated(string) bool { return true }

func (a *Adapter) ValidateReaction(kind string, params map[string]any) error {
	return registry.RequireParams(reactions, kind, params)
}

func (a *Adapter) ExecuteReaction(ctx context.Context, kind, ownerID string, params, _ map[string]any) error {
	if kind != "run_prompt" {
		return engine.ConfigErrorf("claude: unknown reaction %q", kind)
	}
	prompt := strings.TrimSpace(template.Format(params["prompt"]))
	if prompt == "" {
		return engine.ConfigErrorf("claude: prompt is empty")
	}
	var model string
	if params["model"] != nil {
		model = template.Format(params["model"])
	}

	cmd := exec.CommandContext(ctx, a.cfg.Binary, BuildArgs(a.cfg, prompt, model)...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Env = a.environ()

	start := time.Now()
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)
	out := security.Truncate(security.ScrubOutput(string(output)), maxOutput)

	logger := a.logger.With("owner", ownerID, "duration_ms", duration.Milliseconds())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return engine.ConfigErrorf("claude: binary %q not found", a.cfg.Binary)
		}
		if ctx.Err() != nil {
			return engine.ExecutionErrorf("claude: execution timed out after %s", duration.Round(time.Millisecond))
		}
		logger.Warn("Claude run failed", "error", err, "output", out)
		return engine.ExecutionErrorf("claude: %w: %s", err, strings.TrimSpace(out))
	}
	logger.Info("Claude run complete", "output_bytes", len(output))
	logger.Debug("Claude output", "output", out)
	return nil
}

// environ returns the daemon environment plus configured overrides, sorted
// so runs are reproducible.
func (a *Adapter) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(a.cfg.EnvVars))
	for k := range a.cfg.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+a.cfg.EnvVars[k])
	}
	return env
}
