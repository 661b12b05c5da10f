// internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/colebrumley/areamgr/internal/rule"
)

// ruleNamespace seeds the stable ids of rules declared without one.
var ruleNamespace = uuid.MustParse("7b0f3c2e-5a1d-4d8e-9a57-3f6c1e2b8d40")

// LoadGlobal loads the global configuration from a YAML file
func LoadGlobal(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Global
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyGlobalDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file exists yet.
func Default() *Global {
	var cfg Global
	applyGlobalDefaults(&cfg)
	return &cfg
}

// LoadRule loads a rule seed from a YAML file. A rule without an id gets one
// derived from its file name so reloading the same file updates the same rule.
func LoadRule(path string) (*rule.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var r rule.Rule
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if r.ID == "" {
		r.ID = FileRuleID(base)
	}
	if r.Name == "" {
		r.Name = base
	}
	return &r, nil
}

// FileRuleID is the id given to a rule file named base (without extension).
func FileRuleID(base string) string {
	return uuid.NewSHA1(ruleNamespace, []byte(base)).String()
}

// LoadRulesDir loads all rules from a directory
func LoadRulesDir(dir string) ([]*rule.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}

	var rules []*rule.Rule
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !IsRuleFile(entry.Name()) {
			continue
		}

		r, err := LoadRule(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading rule %s: %w", entry.Name(), err)
		}
		if prev, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("rule %s: id %q already used by %s", entry.Name(), r.ID, prev)
		}
		seen[r.ID] = entry.Name()
		rules = append(rules, r)
	}

	return rules, nil
}

// IsRuleFile reports whether name looks like a rule seed file.
func IsRuleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

func applyGlobalDefaults(cfg *Global) {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.ListenPort == 0 {
		cfg.Daemon.ListenPort = 9876
	}
	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1"
	}
	if cfg.Daemon.DataDir == "" {
		cfg.Daemon.DataDir = defaultDataDir()
	}
	cfg.Daemon.DataDir = expandHome(cfg.Daemon.DataDir)
	if cfg.Daemon.LogDir == "" {
		cfg.Daemon.LogDir = filepath.Join(cfg.Daemon.DataDir, "logs")
	}
	cfg.Daemon.LogDir = expandHome(cfg.Daemon.LogDir)
	if cfg.Daemon.EventHeader == "" {
		cfg.Daemon.EventHeader = "X-Areamgr-Secret"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Dispatch.MaxConcurrent <= 0 {
		cfg.Dispatch.MaxConcurrent = 10
	}
	if cfg.Dispatch.TimeoutSeconds <= 0 {
		cfg.Dispatch.TimeoutSeconds = 30
	}
	if cfg.Scheduler.DefaultTimezone == "" {
		cfg.Scheduler.DefaultTimezone = "UTC"
	}
	for _, p := range []*PollerConfig{&cfg.Pollers.Gmail, &cfg.Pollers.Spotify, &cfg.Pollers.Web} {
		if p.IntervalSeconds <= 0 {
			p.IntervalSeconds = 90
		}
		if p.MaxTracked <= 0 {
			p.MaxTracked = 500
		}
		if p.OwnerTimeoutSeconds <= 0 {
			p.OwnerTimeoutSeconds = 45
		}
	}
	if cfg.Providers.Claude.Binary == "" {
		cfg.Providers.Claude.Binary = "claude"
	}
	if cfg.Providers.Claude.Model == "" {
		cfg.Providers.Claude.Model = "sonnet"
	}
	if cfg.Providers.Claude.PermissionMode == "" {
		cfg.Providers.Claude.PermissionMode = "default"
	}
	if cfg.History.RetentionDays <= 0 {
		cfg.History.RetentionDays = 90
	}
}

// DefaultConfigPath is where the daemon and CLI look for config.yaml when
// AREAMGR_CONFIG is unset.
func DefaultConfigPath() string {
	if path := os.Getenv("AREAMGR_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(configHome(), "config.yaml")
}

// DefaultRulesDir is the rule seed directory used when AREAMGR_RULES_DIR is
// unset.
func DefaultRulesDir() string {
	if dir := os.Getenv("AREAMGR_RULES_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(configHome(), "rules")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "areamgr")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "areamgr")
	}
	return filepath.Join(os.TempDir(), "areamgr")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "areamgr")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "areamgr")
	}
	return filepath.Join(os.TempDir(), "areamgr")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
