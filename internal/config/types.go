// internal/config/types.go
package config

import (
	"os"
	"time"
)

// Global configuration loaded from config.yaml
type Global struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pollers   PollersConfig   `yaml:"pollers"`
	Providers ProvidersConfig `yaml:"providers"`
	History   HistoryConfig   `yaml:"history"`
}

type DaemonConfig struct {
	LogLevel      string `yaml:"log_level"`
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	DataDir       string `yaml:"data_dir"`
	LogDir        string `yaml:"log_dir"`
	// RequestsPerMinute caps API requests; 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	// EventSecretEnv names the env var holding the shared secret that
	// POST /api/events must present. Empty accepts unauthenticated events.
	EventSecretEnv string `yaml:"event_secret_env"`
	EventHeader    string `yaml:"event_header"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
}

type DispatchConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout is the per-call reaction timeout.
func (d DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

type SchedulerConfig struct {
	DefaultTimezone string `yaml:"default_timezone"`
}

// Location resolves DefaultTimezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.DefaultTimezone)
}

type PollersConfig struct {
	Gmail   PollerConfig `yaml:"gmail"`
	Spotify PollerConfig `yaml:"spotify"`
	Web     PollerConfig `yaml:"web"`
}

type PollerConfig struct {
	Enabled             *bool `yaml:"enabled"` // nil = enabled
	IntervalSeconds     int   `yaml:"interval_seconds"`
	MaxTracked          int   `yaml:"max_tracked"`
	OwnerTimeoutSeconds int   `yaml:"owner_timeout_seconds"`
}

// IsEnabled reports whether the poller should run.
func (p PollerConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

func (p PollerConfig) OwnerTimeout() time.Duration {
	return time.Duration(p.OwnerTimeoutSeconds) * time.Second
}

type ProvidersConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	GitHub  GitHubConfig  `yaml:"github"`
	Gmail   GmailConfig   `yaml:"gmail"`
	Spotify SpotifyConfig `yaml:"spotify"`
	Webhook WebhookConfig `yaml:"webhook"`
	Claude  ClaudeConfig  `yaml:"claude"`
}

type DiscordConfig struct {
	APIURL      string `yaml:"api_url"`
	BotTokenEnv string `yaml:"bot_token_env"`
}

// BotToken reads the bot token from the configured env var.
func (d DiscordConfig) BotToken() string { return secretFromEnv(d.BotTokenEnv) }

type GitHubConfig struct {
	APIURL string `yaml:"api_url"`
}

type GmailConfig struct {
	// APIURL overrides the Gmail endpoint; empty uses Google's.
	APIURL          string `yaml:"api_url"`
	TokenURL        string `yaml:"token_url"`
	ClientID        string `yaml:"client_id"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	Query           string `yaml:"query"`
	MaxResults      int    `yaml:"max_results"`
}

type SpotifyConfig struct {
	APIURL          string `yaml:"api_url"`
	TokenURL        string `yaml:"token_url"`
	ClientID        string `yaml:"client_id"`
	ClientSecretEnv string `yaml:"client_secret_env"`
}

type WebhookConfig struct {
	// AllowedHosts restricts webhook targets; empty allows any host.
	AllowedHosts []string `yaml:"allowed_hosts"`
}

type ClaudeConfig struct {
	Binary          string            `yaml:"binary"`
	Model           string            `yaml:"model"`
	AllowedTools    []string          `yaml:"allowed_tools"`
	DisallowedTools []string          `yaml:"disallowed_tools"`
	PermissionMode  string            `yaml:"permission_mode"`
	MaxBudgetUSD    float64           `yaml:"max_budget_usd"`
	SystemPrompt    string            `yaml:"system_prompt"`
	WorkDir         string            `yaml:"work_dir"`
	EnvVars         map[string]string `yaml:"env_vars"`
}

type HistoryConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

func secretFromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// ClientSecret reads the OAuth client secret from the configured env var.
func (g GmailConfig) ClientSecret() string { return secretFromEnv(g.ClientSecretEnv) }

// ClientSecret reads the OAuth client secret from the configured env var.
func (s SpotifyConfig) ClientSecret() string { return secretFromEnv(s.ClientSecretEnv) }

// EventSecret reads the /api/events shared secret.
func (d DaemonConfig) EventSecret() string { return secretFromEnv(d.EventSecretEnv) }
