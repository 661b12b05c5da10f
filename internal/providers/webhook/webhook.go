// Package webhook delivers HTTP POST reactions to arbitrary endpoints,
// optionally restricted to an allow-list of hosts.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/template"
)

const Provider = "webhook"

var reactions = []registry.ReactionDescriptor{
	{
		Kind:        "post",
		Description: "POST body (or the event payload as JSON when body is omitted) to url",
		Required:    []string{"url"},
	},
}

type Config struct {
	// AllowedHosts restricts targets to these hosts and their subdomains.
	// Empty allows any host.
	AllowedHosts []string
	Policy       rest.Policy
}

// Adapter needs no per-owner state: one client serves every owner.
type Adapter struct {
	allowed []string
	client  *rest.Client
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger, opts ...rest.Option) *Adapter {
	if cfg.Policy == (rest.Policy{}) {
		cfg.Policy = rest.DefaultPolicy
	}
	logger = logger.With("provider", Provider)
	allowed := make([]string, 0, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed = append(allowed, h)
		}
	}
	opts = append([]rest.Option{
		rest.WithPolicy(cfg.Policy),
		rest.WithLogger(logger),
		rest.WithHeader("User-Agent", "areamgr-webhook/1.0"),
		rest.WithRetryIf(serverFailure),
	}, opts...)
	return &Adapter{allowed: allowed, client: rest.New("", opts...), logger: logger}
}

// serverFailure retries network errors and 5xx responses, never 4xx.
func serverFailure(err error) bool {
	var serr *rest.StatusError
	if errors.As(err, &serr) {
		return serr.Status >= 500
	}
	return true
}

func (a *Adapter) Name() string { return Provider }

func (a *Adapter) DescribeActions() []registry.ActionDescriptor { return nil }

func (a *Adapter) DescribeReactions() []registry.ReactionDescriptor { return reactions }

func (a *Adapter) Authenticate(context.Context, string, registry.Credentials) error { return nil }

func (a *Adapter) IsAuthenticated(string) bool { return true }

// ValidateReaction checks the target URL up front unless it is templated.
func (a *Adapter) ValidateReaction(kind string, params map[string]any) error {
	if err := registry.RequireParams(reactions, kind, params); err != nil {
		return err
	}
	raw := template.Format(params["url"])
	if strings.Contains(raw, "{{") {
		return nil
	}
	_, err := a.target(raw)
	return err
}

func (a *Adapter) ExecuteReaction(ctx context.Context, kind, ownerID string, params, payload map[string]any) error {
	if kind != "post" {
		return engine.ConfigErrorf("webhook: unknown reaction %q", kind)
	}
	target, err := a.target(template.Format(params["url"]))
	if err != nil {
		return err
	}

	contentType := template.Format(params["content_type"])
	if params["content_type"] == nil || contentType == "" {
		contentType = "application/json"
	}
	body, err := encodeBody(params["body"], payload)
	if err != nil {
		return err
	}

	resp, err := a.client.Raw(ctx, http.MethodPost, target.String(), body, contentType)
	if err != nil {
		return err
	}
	a.logger.Debug("Webhook delivered", "owner", ownerID, "host", target.Host, "status_code", resp.Status)
	return nil
}

func encodeBody(body any, payload map[string]any) ([]byte, error) {
	var v any = payload
	if body != nil {
		v = body
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, engine.ConfigErrorf("webhook: encoding body: %w", err)
	}
	return b, nil
}

func (a *Adapter) target(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, engine.ConfigErrorf("webhook: %q is not an http(s) URL", raw)
	}
	if !a.hostAllowed(u.Hostname()) {
		return nil, engine.ConfigErrorf("webhook: host %q is not in allowed_hosts", u.Hostname())
	}
	return u, nil
}

func (a *Adapter) hostAllowed(host string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range a.allowed {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
