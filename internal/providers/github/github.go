// Package github creates issues and comments through the GitHub REST API and
// describes the repository events an outer layer pushes in normalized form.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/template"
)

const (
	Provider      = "github"
	DefaultAPIURL = "https://api.github.com"
)

var repository = registry.FilterField{Name: "repository", Path: "repository.full_name", Mode: registry.MatchEquals, FoldCase: true}

var actions = []registry.ActionDescriptor{
	{
		Kind:        "issue_opened",
		Description: "An issue was opened",
		Fields: []registry.FilterField{
			repository,
			{Name: "labels", Path: "issue.labels", Mode: registry.MatchAnyOf},
			{Name: "title", Path: "issue.title", Mode: registry.MatchContains},
			{Name: "author", Path: "sender.login", Mode: registry.MatchEquals, FoldCase: true},
		},
	},
	{
		Kind:        "pull_request_opened",
		Description: "A pull request was opened",
		Fields: []registry.FilterField{
			repository,
			{Name: "base", Path: "pull_request.base", Mode: registry.MatchEquals},
			{Name: "title", Path: "pull_request.title", Mode: registry.MatchContains},
			{Name: "author", Path: "sender.login", Mode: registry.MatchEquals, FoldCase: true},
		},
	},
	{
		Kind:        "push",
		Description: "Commits were pushed to a branch",
		Fields: []registry.FilterField{
			repository,
			{Name: "branch", Path: "push.branch", Mode: registry.MatchEquals},
			{Name: "author", Path: "sender.login", Mode: registry.MatchEquals, FoldCase: true},
		},
	},
}

var reactions = []registry.ReactionDescriptor{
	{Kind: "create_issue", Description: "Open an issue", Required: []string{"repository", "title"}},
	{Kind: "add_comment", Description: "Comment on an issue or pull request", Required: []string{"repository", "number", "body"}},
}

type Config struct {
	APIURL string
	Policy rest.Policy
}

// Adapter keeps one oauth2-backed REST client per owner.
type Adapter struct {
	cfg     Config
	logger  *slog.Logger
	clients registry.ClientCache[*rest.Client]
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Policy == (rest.Policy{}) {
		cfg.Policy = rest.DefaultPolicy
	}
	return &Adapter{cfg: cfg, logger: logger.With("provider", Provider)}
}

func (a *Adapter) Name() string { return Provider }

func (a *Adapter) DescribeActions() []registry.ActionDescriptor { return actions }

func (a *Adapter) DescribeReactions() []registry.ReactionDescriptor { return reactions }

// Authenticate expects an "access_token" credential.
func (a *Adapter) Authenticate(ctx context.Context, ownerID string, creds registry.Credentials) error {
	token := creds["access_token"]
	if token == "" {
		return engine.AuthErrorf("github: no access token for owner %s", ownerID)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	a.clients.Put(ownerID, rest.New(a.cfg.APIURL,
		rest.WithHTTPClient(oauth2.NewClient(context.WithoutCancel(ctx), ts)),
		rest.WithHeader("Accept", "application/vnd.github+json"),
		rest.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
		rest.WithPolicy(a.cfg.Policy),
		rest.WithLogger(a.logger),
	))
	return nil
}

func (a *Adapter) IsAuthenticated(ownerID string) bool { return a.clients.Has(ownerID) }

func (a *Adapter) ValidateReaction(kind string, params map[string]any) error {
	return registry.RequireParams(reactions, kind, params)
}

func (a *Adapter) ExecuteReaction(ctx context.Context, kind, ownerID string, params, _ map[string]any) error {
	client, ok := a.clients.Get(ownerID)
	if !ok {
		return engine.AuthErrorf("github: owner %s not authenticated", ownerID)
	}
	repo, err := splitRepository(template.Format(params["repository"]))
	if err != nil {
		return err
	}

	var path string
	var body map[string]any
	switch kind {
	case "create_issue":
		path = fmt.Sprintf("/repos/%s/issues", repo)
		body = map[string]any{"title": template.Format(params["title"])}
		if b := template.Format(params["body"]); b != "" {
			body["body"] = b
		}
		if labels := labelList(params["labels"]); len(labels) > 0 {
			body["labels"] = labels
		}
	case "add_comment":
		n, err := strconv.Atoi(strings.TrimPrefix(template.Format(params["number"]), "#"))
		if err != nil || n <= 0 {
			return engine.ConfigErrorf("github: invalid issue number %q", template.Format(params["number"]))
		}
		path = fmt.Sprintf("/repos/%s/issues/%d/comments", repo, n)
		body = map[string]any{"body": template.Format(params["body"])}
	default:
		return engine.ConfigErrorf("github: unknown reaction %q", kind)
	}

	var created struct {
		HTMLURL string `json:"html_url"`
	}
	if err := client.JSON(ctx, http.MethodPost, path, body, &created); err != nil {
		if engine.IsKind(err, engine.KindAuth) {
			a.clients.Forget(ownerID)
		}
		return err
	}
	a.logger.Debug("GitHub reaction completed", "kind", kind, "repository", repo, "url", created.HTMLURL)
	return nil
}

func splitRepository(s string) (string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", engine.ConfigErrorf("github: repository %q is not owner/name", s)
	}
	return owner + "/" + name, nil
}

func labelList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		raw = t
	case []any:
		for _, e := range t {
			raw = append(raw, template.Format(e))
		}
	default:
		raw = strings.Split(template.Format(t), ",")
	}
	var out []string
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
