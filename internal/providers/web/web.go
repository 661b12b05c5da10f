// Package web watches public pages: each item a CSS selector picks out is an
// element of a set cursor, so new items raise new_item events.
package web

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/poller"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/template"
)

const (
	Provider = "web"

	KindNewItem = "new_item"

	userAgent = "areamgr/1.0 (+https://github.com/colebrumley/areamgr)"
)

var actions = []registry.ActionDescriptor{
	{
		Kind:        KindNewItem,
		Description: "A new element matching selector appeared on the page at url",
		Fields: []registry.FilterField{
			{Name: "url", Path: "page.url", Mode: registry.MatchEquals},
			{Name: "selector", Path: "page.selector", Mode: registry.MatchEquals},
			{Name: "keyword", Path: "item.text", Mode: registry.MatchContains},
		},
	},
}

// Adapter describes the web provider. Pages are public, so there is nothing
// to authenticate and nothing to react with.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Name() string { return Provider }

func (*Adapter) DescribeActions() []registry.ActionDescriptor { return actions }

func (*Adapter) DescribeReactions() []registry.ReactionDescriptor { return nil }

func (*Adapter) Authenticate(context.Context, string, registry.Credentials) error { return nil }

func (*Adapter) IsAuthenticated(string) bool { return true }

func (*Adapter) ValidateReaction(kind string, _ map[string]any) error {
	return engine.ConfigErrorf("web has no reaction %q", kind)
}

func (*Adapter) ExecuteReaction(_ context.Context, kind, _ string, _, _ map[string]any) error {
	return engine.ConfigErrorf("web has no reaction %q", kind)
}

// Source fetches every distinct (url, selector) pair the owner's rules watch.
type Source struct {
	client *rest.Client
	logger *slog.Logger
}

func NewSource(logger *slog.Logger, opts ...rest.Option) *Source {
	logger = logger.With("provider", Provider)
	opts = append([]rest.Option{
		rest.WithHeader("User-Agent", userAgent),
		rest.WithHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"),
		rest.WithLogger(logger),
	}, opts...)
	return &Source{client: rest.New("", opts...), logger: logger}
}

func (s *Source) Provider() string { return Provider }

type target struct {
	url      string
	selector string
}

func (t target) String() string { return t.url + " " + t.selector }

func (s *Source) Poll(ctx context.Context, ownerID string, rules []*rule.Rule) ([]poller.Observation, error) {
	seen := make(map[target]bool)
	var targets []target
	for _, r := range rules {
		t, err := targetOf(r)
		if err != nil {
			s.logger.Warn("Skipping web rule", "rule", r.DisplayName(), "owner", ownerID, "error", err)
			continue
		}
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].String() < targets[j].String() })

	out := make([]poller.Observation, 0, len(targets))
	for _, t := range targets {
		items, err := s.fetch(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, poller.Set(KindNewItem, t.String(), items))
	}
	return out, nil
}

func targetOf(r *rule.Rule) (target, error) {
	raw := strings.TrimSpace(template.Format(r.Action.Filter["url"]))
	selector := strings.TrimSpace(template.Format(r.Action.Filter["selector"]))
	if r.Action.Filter["url"] == nil || raw == "" {
		return target{}, fmt.Errorf("url is required")
	}
	if r.Action.Filter["selector"] == nil || selector == "" {
		return target{}, fmt.Errorf("selector is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return target{}, fmt.Errorf("url %q is not an http(s) URL", raw)
	}
	return target{url: raw, selector: selector}, nil
}

// fetch returns the page's matching elements in document order, which is
// taken as newest first.
func (s *Source) fetch(ctx context.Context, t target) ([]poller.Item, error) {
	resp, err := s.client.Raw(ctx, http.MethodGet, t.url, nil, "")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, engine.ExecutionErrorf("parsing %s: %w", t.url, err)
	}
	base, _ := url.Parse(t.url)
	title := strings.TrimSpace(doc.Find("title").First().Text())
	page := map[string]any{"url": t.url, "selector": t.selector, "title": title}

	var items []poller.Item
	ids := make(map[string]bool)
	doc.Find(t.selector).Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		link := linkOf(sel, base)
		id := link
		if id == "" {
			id = text
		}
		if id == "" || ids[id] {
			return
		}
		ids[id] = true
		items = append(items, poller.Item{
			ID: id,
			Payload: map[string]any{
				"page": page,
				"item": map[string]any{"id": id, "text": text, "link": link},
			},
		})
	})
	return items, nil
}

// linkOf returns the absolute href of sel or of its first descendant link.
func linkOf(sel *goquery.Selection, base *url.URL) string {
	href, ok := sel.Attr("href")
	if !ok {
		href, ok = sel.Find("a[href]").First().Attr("href")
	}
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}
