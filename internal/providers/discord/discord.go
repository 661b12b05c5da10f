// Package discord posts chat messages through the Discord REST API and
// describes the message events an outer layer may push.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/template"
)

const (
	Provider = "discord"

	DefaultAPIURL = "https://discord.com/api/v10"

	// MaxContent is Discord's message length limit.
	MaxContent = 2000
)

var actions = []registry.ActionDescriptor{
	{
		Kind:        "message_created",
		Description: "A message was posted in a channel",
		Fields: []registry.FilterField{
			{Name: "channel_id", Path: "message.channel_id", Mode: registry.MatchEquals},
			{Name: "author", Path: "message.author", Mode: registry.MatchEquals},
			{Name: "content", Path: "message.content", Mode: registry.MatchContains},
		},
	},
}

var reactions = []registry.ReactionDescriptor{
	{Kind: "send_message", Description: "Post a message to a channel", Required: []string{"channel_id", "content"}},
}

type Config struct {
	APIURL string
	// BotToken is used for owners whose stored credentials carry none.
	BotToken string
	Policy   rest.Policy
}

// Adapter keeps one REST client per owner.
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

// Authenticate accepts a "bot_token" credential, falling back to the
// configured bot token.
func (a *Adapter) Authenticate(_ context.Context, ownerID string, creds registry.Credentials) error {
	token := creds["bot_token"]
	if token == "" {
		token = a.cfg.BotToken
	}
	if token == "" {
		return engine.AuthErrorf("discord: no bot token for owner %s", ownerID)
	}
	a.clients.Put(ownerID, rest.New(a.cfg.APIURL,
		rest.WithBearer("Bot", token),
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
	if kind != "send_message" {
		return engine.ConfigErrorf("discord: unknown reaction %q", kind)
	}
	client, ok := a.clients.Get(ownerID)
	if !ok {
		return engine.AuthErrorf("discord: owner %s not authenticated", ownerID)
	}

	channel := template.Format(params["channel_id"])
	content := truncateRunes(template.Format(params["content"]), MaxContent)
	if content == "" {
		return engine.ConfigErrorf("discord: message content rendered empty")
	}

	var msg struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channel))
	err := client.JSON(ctx, http.MethodPost, path, map[string]any{"content": content}, &msg)
	if err != nil {
		if engine.IsKind(err, engine.KindAuth) {
			a.clients.Forget(ownerID)
		}
		return err
	}
	a.logger.Debug("Message sent", "channel_id", channel, "message_id", msg.ID)
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
