package daemon

import (
	"log/slog"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/poller"
	"github.com/colebrumley/areamgr/internal/providers/claude"
	"github.com/colebrumley/areamgr/internal/providers/discord"
	"github.com/colebrumley/areamgr/internal/providers/github"
	"github.com/colebrumley/areamgr/internal/providers/gmail"
	"github.com/colebrumley/areamgr/internal/providers/spotify"
	"github.com/colebrumley/areamgr/internal/providers/timer"
	"github.com/colebrumley/areamgr/internal/providers/web"
	"github.com/colebrumley/areamgr/internal/providers/webhook"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
)

// adapters are the configured providers. Poll sources need the concrete
// gmail and spotify adapters to share their per-owner clients.
type adapters struct {
	gmail   *gmail.Adapter
	spotify *spotify.Adapter
	all     []registry.ServiceAdapter
}

func buildAdapters(cfg *config.Global, logger *slog.Logger) adapters {
	p := cfg.Providers
	a := adapters{
		gmail: gmail.New(gmail.Config{
			APIURL:       p.Gmail.APIURL,
			TokenURL:     p.Gmail.TokenURL,
			ClientID:     p.Gmail.ClientID,
			ClientSecret: p.Gmail.ClientSecret(),
		}, logger),
		spotify: spotify.New(spotify.Config{
			APIURL:       p.Spotify.APIURL,
			TokenURL:     p.Spotify.TokenURL,
			ClientID:     p.Spotify.ClientID,
			ClientSecret: p.Spotify.ClientSecret(),
		}, logger),
	}
	a.all = []registry.ServiceAdapter{
		timer.New(),
		discord.New(discord.Config{APIURL: p.Discord.APIURL, BotToken: p.Discord.BotToken()}, logger),
		github.New(github.Config{APIURL: p.GitHub.APIURL}, logger),
		a.gmail,
		a.spotify,
		web.New(),
		webhook.New(webhook.Config{AllowedHosts: p.Webhook.AllowedHosts}, logger),
		claude.New(p.Claude, logger),
	}
	return a
}

// buildPollers returns a poller per enabled poll source.
func buildPollers(cfg *config.Global, a adapters, repo rule.Repository, handler engine.Handler, creds engine.CredentialSource, logger *slog.Logger) []*poller.Poller {
	sources := []struct {
		cfg    config.PollerConfig
		source poller.Source
	}{
		{cfg.Pollers.Gmail, gmail.NewSource(a.gmail, creds, cfg.Providers.Gmail.Query, cfg.Providers.Gmail.MaxResults)},
		{cfg.Pollers.Spotify, spotify.NewSource(a.spotify, creds)},
		{cfg.Pollers.Web, web.NewSource(logger)},
	}

	var pollers []*poller.Poller
	for _, s := range sources {
		if !s.cfg.IsEnabled() {
			logger.Info("poller disabled", "provider", s.source.Provider())
			continue
		}
		pollers = append(pollers, poller.New(s.source, repo, handler, logger, poller.Config{
			Interval:     s.cfg.Interval(),
			OwnerTimeout: s.cfg.OwnerTimeout(),
			MaxTracked:   s.cfg.MaxTracked,
		}))
	}
	return pollers
}
