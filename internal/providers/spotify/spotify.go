// Package spotify saves tracks through the Spotify Web API and polls owners'
// listening state for changes.
package spotify

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/template"
)

const (
	Provider = "spotify"

	DefaultAPIURL   = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
)

// Action kinds.
const (
	KindTrackPlayed     = "track_played"
	KindTrackSaved      = "track_saved"
	KindPlaylistUpdated = "playlist_updated"
	KindArtistFollowed  = "artist_followed"
)

var trackFields = []registry.FilterField{
	{Name: "track", Path: "track.name", Mode: registry.MatchContains},
	{Name: "artist", Path: "track.artists", Mode: registry.MatchContains},
	{Name: "album", Path: "track.album", Mode: registry.MatchContains},
}

var actions = []registry.ActionDescriptor{
	{Kind: KindTrackPlayed, Description: "A different track was played", Fields: trackFields},
	{Kind: KindTrackSaved, Description: "The saved-track library changed", Fields: trackFields},
	{
		Kind:        KindPlaylistUpdated,
		Description: "A playlist's contents changed",
		Fields: []registry.FilterField{
			{Name: "playlist_id", Path: "playlist.id", Mode: registry.MatchEquals},
			{Name: "name", Path: "playlist.name", Mode: registry.MatchContains},
		},
	},
	{
		Kind:        KindArtistFollowed,
		Description: "The owner followed a new artist",
		Fields: []registry.FilterField{
			{Name: "name", Path: "artist.name", Mode: registry.MatchContains},
			{Name: "genre", Path: "artist.genres", Mode: registry.MatchAnyOf},
		},
	},
}

var reactions = []registry.ReactionDescriptor{
	{Kind: "save_track", Description: "Save a track to the owner's library", Required: []string{"track_id"}},
}

type Config struct {
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Policy       rest.Policy
}

// Adapter keeps one oauth2-backed REST client per owner.
type Adapter struct {
	cfg     Config
	oauth   *oauth2.Config
	logger  *slog.Logger
	clients registry.ClientCache[*rest.Client]
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Policy == (rest.Policy{}) {
		cfg.Policy = rest.DefaultPolicy
	}
	return &Adapter{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		},
		logger: logger.With("provider", Provider),
	}
}

func (a *Adapter) Name() string { return Provider }

func (a *Adapter) DescribeActions() []registry.ActionDescriptor { return actions }

func (a *Adapter) DescribeReactions() []registry.ReactionDescriptor { return reactions }

func (a *Adapter) Authenticate(ctx context.Context, ownerID string, creds registry.Credentials) error {
	tok, err := rest.Token(creds)
	if err != nil {
		return engine.AuthErrorf("spotify: owner %s: %w", ownerID, err)
	}
	a.clients.Put(ownerID, rest.New(a.cfg.APIURL,
		rest.WithHTTPClient(a.oauth.Client(context.WithoutCancel(ctx), tok)),
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
	if kind != "save_track" {
		return engine.ConfigErrorf("spotify: unknown reaction %q", kind)
	}
	client, ok := a.clients.Get(ownerID)
	if !ok {
		return engine.AuthErrorf("spotify: owner %s not authenticated", ownerID)
	}
	id := trackID(template.Format(params["track_id"]))
	if id == "" {
		return engine.ConfigErrorf("spotify: track_id rendered empty")
	}
	err := a.do(ctx, client, ownerID, http.MethodPut, "/me/tracks", map[string]any{"ids": []string{id}}, nil)
	if err != nil {
		return err
	}
	a.logger.Debug("Track saved", "owner", ownerID, "track_id", id)
	return nil
}

func (a *Adapter) do(ctx context.Context, client *rest.Client, ownerID, method, path string, in, out any) error {
	err := client.JSON(ctx, method, path, in, out)
	if engine.IsKind(err, engine.KindAuth) {
		a.clients.Forget(ownerID)
	}
	return err
}

// trackID accepts a bare id, a spotify:track: URI or an open.spotify.com URL.
func trackID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "spotify:track:")
	if i := strings.Index(s, "/track/"); i >= 0 {
		s = s[i+len("/track/"):]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return s
}
