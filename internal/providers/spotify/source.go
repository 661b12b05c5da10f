package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/poller"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/template"
)

type apiTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URI     string `json:"uri"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
}

func (t apiTrack) payload() map[string]any {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	return map[string]any{
		"id":      t.ID,
		"name":    t.Name,
		"uri":     t.URI,
		"artists": artists,
		"album":   t.Album.Name,
	}
}

// Source polls only what the owner's rules ask for: a rule kind with no
// enabled rule costs no request.
type Source struct {
	adapter *Adapter
	creds   engine.CredentialSource
}

func NewSource(a *Adapter, creds engine.CredentialSource) *Source {
	return &Source{adapter: a, creds: creds}
}

func (s *Source) Provider() string { return Provider }

func (s *Source) Poll(ctx context.Context, ownerID string, rules []*rule.Rule) ([]poller.Observation, error) {
	client, err := s.client(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	kinds := make(map[string]bool)
	playlists := make(map[string]bool)
	for _, r := range rules {
		kinds[r.Action.Kind] = true
		if r.Action.Kind == KindPlaylistUpdated {
			if v, ok := r.Action.Filter["playlist_id"]; ok && v != nil {
				if id := template.Format(v); id != "" {
					playlists[id] = true
				}
			}
		}
	}

	type target struct {
		name string
		poll func() (poller.Observation, error)
	}
	var targets []target
	if kinds[KindTrackPlayed] {
		targets = append(targets, target{"recently_played", func() (poller.Observation, error) {
			return s.recentlyPlayed(ctx, client, ownerID)
		}})
	}
	if kinds[KindTrackSaved] {
		targets = append(targets, target{"saved_tracks", func() (poller.Observation, error) {
			return s.savedTracks(ctx, client, ownerID)
		}})
	}
	if kinds[KindArtistFollowed] {
		targets = append(targets, target{"followed_artists", func() (poller.Observation, error) {
			return s.followedArtists(ctx, client, ownerID)
		}})
	}
	ids := make([]string, 0, len(playlists))
	for id := range playlists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		targets = append(targets, target{"playlist:" + id, func() (poller.Observation, error) {
			return s.playlist(ctx, client, ownerID, id)
		}})
	}

	// A failing target is skipped so the others keep advancing. Auth
	// failures and a cycle where nothing succeeded fail the owner.
	var (
		out  []poller.Observation
		errs []error
	)
	for _, t := range targets {
		obs, err := t.poll()
		if err != nil {
			if engine.IsKind(err, engine.KindAuth) {
				return nil, err
			}
			s.adapter.logger.Warn("skipping spotify target", "owner", ownerID, "target", t.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		out = append(out, obs)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (s *Source) client(ctx context.Context, ownerID string) (*rest.Client, error) {
	if c, ok := s.adapter.clients.Get(ownerID); ok {
		return c, nil
	}
	if s.creds == nil {
		return nil, engine.AuthErrorf("spotify: owner %s not authenticated", ownerID)
	}
	creds, err := s.creds.Credentials(ctx, ownerID, Provider)
	if err != nil {
		return nil, engine.AuthErrorf("spotify: loading credentials for %s: %w", ownerID, err)
	}
	if err := s.adapter.Authenticate(ctx, ownerID, creds); err != nil {
		return nil, err
	}
	c, _ := s.adapter.clients.Get(ownerID)
	return c, nil
}

// recentlyPlayed is a scalar cursor on the last played track id.
func (s *Source) recentlyPlayed(ctx context.Context, c *rest.Client, ownerID string) (poller.Observation, error) {
	var resp struct {
		Items []struct {
			Track    apiTrack `json:"track"`
			PlayedAt string   `json:"played_at"`
		} `json:"items"`
	}
	if err := s.adapter.do(ctx, c, ownerID, http.MethodGet, "/me/player/recently-played?limit=1", nil, &resp); err != nil {
		return poller.Observation{}, err
	}
	if len(resp.Items) == 0 {
		return poller.Scalar(KindTrackPlayed, "recently_played", "", nil), nil
	}
	item := resp.Items[0]
	track := item.Track.payload()
	track["playedAt"] = item.PlayedAt
	return poller.Scalar(KindTrackPlayed, "recently_played", item.Track.ID, map[string]any{"track": track}), nil
}

// savedTracks is a scalar cursor on the library size.
func (s *Source) savedTracks(ctx context.Context, c *rest.Client, ownerID string) (poller.Observation, error) {
	var resp struct {
		Total int `json:"total"`
		Items []struct {
			AddedAt string   `json:"added_at"`
			Track   apiTrack `json:"track"`
		} `json:"items"`
	}
	if err := s.adapter.do(ctx, c, ownerID, http.MethodGet, "/me/tracks?limit=1", nil, &resp); err != nil {
		return poller.Observation{}, err
	}
	payload := map[string]any{"library": map[string]any{"total": resp.Total}}
	if len(resp.Items) > 0 {
		track := resp.Items[0].Track.payload()
		track["addedAt"] = resp.Items[0].AddedAt
		payload["track"] = track
	}
	return poller.Scalar(KindTrackSaved, "saved_tracks", strconv.Itoa(resp.Total), payload), nil
}

// playlist is a scalar cursor on the playlist's snapshot id.
func (s *Source) playlist(ctx context.Context, c *rest.Client, ownerID, id string) (poller.Observation, error) {
	var resp struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		SnapshotID string `json:"snapshot_id"`
		Tracks     struct {
			Total int `json:"total"`
		} `json:"tracks"`
	}
	path := fmt.Sprintf("/playlists/%s?fields=%s", url.PathEscape(id), url.QueryEscape("id,name,snapshot_id,tracks.total"))
	if err := s.adapter.do(ctx, c, ownerID, http.MethodGet, path, nil, &resp); err != nil {
		return poller.Observation{}, err
	}
	payload := map[string]any{"playlist": map[string]any{
		"id":         id,
		"name":       resp.Name,
		"snapshotId": resp.SnapshotID,
		"tracks":     resp.Tracks.Total,
	}}
	return poller.Scalar(KindPlaylistUpdated, "playlist:"+id, resp.SnapshotID, payload), nil
}

// maxArtistPages bounds one followed-artists read to 1000 artists.
const maxArtistPages = 20

// followedArtists is a set cursor of followed artist ids, read across
// the endpoint's cursor pages.
func (s *Source) followedArtists(ctx context.Context, c *rest.Client, ownerID string) (poller.Observation, error) {
	var items []poller.Item
	after := ""
	for page := 0; page < maxArtistPages; page++ {
		var resp struct {
			Artists struct {
				Items []struct {
					ID     string   `json:"id"`
					Name   string   `json:"name"`
					URI    string   `json:"uri"`
					Genres []string `json:"genres"`
				} `json:"items"`
				Next    string `json:"next"`
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
			} `json:"artists"`
		}
		path := "/me/following?type=artist&limit=50"
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}
		if err := s.adapter.do(ctx, c, ownerID, http.MethodGet, path, nil, &resp); err != nil {
			return poller.Observation{}, err
		}
		for _, a := range resp.Artists.Items {
			items = append(items, poller.Item{
				ID: a.ID,
				Payload: map[string]any{"artist": map[string]any{
					"id":     a.ID,
					"name":   a.Name,
					"uri":    a.URI,
					"genres": a.Genres,
				}},
			})
		}
		if resp.Artists.Next == "" || resp.Artists.Cursors.After == "" || resp.Artists.Cursors.After == after {
			break
		}
		after = resp.Artists.Cursors.After
	}
	return poller.Set(KindArtistFollowed, "followed_artists", items), nil
}
