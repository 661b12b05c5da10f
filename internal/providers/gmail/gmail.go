// Package gmail sends mail and watches inboxes through the Gmail API, one
// *gmail.Service per owner built from the owner's stored OAuth token.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/template"
)

const Provider = "gmail"

var actions = []registry.ActionDescriptor{
	{
		Kind:        KindNewEmail,
		Description: "A new message arrived in the inbox",
		Fields: []registry.FilterField{
			{Name: "from", Path: "email.from", Mode: registry.MatchContains},
			{Name: "subject", Path: "email.subject", Mode: registry.MatchContains},
			{Name: "label", Path: "email.labels", Mode: registry.MatchAnyOf},
		},
	},
}

var reactions = []registry.ReactionDescriptor{
	{Kind: "send_email", Description: "Send an email from the owner's account", Required: []string{"to", "subject", "body"}},
}

type Config struct {
	// APIURL overrides the Gmail endpoint.
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// HTTPClient is the base transport under the oauth2 layer.
	HTTPClient *http.Client
	Policy     rest.Policy
}

// Adapter keeps one Gmail service per owner.
type Adapter struct {
	cfg      Config
	oauth    *oauth2.Config
	logger   *slog.Logger
	services registry.ClientCache[*gmailapi.Service]
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Policy == (rest.Policy{}) {
		cfg.Policy = rest.DefaultPolicy
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &Adapter{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gmailapi.GmailSendScope, gmailapi.GmailReadonlyScope},
		},
		logger: logger.With("provider", Provider),
	}
}

func (a *Adapter) Name() string { return Provider }

func (a *Adapter) DescribeActions() []registry.ActionDescriptor { return actions }

func (a *Adapter) DescribeReactions() []registry.ReactionDescriptor { return reactions }

// Authenticate builds the owner's service from the stored OAuth token.
func (a *Adapter) Authenticate(ctx context.Context, ownerID string, creds registry.Credentials) error {
	tok, err := rest.Token(creds)
	if err != nil {
		return engine.AuthErrorf("gmail: owner %s: %w", ownerID, err)
	}

	base := context.WithoutCancel(ctx)
	if a.cfg.HTTPClient != nil {
		base = context.WithValue(base, oauth2.HTTPClient, a.cfg.HTTPClient)
	}
	opts := []option.ClientOption{option.WithTokenSource(a.oauth.TokenSource(base, tok))}
	if a.cfg.APIURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(a.cfg.APIURL, "/")+"/"))
	}
	svc, err := gmailapi.NewService(base, opts...)
	if err != nil {
		return engine.AuthErrorf("gmail: creating service for owner %s: %w", ownerID, err)
	}
	a.services.Put(ownerID, svc)
	return nil
}

func (a *Adapter) IsAuthenticated(ownerID string) bool { return a.services.Has(ownerID) }

func (a *Adapter) ValidateReaction(kind string, params map[string]any) error {
	return registry.RequireParams(reactions, kind, params)
}

func (a *Adapter) ExecuteReaction(ctx context.Context, kind, ownerID string, params, _ map[string]any) error {
	if kind != "send_email" {
		return engine.ConfigErrorf("gmail: unknown reaction %q", kind)
	}
	svc, ok := a.services.Get(ownerID)
	if !ok {
		return engine.AuthErrorf("gmail: owner %s not authenticated", ownerID)
	}

	to := sanitizeHeader(template.Format(params["to"]))
	if !strings.Contains(to, "@") {
		return engine.ConfigErrorf("gmail: invalid recipient %q", to)
	}
	raw := buildMessage(to, sanitizeHeader(template.Format(params["subject"])),
		template.Format(params["body"]), template.Format(params["content_type"]))

	err := a.call(ctx, ownerID, "users.messages.send", func() error {
		_, err := svc.Users.Messages.Send("me", &gmailapi.Message{Raw: raw}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	a.logger.Debug("Email sent", "owner", ownerID, "to", to)
	return nil
}

// call runs a Gmail API request under the retry policy. Auth failures drop
// the owner's service so the next dispatch re-authenticates.
func (a *Adapter) call(ctx context.Context, ownerID, op string, fn func() error) error {
	err := rest.Do(ctx, a.logger, a.cfg.Policy, op, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			switch {
			case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
				return engine.AuthErrorf("gmail %s: %w", op, err)
			case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
				return err
			default:
				return engine.ExecutionErrorf("gmail %s: %w", op, err)
			}
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return engine.AuthErrorf("gmail %s: token refresh: %w", op, err)
		}
		return err
	}, nil)
	if engine.IsKind(err, engine.KindAuth) {
		a.services.Forget(ownerID)
	}
	return err
}

// sanitizeHeader drops CR, LF and other control characters so a rendered
// value cannot inject headers.
func sanitizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func buildMessage(to, subject, body, contentType string) string {
	if contentType == "" {
		contentType = "text/plain"
	}
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Content-Type: %s; charset=utf-8\r\n\r\n", sanitizeHeader(contentType))
	msg.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(msg.String()))
}
