package gmail

import (
	"context"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/poller"
	"github.com/colebrumley/areamgr/internal/rule"
)

const (
	KindNewEmail = "new_email"

	DefaultQuery      = "in:inbox"
	DefaultMaxResults = 25
)

// Source lists each owner's recent messages for the poller. Metadata is
// fetched only for message ids the cursor has not seen.
type Source struct {
	adapter    *Adapter
	creds      engine.CredentialSource
	query      string
	maxResults int64
}

func NewSource(a *Adapter, creds engine.CredentialSource, query string, maxResults int) *Source {
	if query == "" {
		query = DefaultQuery
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Source{adapter: a, creds: creds, query: query, maxResults: int64(maxResults)}
}

func (s *Source) Provider() string { return Provider }

func (s *Source) Poll(ctx context.Context, ownerID string, _ []*rule.Rule) ([]poller.Observation, error) {
	svc, err := s.service(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var list *gmailapi.ListMessagesResponse
	err = s.adapter.call(ctx, ownerID, "users.messages.list", func() error {
		var err error
		list, err = svc.Users.Messages.List("me").Q(s.query).MaxResults(s.maxResults).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	items := make([]poller.Item, 0, len(list.Messages))
	for _, m := range list.Messages {
		id := m.Id
		items = append(items, poller.Item{
			ID: id,
			Load: func(ctx context.Context) (map[string]any, error) {
				return s.load(ctx, svc, ownerID, id)
			},
		})
	}
	return []poller.Observation{poller.Set(KindNewEmail, "inbox", items)}, nil
}

func (s *Source) service(ctx context.Context, ownerID string) (*gmailapi.Service, error) {
	if svc, ok := s.adapter.services.Get(ownerID); ok {
		return svc, nil
	}
	if s.creds == nil {
		return nil, engine.AuthErrorf("gmail: owner %s not authenticated", ownerID)
	}
	creds, err := s.creds.Credentials(ctx, ownerID, Provider)
	if err != nil {
		return nil, engine.AuthErrorf("gmail: loading credentials for %s: %w", ownerID, err)
	}
	if err := s.adapter.Authenticate(ctx, ownerID, creds); err != nil {
		return nil, err
	}
	svc, _ := s.adapter.services.Get(ownerID)
	return svc, nil
}

func (s *Source) load(ctx context.Context, svc *gmailapi.Service, ownerID, id string) (map[string]any, error) {
	var msg *gmailapi.Message
	err := s.adapter.call(ctx, ownerID, "users.messages.get", func() error {
		var err error
		msg, err = svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"email": emailPayload(msg)}, nil
}

func emailPayload(msg *gmailapi.Message) map[string]any {
	email := map[string]any{
		"id":       msg.Id,
		"threadId": msg.ThreadId,
		"snippet":  msg.Snippet,
		"labels":   append([]string(nil), msg.LabelIds...),
	}
	if msg.InternalDate > 0 {
		email["receivedAt"] = time.UnixMilli(msg.InternalDate).UTC().Format(time.RFC3339)
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				email["from"] = h.Value
			case "To":
				email["to"] = h.Value
			case "Subject":
				email["subject"] = h.Value
			case "Date":
				email["date"] = h.Value
			}
		}
	}
	return email
}
