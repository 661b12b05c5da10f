package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/poller"
	"github.com/colebrumley/areamgr/internal/providers/rest"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeGmail serves the subset of the Gmail API the adapter uses.
type fakeGmail struct {
	mu       sync.Mutex
	inbox    []string // newest first
	headers  map[string]map[string]string
	sent     []string
	gets     []string
	status   int
	authSeen []string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, f.status, http.StatusText(f.status))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages")
	switch {
	case r.Method == http.MethodPost && path == "/send":
		var msg struct{ Raw string }
		json.NewDecoder(r.Body).Decode(&msg)
		raw, _ := base64.URLEncoding.DecodeString(msg.Raw)
		f.sent = append(f.sent, string(raw))
		json.NewEncoder(w).Encode(map[string]any{"id": "sent-1"})
	case r.Method == http.MethodGet && path == "":
		msgs := make([]map[string]any, 0, len(f.inbox))
		for _, id := range f.inbox {
			msgs = append(msgs, map[string]any{"id": id, "threadId": "t-" + id})
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
	case r.Method == http.MethodGet:
		id := strings.TrimPrefix(path, "/")
		f.gets = append(f.gets, id)
		var hdrs []map[string]string
		for name, value := range f.headers[id] {
			hdrs = append(hdrs, map[string]string{"name": name, "value": value})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":           id,
			"threadId":     "t-" + id,
			"labelIds":     []string{"INBOX", "IMPORTANT"},
			"snippet":      "snippet of " + id,
			"internalDate": "1767225600000",
			"payload":      map[string]any{"headers": hdrs},
		})
	default:
		http.NotFound(w, r)
	}
}

type staticCreds map[string]registry.Credentials

func (s staticCreds) Credentials(_ context.Context, ownerID, _ string) (registry.Credentials, error) {
	return s[ownerID], nil
}

func newTestAdapter(url string) *Adapter {
	return New(Config{
		APIURL: url,
		Policy: rest.Policy{Attempts: 2, Delay: time.Millisecond, MaxJitter: time.Millisecond},
	}, discard)
}

func TestSendEmail(t *testing.T) {
	fake := &fakeGmail{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	ctx := context.Background()
	if err := a.Authenticate(ctx, "alice", registry.Credentials{"access_token": "ya29.token"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	params := map[string]any{
		"to":      "bob@example.com",
		"subject": "Hello\r\nBcc: evil@example.com",
		"body":    "Line one",
	}
	if err := a.ExecuteReaction(ctx, "send_email", "alice", params, nil); err != nil {
		t.Fatalf("ExecuteReaction: %v", err)
	}

	if len(fake.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(fake.sent))
	}
	msg := fake.sent[0]
	if !strings.Contains(msg, "To: bob@example.com\r\n") {
		t.Errorf("missing recipient header in %q", msg)
	}
	if strings.Contains(msg, "\r\nBcc:") {
		t.Errorf("header injection not prevented: %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nLine one") {
		t.Errorf("unexpected body in %q", msg)
	}
	if fake.authSeen[0] != "Bearer ya29.token" {
		t.Errorf("unexpected authorization %q", fake.authSeen[0])
	}
}

func TestSendEmail_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		params   map[string]any
		wantKind engine.Kind
		forget   bool
	}{
		{"bad recipient", 0, map[string]any{"to": "nobody", "subject": "s", "body": "b"}, engine.KindConfig, false},
		{"token rejected", http.StatusUnauthorized, map[string]any{"to": "a@b.c", "subject": "s", "body": "b"}, engine.KindAuth, true},
		{"bad request", http.StatusBadRequest, map[string]any{"to": "a@b.c", "subject": "s", "body": "b"}, engine.KindExecution, false},
		{"server error", http.StatusServiceUnavailable, map[string]any{"to": "a@b.c", "subject": "s", "body": "b"}, engine.KindExecution, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(&fakeGmail{status: tt.status})
			defer srv.Close()

			a := newTestAdapter(srv.URL)
			ctx := context.Background()
			if err := a.Authenticate(ctx, "alice", registry.Credentials{"access_token": "tok"}); err != nil {
				t.Fatal(err)
			}
			err := a.ExecuteReaction(ctx, "send_email", "alice", tt.params, nil)
			if got := engine.KindOf(err); got != tt.wantKind {
				t.Errorf("expected %s, got %s (%v)", tt.wantKind, got, err)
			}
			if a.IsAuthenticated("alice") == tt.forget {
				t.Errorf("IsAuthenticated after failure = %v, want %v", !tt.forget, tt.forget)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := newTestAdapter("http://unused")
	ctx := context.Background()
	tests := []struct {
		name    string
		creds   registry.Credentials
		wantErr bool
	}{
		{"access token", registry.Credentials{"access_token": "a"}, false},
		{"refresh token only", registry.Credentials{"refresh_token": "r"}, false},
		{"expiry", registry.Credentials{"access_token": "a", "expiry": "2030-01-01T00:00:00Z"}, false},
		{"bad expiry", registry.Credentials{"access_token": "a", "expiry": "tomorrow"}, true},
		{"nothing", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authenticate(ctx, tt.name, tt.creds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !engine.IsKind(err, engine.KindAuth) {
				t.Errorf("expected auth error, got %v", err)
			}
			if a.IsAuthenticated(tt.name) == tt.wantErr {
				t.Errorf("IsAuthenticated = %v", !tt.wantErr)
			}
		})
	}
}

func TestSource_NewEmailsFlowThroughPoller(t *testing.T) {
	fake := &fakeGmail{
		inbox: []string{"m2", "m1"},
		headers: map[string]map[string]string{
			"m3": {"From": "Boss <boss@example.com>", "Subject": "Quarterly report"},
		},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	src := NewSource(a, staticCreds{"alice": {"access_token": "tok"}}, "", 0)

	repo := rule.NewMemoryRepository(&rule.Rule{
		ID: "r1", OwnerID: "alice", Enabled: true,
		Action: rule.Action{Provider: Provider, Kind: KindNewEmail, Filter: map[string]any{"from": "boss@"}},
	})
	var mu sync.Mutex
	var events []engine.Event
	handler := engine.HandlerFunc(func(_ context.Context, ev engine.Event) []engine.Outcome {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		return nil
	})
	p := poller.New(src, repo, handler, discard, poller.Config{})
	ctx := context.Background()

	if stats := p.RunCycle(ctx); stats.Failed != 0 || stats.Events != 0 {
		t.Fatalf("cold start: %+v", stats)
	}
	if len(fake.gets) != 0 {
		t.Errorf("cold start should not load metadata, loaded %v", fake.gets)
	}

	fake.mu.Lock()
	fake.inbox = []string{"m3", "m2", "m1"}
	fake.mu.Unlock()

	if stats := p.RunCycle(ctx); stats.Events != 1 {
		t.Fatalf("second cycle: %+v", stats)
	}
	if len(fake.gets) != 1 || fake.gets[0] != "m3" {
		t.Errorf("expected metadata load of m3 only, got %v", fake.gets)
	}
	ev := events[0]
	if ev.Provider != Provider || ev.Kind != KindNewEmail || ev.OwnerScope != "alice" {
		t.Errorf("unexpected event %+v", ev)
	}
	email := ev.Payload["email"].(map[string]any)
	if email["subject"] != "Quarterly report" || email["from"] != "Boss <boss@example.com>" {
		t.Errorf("unexpected email payload %v", email)
	}
	if email["receivedAt"] != "2026-01-01T00:00:00Z" {
		t.Errorf("unexpected receivedAt %v", email["receivedAt"])
	}

	desc := actions[0]
	if !engine.Accepts(desc, map[string]any{"from": "boss@", "label": "important"}, ev.Payload) {
		t.Error("expected filter to accept the new email")
	}
}

func TestSource_NoCredentials(t *testing.T) {
	a := newTestAdapter("http://unused")
	src := NewSource(a, staticCreds{}, "", 0)
	_, err := src.Poll(context.Background(), "ghost", nil)
	if !engine.IsKind(err, engine.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
