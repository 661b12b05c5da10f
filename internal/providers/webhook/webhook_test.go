package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/providers/rest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var testPolicy = rest.Policy{Attempts: 3, Delay: time.Millisecond, MaxJitter: time.Millisecond}

func TestPost_BodyAndContentType(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotType = string(b), r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := New(Config{Policy: testPolicy}, discard)
	params := map[string]any{"url": srv.URL + "/hook", "body": "hello", "content_type": "text/plain"}
	if err := a.ExecuteReaction(context.Background(), "post", "alice", params, nil); err != nil {
		t.Fatalf("ExecuteReaction: %v", err)
	}
	if gotBody != "hello" || gotType != "text/plain" {
		t.Errorf("unexpected delivery %q %q", gotBody, gotType)
	}
}

func TestPost_PayloadWhenBodyOmitted(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	a := New(Config{Policy: testPolicy}, discard)
	payload := map[string]any{"timer": map[string]any{"ruleId": "r1"}}
	if err := a.ExecuteReaction(context.Background(), "post", "alice", map[string]any{"url": srv.URL}, payload); err != nil {
		t.Fatalf("ExecuteReaction: %v", err)
	}
	if got["timer"].(map[string]any)["ruleId"] != "r1" {
		t.Errorf("unexpected body %v", got)
	}
}

func TestPost_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		wantKind  engine.Kind
	}{
		{"server error retried", http.StatusBadGateway, 3, engine.KindExecution},
		{"client error not retried", http.StatusBadRequest, 1, engine.KindExecution},
		{"rate limit not retried", http.StatusTooManyRequests, 1, engine.KindExecution},
		{"auth rejected", http.StatusUnauthorized, 1, engine.KindAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := New(Config{Policy: testPolicy}, discard)
			err := a.ExecuteReaction(context.Background(), "post", "alice", map[string]any{"url": srv.URL, "body": "{}"}, nil)
			if got := engine.KindOf(err); got != tt.wantKind {
				t.Errorf("expected %s, got %s (%v)", tt.wantKind, got, err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestPost_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	a := New(Config{Policy: testPolicy}, discard)
	if err := a.ExecuteReaction(context.Background(), "post", "alice", map[string]any{"url": srv.URL}, nil); err != nil {
		t.Fatalf("ExecuteReaction: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestAllowedHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	a := New(Config{AllowedHosts: []string{"Example.com", u.Hostname()}, Policy: testPolicy}, discard)
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"exact", "https://example.com/hook", false},
		{"subdomain", "https://hooks.example.com/x", false},
		{"lookalike", "https://badexample.com/x", true},
		{"other host", "https://evil.test/x", true},
		{"not http", "file:///etc/passwd", true},
		{"templated", "https://{{page.url}}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ValidateReaction("post", map[string]any{"url": tt.url})
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateReaction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !engine.IsKind(err, engine.KindConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}

	if err := a.ExecuteReaction(context.Background(), "post", "alice", map[string]any{"url": srv.URL}, nil); err != nil {
		t.Errorf("allowed test server rejected: %v", err)
	}
	err := a.ExecuteReaction(context.Background(), "post", "alice", map[string]any{"url": "https://evil.test/x"}, nil)
	if !engine.IsKind(err, engine.KindConfig) {
		t.Errorf("rendered URL outside allow-list should be a config error, got %v", err)
	}
}
