package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/colebrumley/areamgr/internal/state"
)

// fakeDaemon serves a canned subset of the daemon API and records requests.
type fakeDaemon struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (f *fakeDaemon) handler() http.Handler {
	next := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rules", func(w http.ResponseWriter, r *http.Request) {
		rules := []ruleView{
			{ID: "r1", Name: "standup", Owner: "alice", Enabled: true, Trigger: "timer/every_day", Reaction: "webhook/post", NextRun: &next},
			{ID: "r2", Name: "stars", Owner: "alice", Trigger: "github/star", Reaction: "discord/send_message", LastOutcome: "auth_error"},
		}
		if owner := r.URL.Query().Get("owner"); owner != "" && owner != "alice" {
			rules = nil
		}
		json.NewEncoder(w).Encode(rules)
	})
	mux.HandleFunc("POST /api/rules/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		status := "success"
		if r.PathValue("id") == "r2" {
			status = "auth_error"
		}
		json.NewEncoder(w).Encode(runResult{RuleID: r.PathValue("id"), Status: status, DurationMs: 12})
	})
	mux.HandleFunc("POST /api/rules/{id}/disable", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ruleView{ID: r.PathValue("id"), Name: "standup"})
	})
	mux.HandleFunc("DELETE /api/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"rule not found"}`)
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]state.ExecutionRecord{{
			RuleID: "r1", RuleName: "standup", Trigger: "timer/every_day", Reaction: "webhook/post",
			Outcome: "execution_error", DurationMs: 40, Error: "HTTP 502",
		}})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
		f.bodies = append(f.bodies, string(body))
		f.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	})
}

func (f *fakeDaemon) last() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests) - 1
	return f.requests[n], f.bodies[n]
}

func TestAPICommands(t *testing.T) {
	fake := &fakeDaemon{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantReq  string
		wantBody string
		want     []string
	}{
		{
			name:    "list",
			args:    []string{"list"},
			wantReq: "GET /api/rules",
			want:    []string{"standup", "timer/every_day", "auth_error", "2026-01-05"},
		},
		{
			name:    "list by owner",
			args:    []string{"list", "--owner", "bob"},
			wantReq: "GET /api/rules?owner=bob",
			want:    []string{"No rules found"},
		},
		{
			name:     "run with payload",
			args:     []string{"run", "r1", "--payload", `{"repository":{"full_name":"acme/app"}}`},
			wantReq:  "POST /api/rules/r1/run",
			wantBody: `{"repository":{"full_name":"acme/app"}}`,
			want:     []string{"r1: success (12ms)"},
		},
		{
			name:    "run failure exits non-zero",
			args:    []string{"run", "r2"},
			wantReq: "POST /api/rules/r2/run",
			wantErr: "finished with auth_error",
		},
		{
			name:    "run rejects non-object payload",
			args:    []string{"run", "r1", "--payload", "[1,2]"},
			wantErr: "must be a JSON object",
		},
		{
			name:    "disable",
			args:    []string{"disable", "r1"},
			wantReq: "POST /api/rules/r1/disable",
			want:    []string{"Rule standup disabled"},
		},
		{
			name:    "delete reports daemon error",
			args:    []string{"delete", "gone"},
			wantReq: "DELETE /api/rules/gone",
			wantErr: "rule not found (HTTP 404)",
		},
		{
			name:    "history",
			args:    []string{"history", "--rule", "r1", "-n", "5"},
			wantReq: "GET /api/history?limit=5&rule=r1",
			want:    []string{"standup", "execution_error", "40ms", "HTTP 502"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"--addr", srv.URL}, tt.args...)...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v\n%s", err, out)
			}
			if tt.wantReq != "" {
				req, body := fake.last()
				if req != tt.wantReq {
					t.Errorf("request = %q, want %q", req, tt.wantReq)
				}
				if tt.wantBody != "" && body != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestListJSON(t *testing.T) {
	srv := httptest.NewServer((&fakeDaemon{}).handler())
	defer srv.Close()

	out, err := execute(t, "--addr", srv.URL, "--format", "json", "list")
	if err != nil {
		t.Fatal(err)
	}
	var rules []ruleView
	if err := json.Unmarshal([]byte(out), &rules); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(rules) != 2 || rules[0].NextRun == nil {
		t.Errorf("unexpected rules %+v", rules)
	}
}

func TestDaemonUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := execute(t, "--addr", addr, "list")
	if err == nil || !strings.Contains(err.Error(), "daemon unreachable") {
		t.Errorf("expected unreachable error, got %v", err)
	}
}
