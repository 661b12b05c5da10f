package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	areamcp "github.com/colebrumley/areamgr/internal/mcp"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/state"
)

const (
	maxEventBody      = 1 << 20
	defaultHistoryLen = 50
	maxHistoryLen     = 500
)

func (d *Daemon) startHTTPServer(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", d.config.Daemon.ListenAddress, d.config.Daemon.ListenPort)
	d.httpServer = &http.Server{
		Addr:              addr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.logger.Info("starting HTTP server", "address", addr)

	go func() {
		if err := d.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			d.logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.httpServer.Shutdown(shutdownCtx)
}

func (d *Daemon) routes() http.Handler {
	rpm := d.config.Daemon.RequestsPerMinute
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rateLimitHandler(rpm, d.handleHealth))
	mux.HandleFunc("GET /api/rules", rateLimitHandler(rpm, d.handleListRules))
	mux.HandleFunc("POST /api/rules/{id}/enable", rateLimitHandler(rpm, d.handleSetEnabled(true)))
	mux.HandleFunc("POST /api/rules/{id}/disable", rateLimitHandler(rpm, d.handleSetEnabled(false)))
	mux.HandleFunc("POST /api/rules/{id}/run", rateLimitHandler(rpm, d.handleRunRule))
	mux.HandleFunc("DELETE /api/rules/{id}", rateLimitHandler(rpm, d.handleDeleteRule))
	mux.HandleFunc("GET /api/history", rateLimitHandler(rpm, d.handleHistory))
	mux.HandleFunc("POST /api/events", rateLimitHandler(rpm, d.handleEvent))

	mcpServer := areamcp.NewServer(d.manager, d.db)
	mux.Handle("/mcp", rateLimitHandler(rpm, mcpServer.Handler().ServeHTTP))
	return mux
}

type healthResponse struct {
	Status       string   `json:"status"`
	Uptime       string   `json:"uptime"`
	RulesLoaded  int      `json:"rules_loaded"`
	RulesEnabled int      `json:"rules_enabled"`
	Scheduled    int      `json:"scheduled"`
	Providers    []string `json:"providers"`
	Pollers      []string `json:"pollers"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	rules, err := d.manager.List(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(d.startTime).Truncate(time.Second).String(),
		RulesLoaded: len(rules),
		Scheduled:   d.scheduler.Len(),
		Providers:   d.registry.Providers(),
		Pollers:     []string{},
	}
	for _, rl := range rules {
		if rl.Enabled {
			resp.RulesEnabled++
		}
	}
	for _, p := range d.pollers {
		resp.Pollers = append(resp.Pollers, p.Provider())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ruleStatus is the API view of a rule.
type ruleStatus struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Owner         string     `json:"owner"`
	Enabled       bool       `json:"enabled"`
	Trigger       string     `json:"trigger"`
	Reaction      string     `json:"reaction"`
	Source        string     `json:"source,omitempty"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	LastChecked   *time.Time `json:"last_checked,omitempty"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	LastOutcome   string     `json:"last_outcome,omitempty"`
}

func (d *Daemon) status(ctx context.Context, r *rule.Rule) ruleStatus {
	rs := ruleStatus{
		ID:       r.ID,
		Name:     r.Name,
		Owner:    r.OwnerID,
		Enabled:  r.Enabled,
		Trigger:  r.Action.Provider + "/" + r.Action.Kind,
		Reaction: r.Reaction.Provider + "/" + r.Reaction.Kind,
	}
	if src, ok := r.Metadata[sourceKey].(string); ok {
		rs.Source = src
	}
	if !r.LastTriggered.IsZero() {
		rs.LastTriggered = rule.Time(r.LastTriggered)
	}
	if !r.LastChecked.IsZero() {
		rs.LastChecked = rule.Time(r.LastChecked)
	}
	if next, ok := d.scheduler.Next(r.ID); ok {
		rs.NextRun = &next
	}
	if outcome, err := d.db.LastOutcome(ctx, r.ID); err == nil {
		rs.LastOutcome = outcome
	}
	return rs
}

func (d *Daemon) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := d.manager.List(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]ruleStatus, 0, len(rules))
	for _, rl := range rules {
		out = append(out, d.status(r.Context(), rl))
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Daemon) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := d.manager.SetEnabled(r.Context(), r.PathValue("id"), enabled)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		d.logger.Info("rule toggled", "rule", updated.DisplayName(), "enabled", enabled)
		writeJSON(w, http.StatusOK, d.status(r.Context(), updated))
	}
}

func (d *Daemon) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := d.manager.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, rule.ErrNotFound)
		return
	}
	d.logger.Info("rule deleted", "rule", id)
	w.WriteHeader(http.StatusNoContent)
}

type runResponse struct {
	RuleID     string `json:"rule_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// handleRunRule fires a rule by hand. An optional JSON object body becomes
// the event payload.
func (d *Daemon) handleRunRule(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("payload must be a JSON object: %w", err))
			return
		}
	}

	out, err := d.manager.Run(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := runResponse{RuleID: out.RuleID, Status: string(out.Status), DurationMs: out.Duration.Milliseconds()}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultHistoryLen
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", l))
			return
		}
		limit = min(n, maxHistoryLen)
	}

	records, err := d.db.GetHistory(r.Context(), state.HistoryFilter{
		RuleID:  q.Get("rule"),
		OwnerID: q.Get("owner"),
		Outcome: q.Get("outcome"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// eventRequest is an already-normalized push notification.
type eventRequest struct {
	Provider string         `json:"provider"`
	Kind     string         `json:"kind"`
	Owner    string         `json:"owner,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// handleEvent accepts a push event and processes it in the background.
func (d *Daemon) handleEvent(w http.ResponseWriter, r *http.Request) {
	if secret := d.config.Daemon.EventSecret(); secret != "" {
		got := r.Header.Get(d.config.Daemon.EventHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var req eventRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding event: %w", err))
		return
	}
	if _, ok := d.registry.Action(req.Provider, req.Kind); !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %s/%s", req.Provider, req.Kind))
		return
	}

	ev := engine.Event{
		Provider:   req.Provider,
		Kind:       req.Kind,
		OwnerScope: req.Owner,
		Payload:    req.Payload,
		ObservedAt: time.Now(),
	}
	d.goTracked(func() {
		outcomes := d.engine.Handle(d.ctx, ev)
		d.logger.Debug("push event handled", "provider", ev.Provider, "kind", ev.Kind, "dispatched", len(outcomes))
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rule.ErrNotFound):
		return http.StatusNotFound
	case engine.IsKind(err, engine.KindValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// rateLimitHandler wraps an HTTP handler with a simple token-bucket rate
// limiter. requestsPerMinute <= 0 disables limiting.
func rateLimitHandler(requestsPerMinute int, handler http.HandlerFunc) http.HandlerFunc {
	if requestsPerMinute <= 0 {
		return handler
	}
	var mu sync.Mutex
	tokens := requestsPerMinute
	lastRefill := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		now := time.Now()
		refill := int(now.Sub(lastRefill).Minutes() * float64(requestsPerMinute))
		if refill > 0 {
			tokens = min(tokens+refill, requestsPerMinute)
			lastRefill = now
		}

		if tokens <= 0 {
			mu.Unlock()
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		tokens--
		mu.Unlock()

		handler(w, r)
	}
}
