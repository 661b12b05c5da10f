package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/logging"
	"github.com/colebrumley/areamgr/internal/rule"
)

// Defaults for Config fields left zero.
const (
	DefaultInterval     = 90 * time.Second
	DefaultOwnerTimeout = 45 * time.Second
	DefaultMaxTracked   = 500
)

// CursorMetadataKey is the rule metadata key holding the cursor hint. It is
// written after every successful poll and never read back.
const CursorMetadataKey = "poll_cursor"

// Config tunes a Poller.
type Config struct {
	Interval     time.Duration
	OwnerTimeout time.Duration
	MaxTracked   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.OwnerTimeout <= 0 {
		c.OwnerTimeout = DefaultOwnerTimeout
	}
	if c.MaxTracked <= 0 {
		c.MaxTracked = DefaultMaxTracked
	}
	return c
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Owners     int
	Failed     int
	Events     int
	Dispatched int
	Duration   time.Duration
}

// Poller runs a Source on a fixed cadence.
type Poller struct {
	source  Source
	repo    rule.Repository
	handler engine.Handler
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
	cursors *cursors
}

// New creates a poller for source.
func New(source Source, repo rule.Repository, handler engine.Handler, logger *slog.Logger, cfg Config) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Poller{
		source:  source,
		repo:    repo,
		handler: handler,
		logger:  logging.WithProvider(logger, source.Provider()),
		cfg:     cfg,
		now:     time.Now,
		cursors: newCursors(cfg.MaxTracked),
	}
}

// Provider returns the source's provider name.
func (p *Poller) Provider() string {
	return p.source.Provider()
}

// Run polls immediately and then every Interval until ctx is done. A slow
// cycle delays the next tick rather than overlapping it.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.cfg.Interval)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		stats := p.RunCycle(ctx)
		if stats.Owners > 0 {
			p.logger.Debug("poll cycle complete",
				"owners", stats.Owners,
				"failed", stats.Failed,
				"events", stats.Events,
				"dispatched", stats.Dispatched,
				"duration", stats.Duration)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle polls every owner with enabled rules for this provider once.
// Owners are polled concurrently and a failing owner never affects another.
func (p *Poller) RunCycle(ctx context.Context) (stats CycleStats) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll cycle panicked", "panic", r)
		}
		stats.Duration = p.now().Sub(start)
	}()

	owners, err := p.owners(ctx)
	if err != nil {
		p.logger.Error("listing rules for poll", "error", err)
		return stats
	}

	active := make(map[string]bool, len(owners))
	for owner := range owners {
		active[owner] = true
	}
	p.cursors.retain(active)

	var (
		wg         sync.WaitGroup
		failed     atomic.Int64
		events     atomic.Int64
		dispatched atomic.Int64
	)
	for owner, rules := range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, d, err := p.pollOwner(ctx, owner, rules)
			events.Add(int64(n))
			dispatched.Add(int64(d))
			if err != nil {
				failed.Add(1)
				logging.WithOwner(p.logger, owner).Warn("poll failed", "error", err)
			}
		}()
	}
	wg.Wait()

	stats.Owners = len(owners)
	stats.Failed = int(failed.Load())
	stats.Events = int(events.Load())
	stats.Dispatched = int(dispatched.Load())
	return stats
}

func (p *Poller) owners(ctx context.Context) (map[string][]*rule.Rule, error) {
	all, err := p.repo.List(ctx, "")
	if err != nil {
		return nil, err
	}
	owners := make(map[string][]*rule.Rule)
	for _, r := range all {
		if !r.Enabled || r.Action.Provider != p.source.Provider() {
			continue
		}
		owners[r.OwnerID] = append(owners[r.OwnerID], r)
	}
	return owners, nil
}

// pollOwner fetches, diffs and routes one owner's state. It returns the
// number of events routed and reactions dispatched. OwnerTimeout bounds each
// call to the source; routing runs under ctx so reactions get the
// dispatcher's own per-call timeout.
func (p *Poller) pollOwner(ctx context.Context, owner string, rules []*rule.Rule) (events, dispatched int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.OwnerTimeout)
	observations, err := p.source.Poll(fetchCtx, owner, rules)
	cancel()
	if err != nil {
		return 0, 0, err
	}

	logger := logging.WithOwner(p.logger, owner)
	hint := make(map[string]any, len(observations))
	for _, obs := range observations {
		key := cursorKey{owner: owner, target: obs.Target}
		for _, ch := range p.diff(ctx, logger, key, obs) {
			events++
			outcomes := p.handler.Handle(ctx, engine.Event{
				Provider:   p.source.Provider(),
				Kind:       obs.Kind,
				OwnerScope: owner,
				Payload:    ch.payload,
				ObservedAt: p.now(),
			})
			dispatched += len(outcomes)
			if ch.id != "" {
				p.cursors.commit(key, ch.id)
			}
		}
		hint[obs.Target] = cursorHint(obs)
	}

	p.markChecked(ctx, logger, rules, hint)
	return events, dispatched, nil
}

// change is one routable difference. id is set for set members, which are
// committed to the cursor only after routing.
type change struct {
	id      string
	payload map[string]any
}

// diff compares obs with the cursor for key and returns what changed. A set
// member whose payload fails to load stays uncommitted and is retried on
// the next cycle.
func (p *Poller) diff(ctx context.Context, logger *slog.Logger, key cursorKey, obs Observation) []change {
	if !obs.Set {
		if !p.cursors.diffScalar(key, obs.Value) {
			return nil
		}
		return []change{{payload: obs.Payload}}
	}

	var changes []change
	for _, it := range p.cursors.diffSet(key, obs.Items) {
		loadCtx, cancel := context.WithTimeout(ctx, p.cfg.OwnerTimeout)
		payload, err := it.payload(loadCtx)
		cancel()
		if err != nil {
			logger.Warn("loading new item, will retry", "target", obs.Target, "item", it.ID, "error", err)
			continue
		}
		changes = append(changes, change{id: it.ID, payload: payload})
	}
	return changes
}

func (p *Poller) markChecked(ctx context.Context, logger *slog.Logger, rules []*rule.Rule, hint map[string]any) {
	now := p.now()
	for _, r := range rules {
		patch := rule.Patch{
			LastChecked: rule.Time(now),
			Metadata:    map[string]any{CursorMetadataKey: hint},
		}
		if _, err := p.repo.Update(ctx, r.ID, patch); err != nil {
			logger.Warn("recording poll time", "rule", r.DisplayName(), "error", err)
		}
	}
}

func cursorHint(obs Observation) any {
	if !obs.Set {
		return obs.Value
	}
	ids := make([]string, 0, min(len(obs.Items), 10))
	for _, it := range obs.Items[:min(len(obs.Items), 10)] {
		ids = append(ids, it.ID)
	}
	return ids
}
