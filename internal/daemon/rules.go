package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/security"
)

// Metadata keys marking rules that were seeded from the rules directory.
const (
	sourceKey       = "source"
	sourceRulesDir  = "rules_dir"
	sourceDigestKey = "source_digest"
)

const reloadDebounce = time.Second

// importStats summarizes one import of the rules directory.
type importStats struct {
	Loaded    int
	Updated   int
	Unchanged int
	Invalid   int
	Removed   int
}

// importRules brings the repository in line with the rules directory. A
// rule is rewritten only when its file changed, so toggles made over the API
// survive until the file is edited. Rules whose file is gone are deleted;
// rules created through other surfaces are left alone.
func (d *Daemon) importRules(ctx context.Context) (importStats, error) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	var stats importStats
	rules, err := config.LoadRulesDir(d.rulesDir)
	if err != nil {
		return stats, err
	}
	stats.Loaded = len(rules)

	present := make(map[string]bool, len(rules))
	for _, r := range rules {
		present[r.ID] = true
		logger := d.logger.With("rule", r.DisplayName())

		if err := config.ValidateRule(r); err != nil {
			stats.Invalid++
			logger.Error("invalid rule file, keeping stored definition", "error", err)
			continue
		}

		digest, err := definitionDigest(r)
		if err != nil {
			stats.Invalid++
			logger.Error("fingerprinting rule", "error", err)
			continue
		}

		prev, err := d.manager.Get(ctx, r.ID)
		switch {
		case err == nil:
			if prev.Metadata[sourceDigestKey] == digest {
				stats.Unchanged++
				continue
			}
			r.Metadata = cloneMetadata(prev.Metadata)
		case errors.Is(err, rule.ErrNotFound):
			r.Metadata = make(map[string]any, 2)
		default:
			return stats, fmt.Errorf("loading stored rule %s: %w", r.ID, err)
		}
		r.Metadata[sourceKey] = sourceRulesDir
		r.Metadata[sourceDigestKey] = digest

		if _, err := d.manager.Replace(ctx, r); err != nil {
			stats.Invalid++
			logger.Error("rule not imported", "error", err)
			continue
		}
		stats.Updated++
		logger.Info("rule imported", "enabled", r.Enabled)
	}

	stored, err := d.manager.List(ctx, "")
	if err != nil {
		return stats, fmt.Errorf("listing stored rules: %w", err)
	}
	for _, r := range stored {
		if r.Metadata[sourceKey] != sourceRulesDir || present[r.ID] {
			continue
		}
		if _, err := d.manager.Delete(ctx, r.ID); err != nil {
			d.logger.Error("removing rule whose file is gone", "rule", r.DisplayName(), "error", err)
			continue
		}
		stats.Removed++
		d.logger.Info("rule removed", "rule", r.DisplayName())
	}
	return stats, nil
}

// definitionDigest fingerprints the user-authored part of a rule.
func definitionDigest(r *rule.Rule) (string, error) {
	data, err := json.Marshal(struct {
		Name     string
		Owner    string
		Enabled  bool
		Action   rule.Action
		Reaction rule.Reaction
	}{r.Name, r.OwnerID, r.Enabled, r.Action, r.Reaction})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// startHotReload watches the rules directory and re-imports it once edits
// settle.
func (d *Daemon) startHotReload(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("could not create rules watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.rulesDir); err != nil {
		d.logger.Error("could not watch rules directory", "error", err, "dir", d.rulesDir)
		return
	}

	d.logger.Info("hot-reload watcher started", "dir", d.rulesDir)

	var debounceTimer *time.Timer
	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !config.IsRuleFile(event.Name) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case <-debounceCh:
			d.reloadRules(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("rules watcher error", "error", err)

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (d *Daemon) reloadRules(ctx context.Context) {
	if err := security.ValidateDirectoryPermissions(d.rulesDir); err != nil {
		d.logger.Error("CRITICAL: rules directory has unsafe permissions during reload", "error", err)
		return
	}

	stats, err := d.importRules(ctx)
	if err != nil {
		d.logger.Error("failed to reload rules", "error", err)
		return
	}
	d.logger.Info("rules reloaded",
		"loaded", stats.Loaded,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"invalid", stats.Invalid,
		"removed", stats.Removed)
}
