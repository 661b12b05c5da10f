package daemon

import (
	"context"
	"log/slog"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/security"
	"github.com/colebrumley/areamgr/internal/state"
)

// maxErrorLen bounds the error text kept per history record.
const maxErrorLen = 1024

// historyRecorder persists dispatch outcomes.
type historyRecorder struct {
	db     *state.DB
	logger *slog.Logger
}

func newHistoryRecorder(db *state.DB, logger *slog.Logger) *historyRecorder {
	return &historyRecorder{db: db, logger: logger}
}

func (h *historyRecorder) Record(ctx context.Context, o engine.Outcome) {
	rec := state.ExecutionRecord{
		RuleID:     o.RuleID,
		RuleName:   o.RuleName,
		OwnerID:    o.OwnerID,
		Trigger:    o.Trigger,
		Reaction:   o.Reaction,
		Outcome:    string(o.Status),
		StartedAt:  o.StartedAt,
		FinishedAt: o.StartedAt.Add(o.Duration),
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		rec.Error = security.Truncate(security.ScrubOutput(o.Err.Error()), maxErrorLen)
	}

	// History is written even when the triggering request has gone away.
	if _, err := h.db.RecordExecution(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("failed to record execution", "rule", o.RuleID, "error", err)
	}
}
