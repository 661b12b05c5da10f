// Package timer is the provider of time-based triggers. It only describes
// its actions; the scheduler raises them.
package timer

import (
	"context"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/scheduler"
)

var config = []string{
	scheduler.KeyTime,
	scheduler.KeyDay,
	scheduler.KeyMinutes,
	scheduler.KeyCron,
	scheduler.KeyTimezone,
}

var actions = []registry.ActionDescriptor{
	{Kind: scheduler.KindEveryHour, Description: "At the top of every hour", Config: config},
	{Kind: scheduler.KindEveryDay, Description: "Every day at time (HH:MM)", Config: config},
	{Kind: scheduler.KindEveryWeek, Description: "Every week on day at time", Config: config},
	{Kind: scheduler.KindInterval, Description: "Every N minutes", Config: config},
	{Kind: scheduler.KindCustom, Description: "On a 5-field cron expression", Config: config},
}

// Adapter is stateless: timers need no credentials.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Name() string { return rule.TimerProvider }

func (*Adapter) DescribeActions() []registry.ActionDescriptor { return actions }

func (*Adapter) DescribeReactions() []registry.ReactionDescriptor { return nil }

func (*Adapter) Authenticate(context.Context, string, registry.Credentials) error { return nil }

func (*Adapter) IsAuthenticated(string) bool { return true }

func (*Adapter) ValidateReaction(kind string, _ map[string]any) error {
	return engine.ConfigErrorf("timer has no reaction %q", kind)
}

func (*Adapter) ExecuteReaction(_ context.Context, kind, _ string, _, _ map[string]any) error {
	return engine.ConfigErrorf("timer has no reaction %q", kind)
}
