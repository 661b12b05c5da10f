package timer

import (
	"context"
	"testing"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/registry"
)

func TestDescribeActions(t *testing.T) {
	a := New()
	kinds := map[string]bool{}
	for _, d := range a.DescribeActions() {
		kinds[d.Kind] = true
		for _, key := range []string{"time", "day", "minutes", "cron", "timezone"} {
			if !d.IsConfig(key) {
				t.Errorf("%s: %s should be a config key", d.Kind, key)
			}
		}
	}
	for _, k := range []string{"every_hour", "every_day", "every_week", "interval", "custom"} {
		if !kinds[k] {
			t.Errorf("missing action %s", k)
		}
	}
	if len(a.DescribeReactions()) != 0 {
		t.Error("timer should declare no reactions")
	}
}

func TestConfigKeysNeverFilter(t *testing.T) {
	reg, err := registry.New(New())
	if err != nil {
		t.Fatal(err)
	}
	desc, ok := reg.Action("timer", "every_day")
	if !ok {
		t.Fatal("every_day not registered")
	}
	filter := map[string]any{"time": "09:00", "timezone": "UTC"}
	payload := map[string]any{"timer": map[string]any{"ruleId": "r1"}}
	if !engine.Accepts(desc, filter, payload) {
		t.Error("schedule configuration must not act as a payload filter")
	}
}

func TestReactionsRejected(t *testing.T) {
	a := New()
	if !a.IsAuthenticated("anyone") {
		t.Error("timer should always be authenticated")
	}
	if err := a.ValidateReaction("ping", nil); !engine.IsKind(err, engine.KindConfig) {
		t.Errorf("expected config error, got %v", err)
	}
	if err := a.ExecuteReaction(context.Background(), "ping", "o", nil, nil); !engine.IsKind(err, engine.KindConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}
