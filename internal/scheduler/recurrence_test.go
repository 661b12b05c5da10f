package scheduler

import (
	"strconv"
	"testing"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/robfig/cron/v3"
)

func timerRule(kind string, filter map[string]any) *rule.Rule {
	return &rule.Rule{
		ID:      "r1",
		Name:    "standup",
		OwnerID: "u1",
		Enabled: true,
		Action:  rule.Action{Provider: rule.TimerProvider, Kind: kind, Filter: filter},
		Reaction: rule.Reaction{
			Provider:   "chat",
			Kind:       "send_message",
			Parameters: map[string]any{"content": "Tick {{timer.ruleName}}"},
		},
	}
}

func TestParse_Spec(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		filter map[string]any
		want   string
	}{
		{"hourly", KindEveryHour, nil, "CRON_TZ=UTC 0 * * * *"},
		{"daily", KindEveryDay, map[string]any{"time": "09:30"}, "CRON_TZ=UTC 30 9 * * *"},
		{"daily with zone", KindEveryDay, map[string]any{"time": "07:05", "timezone": "Europe/Paris"}, "CRON_TZ=Europe/Paris 5 7 * * *"},
		{"weekly", KindEveryWeek, map[string]any{"day": "Friday", "time": "17:00"}, "CRON_TZ=UTC 0 17 * * 5"},
		{"weekly short day", KindEveryWeek, map[string]any{"day": "sun", "time": "08:15"}, "CRON_TZ=UTC 15 8 * * 0"},
		{"interval minutes", KindInterval, map[string]any{"minutes": 15}, "CRON_TZ=UTC */15 * * * *"},
		{"interval from json", KindInterval, map[string]any{"minutes": float64(5)}, "CRON_TZ=UTC */5 * * * *"},
		{"interval from string", KindInterval, map[string]any{"minutes": "20"}, "CRON_TZ=UTC */20 * * * *"},
		{"interval not dividing an hour", KindInterval, map[string]any{"minutes": 45}, "@every 45m"},
		{"interval one hour", KindInterval, map[string]any{"minutes": 60}, "CRON_TZ=UTC 0 */1 * * *"},
		{"interval hours", KindInterval, map[string]any{"minutes": 180}, "CRON_TZ=UTC 0 */3 * * *"},
		{"interval hour and a half", KindInterval, map[string]any{"minutes": 90}, "@every 90m"},
		{"interval five hours", KindInterval, map[string]any{"minutes": 300}, "@every 300m"},
		{"interval one day", KindInterval, map[string]any{"minutes": 1440}, "CRON_TZ=UTC 0 0 * * *"},
		{"interval two days", KindInterval, map[string]any{"minutes": 2880}, "@every 2880m"},
		{"custom", KindCustom, map[string]any{"cron": "0  9 * * 1-5"}, "CRON_TZ=UTC 0 9 * * 1-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse(timerRule(tt.kind, tt.filter), time.UTC)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := rec.Spec(); got != tt.want {
				t.Errorf("Spec() = %q, want %q", got, tt.want)
			}
			if _, err := cron.ParseStandard(rec.Spec()); err != nil {
				t.Errorf("spec %q rejected by cron: %v", rec.Spec(), err)
			}
			if rec.Spec() != rec.Spec() {
				t.Error("Spec() is not deterministic")
			}
		})
	}
}

func TestParse_IntervalGapsAreExact(t *testing.T) {
	from := time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)
	for _, minutes := range []int{1, 5, 7, 15, 45, 60, 90, 120, 300, 480, 1440, 2880} {
		t.Run(strconv.Itoa(minutes), func(t *testing.T) {
			rec, err := Parse(timerRule(KindInterval, map[string]any{"minutes": minutes}), time.UTC)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			sched, err := cron.ParseStandard(rec.Spec())
			if err != nil {
				t.Fatalf("spec %q rejected by cron: %v", rec.Spec(), err)
			}
			want := time.Duration(minutes) * time.Minute
			prev := sched.Next(from)
			for i := 0; i < 6; i++ {
				next := sched.Next(prev)
				if gap := next.Sub(prev); gap != want {
					t.Fatalf("gap %d = %v, want %v (spec %q)", i, gap, want, rec.Spec())
				}
				prev = next
			}
		})
	}
}

func TestParse_DefaultLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	rec, err := Parse(timerRule(KindEveryDay, map[string]any{"time": "09:00"}), tokyo)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	sched, err := cron.ParseStandard(rec.Spec())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v (09:00 Tokyo)", next.UTC(), want)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		filter map[string]any
	}{
		{"daily without time", KindEveryDay, nil},
		{"daily bad time", KindEveryDay, map[string]any{"time": "25:00"}},
		{"weekly bad day", KindEveryWeek, map[string]any{"day": "someday", "time": "09:00"}},
		{"interval missing", KindInterval, nil},
		{"interval zero", KindInterval, map[string]any{"minutes": 0}},
		{"interval negative", KindInterval, map[string]any{"minutes": -30}},
		{"interval fractional", KindInterval, map[string]any{"minutes": 1.5}},
		{"interval text", KindInterval, map[string]any{"minutes": "often"}},
		{"custom garbage", KindCustom, map[string]any{"cron": "every tuesday"}},
		{"custom six fields", KindCustom, map[string]any{"cron": "0 0 9 * * *"}},
		{"custom descriptor", KindCustom, map[string]any{"cron": "@hourly"}},
		{"custom out of range", KindCustom, map[string]any{"cron": "61 * * * *"}},
		{"unknown timezone", KindEveryHour, map[string]any{"timezone": "Mars/Olympus"}},
		{"unknown kind", "every_fortnight", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(timerRule(tt.kind, tt.filter), time.UTC)
			if !engine.IsKind(err, engine.KindValidation) {
				t.Errorf("Parse() error = %v, want validation error", err)
			}
		})
	}
}

func TestParse_NotTimer(t *testing.T) {
	r := timerRule(KindEveryHour, nil)
	r.Action.Provider = "gmail"
	if _, err := Parse(r, time.UTC); err == nil {
		t.Error("expected error for non-timer rule")
	}
}
