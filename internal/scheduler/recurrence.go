package scheduler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/robfig/cron/v3"
)

// Timer action kinds.
const (
	KindEveryHour = "every_hour"
	KindEveryDay  = "every_day"
	KindEveryWeek = "every_week"
	KindInterval  = "interval"
	KindCustom    = "custom"
)

// Timer configuration keys read from a rule's action filter.
const (
	KeyTime     = "time"
	KeyDay      = "day"
	KeyMinutes  = "minutes"
	KeyCron     = "cron"
	KeyTimezone = "timezone"
)

// Variant is one of the closed set of recurrence shapes.
type Variant string

const (
	Hourly   Variant = "hourly"
	Daily    Variant = "daily"
	Weekly   Variant = "weekly"
	Interval Variant = "interval"
	Custom   Variant = "custom"
)

// Recurrence is a validated schedule description.
type Recurrence struct {
	Variant  Variant
	Hour     int
	Minute   int
	Weekday  time.Weekday
	Minutes  int
	Expr     string
	Location *time.Location
}

// Spec maps r to a robfig/cron spec string. It is pure: equal recurrences
// always yield equal specs. Intervals that a clock-aligned cron expression
// cannot repeat exactly use a constant @every delay instead.
func (r Recurrence) Spec() string {
	var expr string
	switch r.Variant {
	case Hourly:
		expr = "0 * * * *"
	case Daily:
		expr = fmt.Sprintf("%d %d * * *", r.Minute, r.Hour)
	case Weekly:
		expr = fmt.Sprintf("%d %d * * %d", r.Minute, r.Hour, int(r.Weekday))
	case Interval:
		hours := r.Minutes / 60
		switch {
		case r.Minutes < 60 && 60%r.Minutes == 0:
			expr = fmt.Sprintf("*/%d * * * *", r.Minutes)
		case r.Minutes == 24*60:
			expr = "0 0 * * *"
		case r.Minutes%60 == 0 && 24%hours == 0:
			expr = fmt.Sprintf("0 */%d * * *", hours)
		default:
			return fmt.Sprintf("@every %dm", r.Minutes)
		}
	case Custom:
		expr = r.Expr
	}
	return "CRON_TZ=" + r.location().String() + " " + expr
}

// String describes r for humans and for the timer payload.
func (r Recurrence) String() string {
	switch r.Variant {
	case Daily:
		return fmt.Sprintf("daily at %02d:%02d %s", r.Hour, r.Minute, r.location())
	case Weekly:
		return fmt.Sprintf("weekly on %s at %02d:%02d %s", r.Weekday, r.Hour, r.Minute, r.location())
	case Interval:
		return fmt.Sprintf("every %d minutes", r.Minutes)
	case Custom:
		return fmt.Sprintf("cron %q %s", r.Expr, r.location())
	default:
		return string(r.Variant)
	}
}

func (r Recurrence) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Parse builds the recurrence of a timer rule. def is the zone used when the
// rule names none. Any malformed input is a validation error.
func Parse(r *rule.Rule, def *time.Location) (Recurrence, error) {
	if !r.IsTimer() {
		return Recurrence{}, engine.ValidationErrorf("rule %q is not a timer rule", r.DisplayName())
	}
	filter := r.Action.Filter

	loc := def
	if tz, ok := stringKey(filter, KeyTimezone); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Recurrence{}, engine.ValidationErrorf("rule %q: unknown timezone %q", r.DisplayName(), tz)
		}
		loc = l
	}
	rec := Recurrence{Location: loc}

	switch r.Action.Kind {
	case KindEveryHour:
		rec.Variant = Hourly
	case KindEveryDay:
		rec.Variant = Daily
		h, m, err := clock(filter)
		if err != nil {
			return Recurrence{}, engine.ValidationErrorf("rule %q: %w", r.DisplayName(), err)
		}
		rec.Hour, rec.Minute = h, m
	case KindEveryWeek:
		rec.Variant = Weekly
		h, m, err := clock(filter)
		if err != nil {
			return Recurrence{}, engine.ValidationErrorf("rule %q: %w", r.DisplayName(), err)
		}
		day, _ := stringKey(filter, KeyDay)
		wd, ok := parseWeekday(day)
		if !ok {
			return Recurrence{}, engine.ValidationErrorf("rule %q: invalid day %q", r.DisplayName(), day)
		}
		rec.Hour, rec.Minute, rec.Weekday = h, m, wd
	case KindInterval:
		rec.Variant = Interval
		n, err := intKey(filter, KeyMinutes)
		if err != nil {
			return Recurrence{}, engine.ValidationErrorf("rule %q: %w", r.DisplayName(), err)
		}
		if n < 1 {
			return Recurrence{}, engine.ValidationErrorf("rule %q: interval must be at least 1 minute", r.DisplayName())
		}
		rec.Minutes = n
	case KindCustom:
		rec.Variant = Custom
		expr, _ := stringKey(filter, KeyCron)
		if err := validateExpr(expr); err != nil {
			return Recurrence{}, engine.ValidationErrorf("rule %q: %w", r.DisplayName(), err)
		}
		rec.Expr = strings.Join(strings.Fields(expr), " ")
	default:
		return Recurrence{}, engine.ValidationErrorf("rule %q: unknown timer kind %q", r.DisplayName(), r.Action.Kind)
	}
	return rec, nil
}

func validateExpr(expr string) error {
	if len(strings.Fields(expr)) != 5 {
		return fmt.Errorf("cron expression %q must have 5 fields", expr)
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

func clock(filter map[string]any) (int, int, error) {
	s, _ := stringKey(filter, KeyTime)
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}

func stringKey(filter map[string]any, key string) (string, bool) {
	v, ok := filter[key]
	if !ok || v == nil {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}

func intKey(filter map[string]any, key string) (int, error) {
	v, ok := filter[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s must be a whole number", key)
	}
}
