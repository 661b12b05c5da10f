// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/scheduler"
)

// ValidateRule checks a rule seed without consulting the provider registry:
// required fields are present and timer recurrences parse.
func ValidateRule(r *rule.Rule) error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("rule name is required"))
	}
	if r.OwnerID == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if r.Action.Provider == "" {
		errs = append(errs, errors.New("action provider is required"))
	}
	if r.Action.Kind == "" {
		errs = append(errs, errors.New("action kind is required"))
	}
	if r.Reaction.Provider == "" {
		errs = append(errs, errors.New("reaction provider is required"))
	}
	if r.Reaction.Kind == "" {
		errs = append(errs, errors.New("reaction kind is required"))
	}
	if r.Reaction.Provider == rule.TimerProvider {
		errs = append(errs, errors.New("timer has no reactions"))
	}
	if r.IsTimer() && r.Action.Kind != "" {
		if _, err := scheduler.Parse(r, time.UTC); err != nil {
			errs = append(errs, fmt.Errorf("recurrence: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks values that have no usable default.
func (g *Global) Validate() error {
	var errs []error
	if _, err := g.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.default_timezone: %w", err))
	}
	if g.Daemon.ListenPort < 0 || g.Daemon.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("daemon.listen_port %d out of range", g.Daemon.ListenPort))
	}
	switch g.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", g.Logging.Format))
	}
	return errors.Join(errs...)
}
