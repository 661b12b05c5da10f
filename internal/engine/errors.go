package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind string

const (
	// KindConfig is an unknown provider or reaction kind, or bad reaction
	// parameters. Not retryable; the rule needs editing.
	KindConfig Kind = "config_error"
	// KindAuth means the owner is not authenticated or the token is invalid.
	KindAuth Kind = "auth_error"
	// KindExecution is a failed adapter call. The next firing retries it.
	KindExecution Kind = "execution_error"
	// KindValidation is a malformed rule, rejected before scheduling.
	KindValidation Kind = "validation_error"
)

// Error is an engine failure tagged with its Kind. RuleID is set once the
// failure is attributed to a rule.
type Error struct {
	Kind   Kind
	RuleID string
	Err    error
}

func (e *Error) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s: rule %s: %v", e.Kind, e.RuleID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigErrorf formats a KindConfig error.
func ConfigErrorf(format string, args ...any) error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// AuthErrorf formats a KindAuth error.
func AuthErrorf(format string, args ...any) error {
	return &Error{Kind: KindAuth, Err: fmt.Errorf(format, args...)}
}

// ExecutionErrorf formats a KindExecution error.
func ExecutionErrorf(format string, args ...any) error {
	return &Error{Kind: KindExecution, Err: fmt.Errorf(format, args...)}
}

// ValidationErrorf formats a KindValidation error.
func ValidationErrorf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// withKind tags err with k unless it already carries a kind.
func withKind(err error, k Kind) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	return &Error{Kind: k, Err: err}
}

// attribute stamps ruleID on err's *Error if it has none yet.
func attribute(err error, ruleID string) error {
	var e *Error
	if errors.As(err, &e) && e.RuleID == "" {
		e.RuleID = ruleID
	}
	return err
}
