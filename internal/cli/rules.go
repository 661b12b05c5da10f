package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// ruleView is the daemon's view of a rule.
type ruleView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Owner         string     `json:"owner"`
	Enabled       bool       `json:"enabled"`
	Trigger       string     `json:"trigger"`
	Reaction      string     `json:"reaction"`
	Source        string     `json:"source,omitempty"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	LastOutcome   string     `json:"last_outcome,omitempty"`
}

// runResult is the outcome of a manual run.
type runResult struct {
	RuleID     string `json:"rule_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/rules"
			if owner != "" {
				path += "?owner=" + url.QueryEscape(owner)
			}
			var rules []ruleView
			if err := call(cmd.Context(), rootOpts, http.MethodGet, path, nil, &rules); err != nil {
				return err
			}
			return emit(cmd, rootOpts, rules, func(w io.Writer) error {
				if len(rules) == 0 {
					fmt.Fprintln(w, "No rules found")
					return nil
				}
				tw := table(w)
				fmt.Fprintln(tw, "ID\tNAME\tOWNER\tENABLED\tTRIGGER\tREACTION\tNEXT RUN\tLAST")
				for _, r := range rules {
					next := "-"
					if r.NextRun != nil {
						next = r.NextRun.Local().Format(time.DateTime)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Name, r.Owner, yesNo(r.Enabled), r.Trigger, r.Reaction, next, orDash(r.LastOutcome))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only list rules owned by this owner id")
	return cmd
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "run <rule-id>",
		Short: "Fire a rule's reaction now",
		Long: `Run a rule's reaction through the daemon, bypassing its trigger. The
optional --payload JSON object is what reaction parameters are rendered
against.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if payload != "" {
				var obj map[string]any
				if err := json.Unmarshal([]byte(payload), &obj); err != nil {
					return fmt.Errorf("--payload must be a JSON object: %w", err)
				}
				if obj == nil {
					return fmt.Errorf("--payload must be a JSON object")
				}
				body = obj
			}
			var res runResult
			if err := call(cmd.Context(), rootOpts, http.MethodPost, ruleURL(args[0], "run"), body, &res); err != nil {
				return err
			}
			err := emit(cmd, rootOpts, res, func(w io.Writer) error {
				fmt.Fprintf(w, "%s: %s (%dms)\n", res.RuleID, res.Status, res.DurationMs)
				if res.Error != "" {
					fmt.Fprintf(w, "error: %s\n", res.Error)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if res.Status != "success" {
				return fmt.Errorf("rule %s finished with %s", args[0], res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "event payload as a JSON object")
	return cmd
}

// NewEnableCommand creates the enable command.
func NewEnableCommand(rootOpts *RootOptions) *cobra.Command {
	return toggleCommand(rootOpts, "enable", "Enable a rule")
}

// NewDisableCommand creates the disable command.
func NewDisableCommand(rootOpts *RootOptions) *cobra.Command {
	return toggleCommand(rootOpts, "disable", "Disable a rule; a timer rule stops firing at once")
}

func toggleCommand(rootOpts *RootOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r ruleView
			if err := call(cmd.Context(), rootOpts, http.MethodPost, ruleURL(args[0], verb), nil, &r); err != nil {
				return err
			}
			return emit(cmd, rootOpts, r, func(w io.Writer) error {
				fmt.Fprintf(w, "Rule %s %sd\n", r.Name, verb)
				return nil
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule from the daemon",
		Long: `Delete a rule. A rule seeded from the rules directory comes back on the
next reload unless its file is removed too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(cmd.Context(), rootOpts, http.MethodDelete, ruleURL(args[0], ""), nil, nil); err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]string{"deleted": args[0]}, func(w io.Writer) error {
				fmt.Fprintf(w, "Deleted rule %s\n", args[0])
				return nil
			})
		},
	}
}

func ruleURL(id, verb string) string {
	p := "/api/rules/" + url.PathEscape(id)
	if verb != "" {
		p += "/" + verb
	}
	return p
}
