package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/colebrumley/areamgr/internal/state"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ruleID  string
		owner   string
		outcome string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent rule executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"rule": ruleID, "owner": owner, "outcome": outcome} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/history"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var records []state.ExecutionRecord
			if err := call(cmd.Context(), rootOpts, http.MethodGet, path, nil, &records); err != nil {
				return err
			}
			return emit(cmd, rootOpts, records, func(w io.Writer) error {
				if len(records) == 0 {
					fmt.Fprintln(w, "No executions recorded")
					return nil
				}
				tw := table(w)
				fmt.Fprintln(tw, "STARTED\tRULE\tTRIGGER\tREACTION\tOUTCOME\tDURATION\tERROR")
				for _, r := range records {
					name := r.RuleName
					if name == "" {
						name = r.RuleID
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						r.StartedAt.Local().Format(time.DateTime), name, r.Trigger, r.Reaction, r.Outcome,
						time.Duration(r.DurationMs)*time.Millisecond, orDash(r.Error))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "only executions of this rule id")
	cmd.Flags().StringVar(&owner, "owner", "", "only executions for this owner id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "success, config_error, auth_error or execution_error")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum records (daemon default 50)")
	return cmd
}
