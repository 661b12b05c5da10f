package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/security"
)

// fileResult is the validation result for one rule file.
type fileResult struct {
	File  string `json:"file"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate rule files without a running daemon",
		Long: `Parse and check rule seed files. With no arguments every rule file in
the rules directory is checked. Provider-specific parameters are checked by
the daemon when the rule is saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions, files []string) error {
	if len(files) == 0 {
		entries, err := os.ReadDir(opts.RulesDir)
		if err != nil {
			return fmt.Errorf("reading rules directory: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && config.IsRuleFile(e.Name()) {
				files = append(files, filepath.Join(opts.RulesDir, e.Name()))
			}
		}
	}

	results := make([]fileResult, 0, len(files))
	invalid := 0
	for _, f := range files {
		res := fileResult{File: f, Valid: true}
		r, err := config.LoadRule(f)
		if err == nil {
			res.ID, res.Name = r.ID, r.Name
			err = errors.Join(config.ValidateRule(r), security.ValidateFilePermissions(f))
		}
		if err != nil {
			res.Valid = false
			res.Error = err.Error()
			invalid++
		}
		results = append(results, res)
	}

	err := emit(cmd, opts, results, func(w io.Writer) error {
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(w, "ok       %s (%s)\n", res.File, res.Name)
			} else {
				fmt.Fprintf(w, "invalid  %s: %s\n", res.File, res.Error)
			}
		}
		fmt.Fprintf(w, "Validated %d rules, %d invalid\n", len(results), invalid)
		return nil
	})
	if err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d invalid rule file(s)", invalid)
	}
	return nil
}
