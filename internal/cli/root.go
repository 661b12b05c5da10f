// Package cli implements the areamgr operator command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/colebrumley/areamgr/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	RulesDir   string
	Addr       string // daemon API base URL
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

const defaultAddr = "http://127.0.0.1:9876"

// NewRootCommand creates the root command for the areamgr CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "areamgr",
		Short: "areamgr - when this happens there, do that here",
		Long: `Operate an areamgrd daemon: seed and validate rules, inspect execution
history and fire rules by hand.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultConfigPath(), "path to config.yaml")
	cmd.PersistentFlags().StringVar(&opts.RulesDir, "rules-dir", config.DefaultRulesDir(), "rule seed directory")
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", defaultAddr, "daemon API address")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEnableCommand(opts))
	cmd.AddCommand(NewDisableCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewCredentialsCommand(opts))

	return cmd
}
