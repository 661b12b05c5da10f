package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/state"
)

// NewCredentialsCommand creates the credentials command group.
func NewCredentialsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage per-owner provider credentials in the state database",
		Long: `Store or remove the credentials an owner's rules use for a provider, e.g.
a GitHub token or OAuth tokens for Gmail and Spotify. The daemon reads them
the next time it authenticates that owner; restart it to rotate a token
already in use.`,
	}
	cmd.AddCommand(newCredentialsSetCommand(rootOpts))
	cmd.AddCommand(newCredentialsDeleteCommand(rootOpts))
	return cmd
}

func newCredentialsSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <owner> <provider> key=value...",
		Short:   "Store credentials, replacing any already stored",
		Example: "  areamgr credentials set alice github token=ghp_xxx",
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := parseCredentials(args[2:])
			if err != nil {
				return err
			}
			db, err := openState(rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.PutCredentials(cmd.Context(), args[0], args[1], creds); err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]any{"owner": args[0], "provider": args[1], "keys": len(creds)}, func(w io.Writer) error {
				fmt.Fprintf(w, "Stored %d %s credential(s) for %s\n", len(creds), args[1], args[0])
				return nil
			})
		},
	}
}

func newCredentialsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <owner> <provider>",
		Short: "Remove stored credentials",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openState(rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteCredentials(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]string{"owner": args[0], "provider": args[1]}, func(w io.Writer) error {
				fmt.Fprintf(w, "Removed %s credentials for %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func parseCredentials(pairs []string) (registry.Credentials, error) {
	creds := make(registry.Credentials, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid credential %q: want key=value", p)
		}
		creds[k] = v
	}
	return creds, nil
}

// openState opens the state database named by the config file, falling back
// to defaults when no config exists yet.
func openState(opts *RootOptions) (*state.DB, error) {
	cfg, err := config.LoadGlobal(opts.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}
	return state.Open(filepath.Join(cfg.Daemon.DataDir, "state.db"))
}
