package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/colebrumley/areamgr/internal/config"
)

// initResult lists what init created.
type initResult struct {
	Created []string `json:"created"`
	Config  string   `json:"config"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file and data directories",
		Long: `Create the rules directory, the data directory and a default config.yaml.
An existing config file is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, rootOpts)
		},
	}
}

func runInit(cmd *cobra.Command, opts *RootOptions) error {
	cfg := config.Default()
	if existing, err := config.LoadGlobal(opts.ConfigPath); err == nil {
		cfg = existing
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	res := initResult{Config: opts.ConfigPath}
	for _, dir := range []string{filepath.Dir(opts.ConfigPath), opts.RulesDir, cfg.Daemon.DataDir, cfg.Daemon.LogDir} {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		res.Created = append(res.Created, dir)
	}

	if _, err := os.Stat(opts.ConfigPath); errors.Is(err, fs.ErrNotExist) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.ConfigPath, data, 0600); err != nil {
			return err
		}
		res.Created = append(res.Created, opts.ConfigPath)
	}

	return emit(cmd, opts, res, func(w io.Writer) error {
		for _, p := range res.Created {
			fmt.Fprintf(w, "Created %s\n", p)
		}
		fmt.Fprintf(w, "\nInitialization complete. Add rules to: %s\n", opts.RulesDir)
		return nil
	})
}
