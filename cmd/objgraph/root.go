package main

import (
	"fmt"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Neumenon/objgraph/internal/config"
	"github.com/Neumenon/objgraph/stream"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// newRootCmd builds the command tree. Loading the config and attaching the
// logger happen before any subcommand runs.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "objgraph",
		Short:         "Inspect, reformat and frame object-graph streams",
		Long:          `objgraph works on the text streams produced by the objgraph serializer: it reformats them, lists and validates their entries, and packs sessions into framed files.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			level := cfg.LogLevel()
			if verbose {
				level = charmlog.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), level)
			logger.Debug("config loaded", "path", configPath, "format", cfg.Output.Format, "policy", cfg.Input.ErrorPolicy)

			ctx := withConfig(withLogger(cmd.Context(), logger), cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetVersionTemplate("objgraph {{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: .objgraph/config.{yaml,toml} above the working directory)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newFmtCmd())
	root.AddCommand(newEntriesCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newPackCmd())
	root.AddCommand(newUnpackCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return config.LoadFromPath(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	return config.Load(wd)
}

// openInput opens the single optional file argument, or stdin.
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, string, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), "<stdin>", nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("open input: %w", err)
	}
	return f, args[0], nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "objgraph %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "stream envelope v%d\n", stream.Version)
		},
	}
}
