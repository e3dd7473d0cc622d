package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oarkflow/deimos"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "deimos",
		Short:         "Keep a local blockchain client running and up to date",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportError(cmd, runWatchdog(cmd.Context(), opts))
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to YAML or JSON configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log download progress and other debug output")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Supervise the client (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return reportError(cmd, runWatchdog(cmd.Context(), opts))
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Compare the installed client with the latest release and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return reportError(cmd, runCheck(cmd.Context(), cmd, opts))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the watchdog version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// reportError prints err to the command's error stream. Errors are silenced
// in cobra so usage is not dumped for runtime failures.
func reportError(cmd *cobra.Command, err error) error {
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

func loadConfig(opts *rootOptions) (*deimos.Config, error) {
	cfg, err := deimos.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func runWatchdog(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	closer, err := deimos.SetupLogging(cfg.LogFile, cfg.Verbose)
	if err != nil {
		return err
	}
	defer closer.Close()
	if ctx == nil {
		ctx = context.Background()
	}
	return deimos.Run(ctx, cfg)
}

type checkReport struct {
	Installed string `json:"installed,omitempty"`
	Available string `json:"available"`
	URL       string `json:"url"`
	UpToDate  bool   `json:"upToDate"`
}

func runCheck(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	source := deimos.NewDescriptorSource(cfg.DescriptorURL, cfg.LocalDescriptor, cfg.ProbeTimeout.Std())
	d, err := source.Resolve(ctx)
	if err != nil {
		return err
	}
	report := checkReport{Available: d.Version, URL: d.URL}
	store := deimos.NewInstaller(cfg.BinDir, cfg.Tool, cfg.Keyring, cfg.QueryTimeout.Std())
	if installed, err := store.InstalledVersion(ctx); err == nil {
		report.Installed = installed
		report.UpToDate = deimos.CompareVersions(installed, d.Version) == 0
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
