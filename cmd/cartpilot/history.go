package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cartpilot/internal/config"
	"cartpilot/internal/locale"
	"cartpilot/internal/timing"
)

func newHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history [platform]",
		Short: "Show average step times from past sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := locale.InitLocale(cfg.LangDir); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: locale initialization failed, using message keys: %v\n", err)
			}

			var platform string
			if len(args) > 0 {
				platform = strings.ToLower(strings.TrimSpace(args[0]))
			}
			return printHistory(cmd.OutOrStdout(), cfg.HistoryDB, platform)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	return cmd
}

// printHistory writes per-operation averages for platform, or for every platform
// when it is empty.
func printHistory(w io.Writer, dbPath, platform string) error {
	store, err := timing.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.CountSessions(platform)
	if err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	scope := platform
	if scope == "" {
		scope = "all"
	}
	fmt.Fprintln(w, locale.T("history_header", scope, n))
	if n == 0 {
		fmt.Fprintln(w, locale.T("history_empty"))
		return nil
	}

	stats, err := store.Stats(platform)
	if err != nil {
		return err
	}
	for _, st := range stats {
		fmt.Fprintf(w, "   %-20s %4d runs %4d failed  avg %.2fs\n", st.Operation, st.Runs, st.Failures, st.Average.Seconds())
	}
	return nil
}
