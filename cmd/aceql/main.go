// Package main implements the aceql command: a text-to-SQL agent that
// learns a playbook of rules from its own failures.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aceql",
		Short: "Self-improving text-to-SQL agent",
		Long: `aceql answers natural-language questions with SQL, executes the SQL
and, when a run fails or is marked incorrect, distills the failure into
rules stored in a persistent playbook that later runs read.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/aceql/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newTeachCmd(),
		newPlaybookCmd(),
		newIndexCmd(),
	)
	return root
}
