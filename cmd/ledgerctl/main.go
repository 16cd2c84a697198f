// Command ledgerctl runs operator tasks against the coordinator: orphan
// audits, link resolution, manual review and corruption clears.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the ledger and document store coordinator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print results as JSON")

	rootCmd.AddCommand(auditCmd(opts))
	rootCmd.AddCommand(resolveCmd(opts))
	rootCmd.AddCommand(reviewCmd(opts))
	rootCmd.AddCommand(clearCorruptCmd(opts))
	rootCmd.AddCommand(repairCmd(opts))
	rootCmd.AddCommand(processCmd(opts))

	return rootCmd
}
