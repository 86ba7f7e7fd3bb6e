package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions são flags globais.
type rootOptions struct {
	Format string // "json" | "text"
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "lotguard",
		Short: "Enforces per-participant lot leadership limits in live auctions",
		Long: `lotguard consumes bid events from the auction engine, keeps an atomic ledger
of which participant leads each lot and suspends participants in the
registration system when they reach their limit.

Configuration is read from the environment (REDIS_ADDR, DATABASE_URL,
REGISTRY_BASE_URL, ...).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newDeadLetterCommand(opts))
	cmd.AddCommand(newReviewCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSnapshotCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	return cmd
}
