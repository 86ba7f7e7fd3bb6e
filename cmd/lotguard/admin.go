package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit/application"
	"lotlimit-enforcer/enforcement/lotlimit/domain"

	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newDeadLetterCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and requeue jobs that exhausted their retries",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			dls, err := a.queue.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if root.Format == "json" {
				return printJSON(out, dls)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tKIND\tATTEMPTS\tREASON\tLAST ERROR")
			for _, dl := range dls {
				job, _ := domain.DecodeJob(dl.Job)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					dl.At.Format(time.RFC3339), job.Kind, job.Attempts, dl.Reason, job.LastError)
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64Var(&limit, "limit", 50, "maximum entries to show")

	var n int
	requeue := &cobra.Command{
		Use:   "requeue",
		Short: "Move the oldest dead-lettered jobs back to the retry queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			moved, err := a.queue.Requeue(cmd.Context(), n)
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", moved)
			return err
		},
	}
	requeue.Flags().IntVarP(&n, "count", "n", 1, "how many jobs to requeue")

	cmd.AddCommand(list, requeue)
	return cmd
}

func newReviewCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect the manual review queue",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List review items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.queue.Reviews(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if root.Format == "json" {
				return printJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tREASON\tAUCTION\tPARTICIPANT\tLOT\tBID")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					it.CreatedAt.Format(time.RFC3339), it.Reason, it.AuctionID, it.ParticipantID, it.LotID, it.BidID)
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64Var(&limit, "limit", 50, "maximum entries to show")

	cmd.AddCommand(list)
	return cmd
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	var (
		refresh bool
		enforce bool
	)

	cmd := &cobra.Command{
		Use:   "status AUCTION PARTICIPANT...",
		Short: "Show active leads, limit and registration status of participants",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, needs{database: true, registry: refresh})
			if err != nil {
				return err
			}
			defer a.Close()

			auctionID, ids := args[0], args[1:]
			var sts []application.ParticipantStatus
			if refresh {
				for _, id := range ids {
					st, err := a.enforcer.RefreshLimit(ctx, auctionID, id, application.RefreshOptions{Enforce: enforce, Actor: application.ActorAdmin})
					if err != nil {
						return err
					}
					sts = append(sts, st)
				}
			} else if sts, err = a.enforcer.StatusMany(ctx, auctionID, ids); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.Format == "json" {
				return printJSON(out, sts)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTICIPANT\tLEADS\tLIMIT\tSTATUS\tLAST SYNCED")
			for _, st := range sts {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", st.ParticipantID, st.ActiveLeads, st.Limit, st.Status, st.LastSynced)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-read the limit from the database and reevaluate")
	cmd.Flags().BoolVar(&enforce, "enforce", false, "with --refresh, also suspend participants at or over the limit")
	return cmd
}

func newSnapshotCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot AUCTION",
		Short: "Dump lot leaders and per-participant lead counts of an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.ledger.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			suspended, err := a.state.Suspended(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.Format == "json" {
				return printJSON(out, map[string]any{"ledger": snap, "suspended": suspended})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LOT\tLEADER\tBID")
			for _, l := range snap.Lots {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", l.LotID, l.LeaderID, l.BidID)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "PARTICIPANT\tLEADS")
			for _, p := range sortedKeys(snap.Counts) {
				fmt.Fprintf(tw, "%s\t%d\n", p, snap.Counts[p])
			}
			fmt.Fprintf(tw, "\nsuspended: %v\n", suspended)
			return tw.Flush()
		},
	}
}

func newStatsCommand(root *rootOptions) *cobra.Command {
	var auctionID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ingestion outcome counters recorded in Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.redisStats == nil {
				return errors.New("STATS_ENABLED is false")
			}

			var counters map[string]int64
			if auctionID != "" {
				counters, err = a.redisStats.Auction(cmd.Context(), auctionID)
			} else {
				counters, err = a.redisStats.Totals(cmd.Context())
			}
			if err != nil {
				return err
			}
			pending, err := a.queue.Pending(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.Format == "json" {
				return printJSON(out, map[string]any{"counters": counters, "retryPending": pending})
			}
			for _, k := range sortedKeys(counters) {
				fmt.Fprintf(out, "%-12s %d\n", k, counters[k])
			}
			fmt.Fprintf(out, "%-12s %d\n", "retryPending", pending)
			return nil
		},
	}
	cmd.Flags().StringVar(&auctionID, "auction", "", "restrict to one auction")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
