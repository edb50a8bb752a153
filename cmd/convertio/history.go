package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"convertio/internal/config"
	"convertio/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	histCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune finished conversions",
	}
	histCmd.AddCommand(newHistoryListCommand(ctx))
	histCmd.AddCommand(newHistoryPruneCommand(ctx))
	return histCmd
}

func openHistory(ctx *commandContext) (history.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	hc := cfg.History
	if hc == nil {
		return nil, errors.New("history is not configured")
	}
	st, err := history.Open(history.Config{
		Driver:      hc.Driver,
		Path:        config.ExpandPath(hc.Path),
		BusyTimeout: config.Duration(hc.BusyTimeout, time.Second),
	}, nopLogger())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("history is disabled")
	}
	return st, nil
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent conversions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No conversions recorded.")
				return nil
			}
			fmt.Fprintln(out, renderHistory(recs, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func renderHistory(recs []history.Record, now time.Time) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		took := "-"
		if r.TookMS > 0 {
			took = r.Took().Round(time.Millisecond).String()
		}
		detail := r.Output
		if r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{
			humanize.RelTime(r.EndedAt, now, "ago", "from now"),
			shortName(r.Source),
			r.Status,
			humanize.IBytes(uint64(max(r.Size, 0))),
			took,
			detail,
		})
	}
	return renderTable(
		[]string{"Ended", "Source", "Status", "Size", "Took", "Output / Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete records that ended before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			st, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", humanize.Comma(int64(n))+" "+plural(n, "record", "records"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove records older than this")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
