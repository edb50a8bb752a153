package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"convertio/internal/app"
	"convertio/internal/job"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		format  string
		budget  int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "convert FILE...",
		Short: "Convert files once and wait for every result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *base
			if strings.TrimSpace(format) != "" {
				cfg.Conversion.Format = strings.TrimPrefix(strings.TrimSpace(format), ".")
			}
			if budget > 0 {
				cfg.Scheduler.Budget = "fixed"
				cfg.Scheduler.Fixed = budget
				if cfg.Scheduler.Max < budget {
					cfg.Scheduler.Max = budget
				}
			}
			// console logs would interleave with the progress display
			cfg.Logging.Console = false

			runCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if timeout > 0 {
				var tc context.CancelFunc
				runCtx, tc = context.WithTimeout(runCtx, timeout)
				defer tc()
			}

			a, err := app.New(app.Options{Config: &cfg, OneShot: true})
			if err != nil {
				return err
			}
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
				defer stop()
				_ = a.Stop(stopCtx, app.StopOneShot)
			}()
			if err := a.Start(runCtx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			p := newProgressPrinter(out, isTerminal(out))
			views, err := a.Convert(runCtx, args, p.update)
			p.finish()
			if len(views) > 0 {
				fmt.Fprintln(out, renderResults(args, views))
			}
			if err != nil {
				return err
			}
			failed := 0
			for _, v := range views {
				if v.Status.State != job.StateExported {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d conversions failed", failed, len(views))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Target format extension (overrides config)")
	cmd.Flags().IntVarP(&budget, "jobs", "j", 0, "Run at most this many conversions at once (fixed budget)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

// progressPrinter redraws one line per job on a terminal and stays silent otherwise.
type progressPrinter struct {
	w     io.Writer
	tty   bool
	lines int
}

func newProgressPrinter(w io.Writer, tty bool) *progressPrinter {
	return &progressPrinter{w: w, tty: tty}
}

func (p *progressPrinter) update(views []job.View) {
	if !p.tty {
		return
	}
	if p.lines > 0 {
		fmt.Fprintf(p.w, "\x1b[%dA", p.lines)
	}
	for _, v := range views {
		fmt.Fprintf(p.w, "\x1b[2K%-36s  %s\n", shortName(v.Request.SourcePath), v.Status.Label())
	}
	p.lines = len(views)
}

func (p *progressPrinter) finish() {
	if p.tty && p.lines > 0 {
		fmt.Fprintln(p.w)
	}
}

func renderResults(args []string, views []job.View) string {
	rows := make([][]string, 0, len(views))
	for i, v := range views {
		src := args[i]
		if v.ID == "" {
			rows = append(rows, []string{shortName(src), "unknown", "", "", ""})
			continue
		}
		detail := v.OutputPath
		if v.Status.Err != nil {
			detail = errorDetail(v.Status.Err)
		}
		rows = append(rows, []string{shortName(src), v.Status.Label(), v.Size, v.Duration, detail})
	}
	return renderTable(
		[]string{"Source", "Status", "Size", "Took", "Output / Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func errorDetail(err error) string {
	var conv *job.ConversionError
	if errors.As(err, &conv) {
		return "conversion: " + conv.Cause.Error()
	}
	return err.Error()
}

func shortName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
