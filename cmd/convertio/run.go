package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"convertio/internal/app"
	"convertio/pkg/logx"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the conversion daemon (inbox, janitor, config reload)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(app.Options{ConfigPath: ctx.configPath(), Config: cfg})
			if err != nil {
				return err
			}
			if err := a.Start(sigCtx); err != nil {
				stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
				defer stop()
				return errors.Join(err, a.Stop(stopCtx, app.StopFatalError))
			}

			log := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "systemd"))
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				log.Warn("sd_notify ready failed", logx.Err(err))
			} else if ok {
				log.Debug("notified systemd ready")
			}
			go watchdog(sigCtx, log)

			select {
			case <-sigCtx.Done():
			case <-a.Done():
			}
			reason := app.StopSIGTERM
			if sigCtx.Err() == nil {
				reason = app.StopFatalError
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
			defer stop()
			stopErr := a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return errors.Join(a.Err(), stopErr)
			}
			return stopErr
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "Upper bound for graceful shutdown")
	return cmd
}

// watchdog pings systemd at half the configured WatchdogSec. It is a no-op when the
// unit has no watchdog.
func watchdog(ctx context.Context, log logx.Logger) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
