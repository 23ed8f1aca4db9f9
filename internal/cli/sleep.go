package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zwboot/internal/app"
	logx "zwboot/pkg/logx"
)

// SleepOptions holds flags for the sleep command.
type SleepOptions struct {
	*RootOptions
	Duration time.Duration
}

func NewSleepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SleepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Simulate one deep-sleep cycle against the retention store",
		Long: `Enters sleep, waits for the RTCC timeout (or until interrupted, which
counts as a reset wake), then records the wake in the retention store.

Example:
  zwboot sleep --config ./zwboot.yaml --duration 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			tr, cfg, closeFn, err := openTracker(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeFn()

			d := opts.Duration
			if d <= 0 {
				d = cfg.Sleep.RtccTimeoutOrDefault()
			}
			cyc, err := app.NewSleepCycler("", d, tr, logx.Nop())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid sleep duration", err)
			}
			if _, err := tr.ResumeInterrupted(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "failed to complete interrupted sleep cycle", err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			rep, err := cyc.Cycle(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "sleep cycle failed", err)
			}
			return out.Success(statusView{Report: rep, Driver: driverName(cfg.Retention.Driver)})
		},
	}
	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "sleep length (default: sleep.rtcc_timeout)")
	return cmd
}
