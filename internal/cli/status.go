package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"zwboot/internal/config"
	"zwboot/internal/retention"
	"zwboot/internal/wake"
	logx "zwboot/pkg/logx"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the retained sleep cycle",
		Long: `Reads the retention store named in the config and prints the last
completed sleep cycle: duration, wake cause and raw ticks.

Example:
  zwboot status --config ./zwboot.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			tr, cfg, closeFn, err := openTracker(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()
			return out.Success(statusView{Report: tr.Report(), Driver: driverName(cfg.Retention.Driver)})
		},
	}
}

// openTracker loads the config and builds a wake tracker over its retention store.
func openTracker(ctx context.Context, opts *RootOptions) (*wake.Tracker, *config.Config, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewConfigManager(opts.Config).Load()
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	log := logx.Nop()
	if opts.Verbose {
		log = logx.NewWriter(logx.Stderr(), "debug")
	}
	rc, err := cfg.Retention.Resolve()
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "invalid retention config", err)
	}
	store, err := retention.Open(rc, log.With(logx.String("comp", "retention")))
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitFailure, "failed to open retention store", err)
	}
	tr, err := wake.New(ctx, store, wake.NewHostClock(cfg.Clock.TickHz, cfg.Clock.StartTick), wake.WithLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, WrapExitError(ExitFailure, "failed to read retention record", err)
	}
	return tr, cfg, func() { _ = store.Close() }, nil
}

func driverName(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return "memory"
	}
	return d
}

type statusView struct {
	wake.Report
	Driver string `json:"driver"`
}

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "retention: %s\n", v.Driver)
	if v.Asleep {
		fmt.Fprintf(&b, "sleeping:  since tick %d\n", v.SleepingSince)
	}
	if !v.Completed {
		b.WriteString("no completed sleep cycle")
		if v.Driver == "memory" {
			b.WriteString(" (memory store does not survive restarts)")
		}
		return b.String()
	}
	cause := "other (pin or reset)"
	if v.WokenByRtcc {
		cause = "rtcc timeout"
	}
	fmt.Fprintf(&b, "cycles:    %d\n", v.Cycles)
	fmt.Fprintf(&b, "slept:     %d ms (%d ticks @ %d Hz)\n", v.SleptMs, v.SleptTicks, v.TickHz)
	fmt.Fprintf(&b, "woken by:  %s\n", cause)
	fmt.Fprintf(&b, "ticks:     %d -> %d", v.TickBeforeSleep, v.TickAtWakeup)
	return b.String()
}
