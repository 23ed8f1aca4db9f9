package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zwboot/internal/app"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StopTimeout time.Duration

	// AppOptions are passed to app.NewApp (for testing).
	AppOptions []app.Option
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the application task and run until signalled",
		Long: `Registers the application task, creates and attaches it, starts the
scheduler and, when enabled, the sleep cycler. Notifies systemd once the
scheduler is running. Any registration error is fatal.

Example:
  zwboot run --config ./zwboot.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.StopTimeout, "stop-timeout", 10*time.Second, "graceful shutdown limit")
	return cmd
}

func runApp(ctx context.Context, opts *RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.NewApp(opts.Config, opts.AppOptions...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	stop := func(reason app.StopReason) error {
		sctx, cancel := context.WithTimeout(context.Background(), opts.StopTimeout)
		defer cancel()
		return a.Stop(sctx, reason)
	}

	if err := a.Start(ctx); err != nil {
		_ = stop(app.StopFatalError)
		return WrapExitError(ExitFailure, "boot failed", err)
	}

	reason := app.StopAppStop
	select {
	case s := <-sigs:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		if ctx.Err() == nil {
			reason = app.StopTaskFailure
		}
	case <-ctx.Done():
	}

	runErr := a.Err()
	if err := stop(reason); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "stopped with error", runErr)
	}
	return nil
}
