// Command nowcast runs fire-spread ensemble nowcasts and manages their
// stored outputs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"emberguide.ai/internal/logging"
	"emberguide.ai/internal/sim/simerr"
	"emberguide.ai/internal/telemetry"
)

type app struct {
	logLevel string
	dev      bool

	logger   *zap.Logger
	shutdown func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode: 3 for a determinism violation, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, simerr.ErrDeterminismViolation) {
		return 3
	}
	return 1
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "nowcast",
		Short:         "Probabilistic fire-spread ensemble nowcasts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Level: a.logLevel, Development: a.dev})
			if err != nil {
				return err
			}
			a.logger = logger
			shutdown, err := telemetry.Setup(cmd.Context(), "nowcast")
			if err != nil {
				a.logger.Warn("telemetry disabled", zap.Error(err))
			}
			a.shutdown = shutdown
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.shutdown != nil {
				if err := a.shutdown(context.Background()); err != nil {
					a.logger.Warn("telemetry shutdown", zap.Error(err))
				}
			}
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.dev, "dev", false, "human-readable console logs")

	root.AddCommand(newRunCmd(a), newReplayCmd(a), newInspectCmd(a))
	return root
}
