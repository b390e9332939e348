package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"beaconoracle.com/internal/oracle/config"
	"beaconoracle.com/pkg/bootstrap"
	pkgconfig "beaconoracle.com/pkg/config"
	"beaconoracle.com/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var flagConfigFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          config.ServiceName,
		Short:        "Keeps the beacon oracle contract anchored at every block interval boundary",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "",
		"config file (default ./config/oracle-operator.yaml, optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the anchoring loop until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runLoop,
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single anchoring cycle and exit",
			Args:  cobra.NoArgs,
			RunE:  runOnce,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println(config.ServiceName, version)
			},
		},
	)
	return root
}

func runLoop(cmd *cobra.Command, _ []string) error {
	cfg, v, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}

	return bootstrap.Run(cmd.Context(), bootstrap.Options{
		ServiceName:   cfg.Name,
		LogLevel:      cfg.Log.Level,
		LogFile:       cfg.Log.File,
		TraceEndpoint: cfg.Trace.Endpoint,
		MetricsAddr:   cfg.Metrics.Addr,
		PprofAddr:     cfg.Pprof.Addr,
		Run: func(ctx context.Context) error {
			pkgconfig.Watch(v, func(name string) {
				logger.Warn(ctx, "config file changed, restart the operator to apply it", zap.String("file", name))
			})

			op, err := newOperator(ctx, cfg)
			if err != nil {
				return err
			}
			defer op.Close(ctx)

			return op.scheduler.Run(ctx)
		},
	})
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, _, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}

	return bootstrap.Run(cmd.Context(), bootstrap.Options{
		ServiceName:   cfg.Name,
		LogLevel:      cfg.Log.Level,
		LogFile:       cfg.Log.File,
		TraceEndpoint: cfg.Trace.Endpoint,
		Run: func(ctx context.Context) error {
			op, err := newOperator(ctx, cfg)
			if err != nil {
				return err
			}
			defer op.Close(ctx)

			res := op.scheduler.RunCycle(ctx)
			fields := []zap.Field{
				zap.String("stage", string(res.Stage)),
				zap.Uint64("height", res.Height),
				zap.Uint64("last_anchored", res.LastAnchored),
			}
			if res.Candidate != nil {
				fields = append(fields, zap.Uint64("boundary", res.Candidate.Boundary))
			}
			if res.Outcome != nil && res.Outcome.TxHash != nil {
				fields = append(fields, zap.String("tx_hash", res.Outcome.TxHash.Hex()))
			}
			if res.Err != nil {
				fields = append(fields, zap.Error(res.Err))
			}
			if res.Err == nil {
				logger.Info(ctx, "cycle finished", fields...)
			} else {
				logger.Error(ctx, "cycle finished", fields...)
			}
			return nil
		},
	})
}
