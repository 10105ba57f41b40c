package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/metrics"
	"github.com/curately/workalloc/pkg/engine"
	"github.com/curately/workalloc/store/postgres"
)

// SweepCmd returns the sweep command, which repairs the assignment index
// against the authoritative work item documents.
func SweepCmd() *cobra.Command {
	var (
		dsn         string
		interval    time.Duration
		sweepRate   float64
		sweepBatch  int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Repair the assignment index against the work item documents",
		Long: `Scan the assignment index and remove entries whose work item no longer
records the indexed owner. With --interval, runs continuously until
interrupted; otherwise performs a single pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = viper.GetString("dsn")
			}
			if dsn == "" {
				return fmt.Errorf("no DSN provided (use --dsn or WORKALLOC_DSN)")
			}

			logger := workalloc.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			eng, err := engine.New(
				engine.WithStore(postgres.New(db)),
				engine.WithSweepPacing(rate.Limit(sweepRate), sweepBatch),
				engine.WithLogger(logger),
				engine.WithMetricsCollector(metrics.NewCollector()),
			)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}

			ctx := cmd.Context()

			if metricsAddr != "" {
				srv := metrics.NewServer(metricsAddr)
				srv.Start()
				defer func() { _ = srv.Shutdown(ctx) }()
				logger.Info("metrics server listening", "addr", metricsAddr)
			}

			for {
				removed, err := eng.SweepIndex(ctx)
				if err != nil {
					return fmt.Errorf("sweep failed: %w", err)
				}
				logger.Info("sweep pass complete", "removed", removed)

				if interval <= 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (or WORKALLOC_DSN)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Interval between sweep passes (0 runs a single pass)")
	cmd.Flags().Float64Var(&sweepRate, "sweep-rate", 100, "Maximum index reads per second during a sweep")
	cmd.Flags().IntVar(&sweepBatch, "sweep-batch", 1000, "Maximum index entries examined per sweep pass")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus metrics endpoint (empty disables)")

	return cmd
}
