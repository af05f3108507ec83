// Command battminer processes battery cycler test logs: it classifies the
// equipment family from the directory layout, loads every channel, merges
// them, and optionally labels, exports, plots and summarizes the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"battminer/internal/app"
)

var logger *zap.Logger

var cfg = app.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "battminer [data-path]",
	Short: "Battery cycler test log processor",
	Long: `Processes raw battery cycler output directories (PNE and Toyo
equipment) into merged, labeled CSV datasets with optional Parquet
export, plots and summary statistics.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if cfg.Verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringSliceVar(&cfg.Channels, "channels", nil, "process only the named channels")
	f.StringVar(&cfg.OutputDir, "output-dir", "", "output directory (default <data-path>/processed_data)")
	f.BoolVar(&cfg.ExportCSV, "export-csv", false, "export processed data to CSV")
	f.BoolVar(&cfg.ExportParquet, "export-parquet", false, "export merged data to Parquet")
	f.BoolVar(&cfg.Visualize, "visualize", false, "render plots of the merged data")
	f.StringSliceVar(&cfg.Plots, "plots", nil, "plot kinds to render: voltage_current, capacity_fade, statistics, channels (default all)")
	f.BoolVar(&cfg.ShowSummary, "summary", false, "print summary statistics")
	noLabeling := f.Bool("no-labeling", false, "skip label inference on Toyo exports")
	f.Float64Var(&cfg.RatedCapacityMAh, "rated-capacity", 0, "rated capacity in mAh (default parsed from the directory name)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")

	cobra.OnInitialize(func() {
		cfg.Labeling = !*noLabeling
	})
}

func run(cmd *cobra.Command, args []string) error {
	cfg.DataPath = args[0]

	app.LoadEnv(logger)
	cfg.ApplyEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	progress := mpb.New(mpb.WithOutput(os.Stderr))
	proc, err := app.NewProcessor(cfg, logger, app.WithProgress(progress))
	if err != nil {
		return err
	}

	if err := proc.LoadData(ctx); err != nil {
		if errors.Is(err, app.ErrNoData) {
			logger.Warn("nothing to process", zap.Error(err))
			progress.Wait()
			return nil
		}
		return err
	}
	progress.Wait()

	if cfg.ExportCSV {
		files, err := proc.ExportCSV()
		if err != nil {
			return err
		}
		logger.Info("csv export complete", zap.Int("files", len(files)))
	}

	if cfg.ExportParquet {
		path, err := proc.ExportParquet()
		if err != nil {
			return err
		}
		if path != "" {
			logger.Info("parquet export complete", zap.String("path", path))
		}
	}

	if cfg.Visualize {
		files, err := proc.Visualize()
		if err != nil {
			return err
		}
		logger.Info("visualization complete", zap.Int("plots", len(files)))
	}

	if cfg.ShowSummary {
		stats, err := proc.SummaryStats()
		if err != nil {
			return err
		}
		fmt.Println(stats.String())
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
