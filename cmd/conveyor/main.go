package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/generate"
	"github.com/vireodata/conveyor/internal/ingest"
	"github.com/vireodata/conveyor/internal/monitor"
	"github.com/vireodata/conveyor/internal/pipeline"
	"github.com/vireodata/conveyor/internal/quality"
	"github.com/vireodata/conveyor/internal/schedule"
	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/internal/transform"
	"github.com/vireodata/conveyor/pkg/config"
	"github.com/vireodata/conveyor/pkg/logger"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile, logLevel string
	var seed int64

	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor - E-commerce warehouse ETL pipeline",
		Long: `Conveyor moves synthetic e-commerce data through a complete warehouse
pipeline: generation, staging ingestion, quality validation, production
transformation, warehouse load, and analytics extraction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{
				Level:    logLevel,
				Encoding: "json",
			})
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config/config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Conveyor v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				return runPipeline(ctx, cfg, st, seed)
			})
		},
	})

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the raw CSV extracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			gen := generate.NewGenerator(cfg.DataGeneration, seed, logger.Get())
			_, err = gen.Generate(cfg.Paths.RawDir)
			return err
		},
	}
	generateCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 seeds from the clock)")
	root.AddCommand(generateCmd)

	root.AddCommand(&cobra.Command{
		Use:   "ingest",
		Short: "Load the raw CSVs into staging",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				loader := ingest.NewLoader(st, logger.Get())
				summary, loadErr := loader.Load(ctx, cfg.Paths.RawDir)
				if summary != nil {
					if err := loader.WriteSummary(summary, cfg.Paths.StagingDir); err != nil {
						logger.Error("failed to write ingestion summary", zap.Error(err))
					}
				}
				return loadErr
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Run the data quality checks against staging",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				validator := quality.NewValidator(st, logger.Get())
				report, err := validator.Validate(ctx)
				if err != nil {
					return err
				}
				return validator.WriteReport(report, cfg.Paths.QualityDir)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "transform",
		Short: "Transform staging data into production",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				transformer := transform.NewTransformer(st, logger.Get())
				summary, err := transformer.Transform(ctx)
				if err != nil {
					return err
				}
				return transformer.WriteSummary(summary, cfg.Paths.ProcessedDir)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "warehouse",
		Short: "Rebuild the warehouse star schema from production",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				return transform.NewWarehouseLoader(st, logger.Get()).Load(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "analytics",
		Short: "Run the analytics queries and export their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				analytics := transform.NewAnalytics(st, logger.Get())
				_, err := analytics.Generate(ctx, analyticsDir(cfg))
				return err
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "monitor",
		Short: "Run the pipeline health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				mon := monitor.NewMonitor(st, cfg.Paths.ProcessedDir, logger.Get())
				report, err := mon.Run(ctx)
				if err != nil {
					return err
				}
				return mon.WriteReport(report)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete data files older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cleaner := schedule.NewCleaner(
				[]string{cfg.Paths.RawDir, cfg.Paths.StagingDir, cfg.Paths.LogsDir},
				cfg.Retention.Days, logger.Get())
			_, err = cleaner.Run()
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline daily at the configured time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			scheduler, err := schedule.NewScheduler(cfg.Pipeline.ScheduleAt, func(ctx context.Context) {
				err := withStore(ctx, configFile, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
					return runPipeline(ctx, cfg, st, 0)
				})
				if err != nil {
					logger.Error("scheduled pipeline run failed", zap.Error(err))
				}
			}, logger.Get())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			scheduler.Run(ctx)
			return nil
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configFile); err == nil {
				return fmt.Errorf("config file %s already exists", configFile)
			}
			if dir := filepath.Dir(configFile); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := config.Save(configFile, config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", configFile)
			return nil
		},
	})
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// withStore loads config, opens the store, and hands both to fn.
func withStore(ctx context.Context, configFile string, fn func(context.Context, *config.Config, *store.Store) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, cfg, st)
}

// runPipeline wires every stage in execution order and runs the
// orchestrator once.
func runPipeline(ctx context.Context, cfg *config.Config, st *store.Store, seed int64) error {
	log := logger.Get()

	gen := generate.NewGenerator(cfg.DataGeneration, seed, log)
	loader := ingest.NewLoader(st, log)
	validator := quality.NewValidator(st, log)
	transformer := transform.NewTransformer(st, log)
	warehouse := transform.NewWarehouseLoader(st, log)
	analytics := transform.NewAnalytics(st, log)

	stages := []pipeline.Stage{
		pipeline.NewStage("data_generation", func(ctx context.Context) error {
			_, err := gen.Generate(cfg.Paths.RawDir)
			return err
		}),
		pipeline.NewStage("data_ingestion", func(ctx context.Context) error {
			summary, loadErr := loader.Load(ctx, cfg.Paths.RawDir)
			if summary != nil {
				if err := loader.WriteSummary(summary, cfg.Paths.StagingDir); err != nil {
					log.Error("failed to write ingestion summary", zap.Error(err))
				}
			}
			return loadErr
		}),
		pipeline.NewStage("data_quality", func(ctx context.Context) error {
			report, err := validator.Validate(ctx)
			if err != nil {
				return err
			}
			return validator.WriteReport(report, cfg.Paths.QualityDir)
		}),
		pipeline.NewStage("staging_to_production", func(ctx context.Context) error {
			summary, err := transformer.Transform(ctx)
			if err != nil {
				return err
			}
			return transformer.WriteSummary(summary, cfg.Paths.ProcessedDir)
		}),
		pipeline.NewStage("warehouse_load", func(ctx context.Context) error {
			return warehouse.Load(ctx)
		}),
		pipeline.NewStage("analytics_generation", func(ctx context.Context) error {
			_, err := analytics.Generate(ctx, analyticsDir(cfg))
			return err
		}),
	}

	runner := pipeline.NewRunner(cfg.Pipeline.MaxRetries, log)
	orchestrator := pipeline.NewOrchestrator(stages, runner, cfg.Paths.ProcessedDir, log)

	run := orchestrator.Run(ctx)
	if run.Status == pipeline.StatusFailed {
		return fmt.Errorf("pipeline run %s failed", run.ID)
	}
	return nil
}

func analyticsDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.ProcessedDir, "analytics")
}
