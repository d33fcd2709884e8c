// Command stepflow executes a plan file as a workflow: it builds the
// dependency graph, runs steps through a shell executor and persists the run
// record to the configured store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/JuanCS-Dev/stepflow/config"
	"github.com/JuanCS-Dev/stepflow/internal/telemetry"
	"github.com/JuanCS-Dev/stepflow/store"
	"github.com/JuanCS-Dev/stepflow/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stepflow:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config YAML")
		planPath   = flag.String("plan", "plan.yaml", "path to plan YAML")
		autoYes    = flag.Bool("yes", false, "approve all steps without prompting")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	steps, err := loadPlan(*planPath)
	if err != nil {
		return err
	}
	graph, err := workflow.BuildGraph(steps)
	if err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	runStore, err := openRunStore(cfg.Store, logger)
	if err != nil {
		return err
	}

	var approvals workflow.ApprovalGate
	if !*autoYes {
		approvals = &promptGate{}
	}

	sched := workflow.NewScheduler(newShellExecutor(logger), workflow.SchedulerConfig{
		Approvals: approvals,
		Retry: workflow.RetryPolicy{
			BaseDelay:       cfg.Retry.BaseDelay,
			MaxDelay:        cfg.Retry.MaxDelay,
			ExponentialBase: cfg.Retry.ExponentialBase,
			Jitter:          cfg.Retry.Jitter,
		},
		Breaker: workflow.BreakerConfig{
			FailureThreshold:  cfg.Breaker.FailureThreshold,
			RecoveryTimeout:   cfg.Breaker.RecoveryTimeout,
			SuccessThreshold:  cfg.Breaker.SuccessThreshold,
			HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
		},
		Sinks:  []workflow.EventSink{workflow.NewZapEventSink(logger)},
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := workflow.Options{
		EnableRollback:      cfg.Scheduler.EnableRollback,
		EnableCheckpoints:   cfg.Scheduler.EnableCheckpoints,
		MaxAttemptsPerStep:  cfg.Scheduler.MaxAttemptsPerStep,
		GlobalTimeout:       cfg.Scheduler.GlobalTimeout,
		StepTimeout:         cfg.Scheduler.StepTimeout,
		MaxParallel:         cfg.Scheduler.MaxParallel,
		CheckpointInterval:  cfg.Scheduler.CheckpointInterval,
		ContinueOnAbandoned: cfg.Scheduler.ContinueOnAbandoned,
	}

	wfRun, runErr := sched.Execute(ctx, graph, opts)
	if wfRun != nil && runStore != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runStore.Save(saveCtx, store.SnapshotRun(wfRun, graph)); err != nil {
			logger.Warn("failed to persist run record", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	category, explanation := wfRun.FinalFailure()
	switch wfRun.Phase() {
	case workflow.PhaseSucceeded:
		fmt.Printf("run %s succeeded: %d steps completed\n", wfRun.ID, len(wfRun.Completed()))
		return nil
	case workflow.PhaseAborted:
		fmt.Printf("run %s aborted (%s): %s\n", wfRun.ID, category, explanation)
		if undone := wfRun.UndoneSteps(); len(undone) > 0 {
			fmt.Printf("rolled back steps: %v\n", undone)
		}
		return fmt.Errorf("run aborted")
	default:
		fmt.Printf("run %s failed (%s): %s\n", wfRun.ID, category, explanation)
		return fmt.Errorf("run failed")
	}
}

func openRunStore(cfg config.StoreConfig, logger *zap.Logger) (store.RunStore, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.Path), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLite.Path, err)
		}
		return store.NewGormStore(db, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
