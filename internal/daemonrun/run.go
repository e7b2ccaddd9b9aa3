package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stylizer/internal/config"
	"stylizer/internal/daemon"
	"stylizer/internal/ingest"
	"stylizer/internal/jobstore"
	"stylizer/internal/logging"
	"stylizer/internal/metrics"
	"stylizer/internal/preflight"
	"stylizer/internal/storage"
	"stylizer/internal/transfer"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the stylizer daemon and blocks until SIGINT/SIGTERM or a fatal
// server error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    filepath.Join(cfg.Paths.LogDir, "stylizer.log"),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.LogDir, "stylizer.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	history, err := recoverHistory(signalCtx, store, cfg, logger)
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if recorder, err = metrics.New(reg); err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	launcher := transfer.NewLauncher(cfg, logger,
		transfer.WithStore(store),
		transfer.WithObserver(recorder),
	)
	defer launcher.Close()
	launcher.Restore(history)

	ingestSvc := ingest.NewService(storage.NewArea(cfg.Paths.UploadDir), ingest.OptionsFromConfig(cfg), logger, recorder)

	d, err := daemon.New(cfg, launcher, ingestSvc, logger,
		daemon.WithJobHistory(store),
		daemon.WithMetrics(recorder),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Run(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon stopped with error", "daemon_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.api_bind and that no other daemon owns log_dir"),
		)
		return err
	}
	logger.Info("stylizer daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// recoverHistory fails jobs orphaned by a previous daemon and loads recent
// history for the in-memory registry.
func recoverHistory(ctx context.Context, store *jobstore.Store, cfg *config.Config, logger *slog.Logger) ([]transfer.Job, error) {
	interrupted, err := store.MarkInterrupted(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if interrupted > 0 {
		logging.WarnWithContext(logger, "previous daemon left jobs running", "jobs_interrupted",
			logging.Int64("jobs", interrupted),
			logging.String(logging.FieldImpact, "interrupted jobs are reported as failed and must be resubmitted"),
		)
	}
	jobs, err := store.List(ctx, cfg.Transfer.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "dependency_snapshot"),
			logging.String("dependency", dep.Name),
			logging.String("command", dep.Command),
			logging.Bool("available", dep.Available),
		}
		if dep.Available {
			logger.Info("dependency snapshot", logging.Args(attrs...)...)
			continue
		}
		attrs = append(attrs,
			logging.String("detail", dep.Detail),
			logging.String(logging.FieldErrorHint, "set transfer.command and transfer.working_dir"),
			logging.String(logging.FieldImpact, "transfer jobs will fail to start"),
		)
		logging.WarnWithContext(logger, "dependency missing", "dependency_missing", attrs...)
	}
	for _, res := range preflight.Failed(preflight.RunAll(cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", res.Name),
			logging.String("detail", res.Detail),
		)
	}
}
