package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"stylizer/internal/config"
	"stylizer/internal/deps"
	"stylizer/internal/ingest"
	"stylizer/internal/logging"
	"stylizer/internal/metrics"
	"stylizer/internal/preflight"
	"stylizer/internal/staging"
	"stylizer/internal/transfer"
)

const janitorInterval = time.Hour

// JobHistory is the persistent side of the job registry.
type JobHistory interface {
	Stats(ctx context.Context) (map[transfer.Status]int, error)
	Prune(ctx context.Context, keep int) (int64, error)
	Path() string
}

// Daemon serves the HTTP API and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	launcher *transfer.Launcher
	ingest   *ingest.Service
	history  JobHistory
	metrics  *metrics.Recorder

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Address      string
	LockFilePath string
	JobDBPath    string
	RunningJobs  int
	JobCounts    map[transfer.Status]int
	Latest       *transfer.Job
	Dependencies []deps.Status
	Checks       []preflight.Result
	Uploads      []staging.DirInfo
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithJobHistory attaches the persistent job store used for status counts and pruning.
func WithJobHistory(history JobHistory) Option {
	return func(d *Daemon) {
		d.history = history
	}
}

// WithMetrics exposes recorder on /metrics and feeds it HTTP observations.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(d *Daemon) {
		d.metrics = recorder
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, launcher *transfer.Launcher, ingestSvc *ingest.Service, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || launcher == nil || ingestSvc == nil {
		return nil, errors.New("daemon requires config, launcher, and ingest service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		launcher: launcher,
		ingest:   ingestSvc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.server = newAPIServer(cfg.Paths.APIBind, d, logger)
	return d, nil
}

// Start acquires the daemon lock, binds the API listener, and launches the
// server and janitor goroutines. It returns once the listener is bound.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stylizer daemon instance is already running")
	}

	if err := d.server.listen(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return d.server.serve()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		d.server.shutdown()
		return nil
	})
	group.Go(func() error {
		d.janitor(groupCtx)
		return nil
	})

	d.cancel = cancel
	d.group = group
	d.running.Store(true)
	d.logger.Info("stylizer daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.address()),
		logging.String("upload_dir", d.cfg.Paths.UploadDir),
	)
	return nil
}

// Wait blocks until the server goroutines exit and returns the first error.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop shuts the API down and releases the daemon lock. Running jobs are left
// to the launcher's own shutdown.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			d.logger.Warn("api server exited with error", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("stylizer daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Run starts the daemon and blocks until ctx is cancelled or the server fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	err := d.Wait()
	d.Stop()
	return err
}

// Addr returns the bound API address, or "" before Start.
func (d *Daemon) Addr() string {
	return d.server.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.server.address(),
		LockFilePath: d.lockPath,
		RunningJobs:  d.launcher.Running(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
		Checks:       preflight.RunAll(d.cfg),
	}
	if latest, ok := d.launcher.Latest(); ok {
		status.Latest = &latest
	}
	if d.history != nil {
		status.JobDBPath = d.history.Path()
		if counts, err := d.history.Stats(ctx); err == nil {
			status.JobCounts = counts
		} else {
			d.logger.Warn("job stats unavailable", logging.Error(err))
		}
	}
	if status.JobCounts == nil {
		status.JobCounts = make(map[transfer.Status]int)
		for _, job := range d.launcher.List(0) {
			status.JobCounts[job.Status]++
		}
	}
	if uploads, err := staging.ListDirectories(d.cfg.Paths.UploadDir); err == nil {
		status.Uploads = uploads
	}
	return status
}

func (d *Daemon) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		d.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) sweep(ctx context.Context) {
	if days := d.cfg.Upload.RetentionDays; days > 0 {
		result := staging.CleanStale(ctx, d.cfg.Paths.UploadDir, days, time.Now(), d.logger)
		if len(result.Removed) > 0 || len(result.Errors) > 0 {
			d.logger.Info("upload retention sweep finished",
				logging.String(logging.FieldEventType, "upload_retention"),
				logging.Int("removed", len(result.Removed)),
				logging.Int("errors", len(result.Errors)),
			)
		}
	}
	if d.history != nil {
		removed, err := d.history.Prune(ctx, d.cfg.Transfer.HistoryLimit)
		if err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "job history prune failed", "job_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the job database in log_dir"),
			)
		} else if removed > 0 {
			d.logger.Debug("job history pruned", logging.Int64("removed", removed))
		}
	}
}
