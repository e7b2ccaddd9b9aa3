package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"stylizer/internal/config"
	"stylizer/internal/logging"
	"stylizer/internal/services"
)

const (
	reasonTimedOut    = "timed out"
	reasonStopped     = "daemon stopped"
	persistTimeout    = 5 * time.Second
	stderrSummaryKeep = 512
)

// Request names the two staged files a job transforms.
type Request struct {
	Subject string
	Style   string
}

// Store persists job snapshots.
type Store interface {
	Save(ctx context.Context, job Job) error
}

// Observer receives job telemetry.
type Observer interface {
	JobStarted(kind string)
	JobFinished(kind, status string, duration time.Duration)
	StartRejected(reason string)
}

// Option customizes a Launcher.
type Option func(*Launcher)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(l *Launcher) {
		if exec != nil {
			l.exec = exec
		}
	}
}

// WithStore persists every state change.
func WithStore(store Store) Option {
	return func(l *Launcher) {
		if store != nil {
			l.store = store
		}
	}
}

// WithObserver attaches job telemetry.
func WithObserver(observer Observer) Option {
	return func(l *Launcher) {
		if observer != nil {
			l.observer = observer
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Launcher) {
		if now != nil {
			l.now = now
		}
	}
}

// Launcher starts transfer jobs and supervises them until they finish.
type Launcher struct {
	cfg      *config.Config
	registry *Registry
	exec     Executor
	store    Store
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	startMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewLauncher constructs a launcher. Supervision contexts derive from an
// internal root that Close cancels.
func NewLauncher(cfg *config.Config, logger *slog.Logger, opts ...Option) *Launcher {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Launcher{
		cfg:      cfg,
		registry: NewRegistry(cfg.Transfer.MaxRunning, cfg.Transfer.HistoryLimit),
		exec:     commandExecutor{},
		store:    nopStore{},
		observer: nopObserver{},
		logger:   logging.NewComponentLogger(logger, "transfer"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry exposes the read side of the job index.
func (l *Launcher) Registry() *Registry {
	return l.registry
}

// Start validates the request, spawns the process, and returns the running
// snapshot without waiting for completion. Spawn failures register nothing.
func (l *Launcher) Start(ctx context.Context, req Request) (Job, error) {
	subject, style, err := l.validate(req)
	if err != nil {
		l.observer.StartRejected("invalid")
		return Job{}, err
	}

	kind := Classify(subject, l.cfg.Transfer.VideoExtensions)
	binary, args := BuildCommand(l.cfg.Transfer, kind, subject, style)
	job := Job{
		ID:      uuid.NewString(),
		Key:     Key(subject, style),
		Kind:    kind,
		Status:  StatusRunning,
		Subject: subject,
		Style:   style,
		Argv:    append([]string{binary}, args...),
	}
	logger := logging.WithContext(services.WithJobID(ctx, job.ID), l.logger)

	l.startMu.Lock()
	defer l.startMu.Unlock()
	if l.closed {
		return Job{}, services.Wrap(services.ErrLaunch, "transfer", "start", "launcher is shut down", nil)
	}
	if err := l.registry.admit(job.Key); err != nil {
		l.observer.StartRejected("conflict")
		logger.Info("transfer start rejected",
			logging.String(logging.FieldEventType, "job_conflict"),
			logging.String("reason", err.Error()),
		)
		return Job{}, err
	}

	runCtx, cancelRun := l.ctx, context.CancelFunc(func() {})
	if secs := l.cfg.Transfer.TimeoutSeconds; secs > 0 {
		runCtx, cancelRun = context.WithTimeout(l.ctx, time.Duration(secs)*time.Second)
	}

	job.StartedAt = l.now()
	rec := newRecord(job)
	handlers := LineHandlers{
		Stdout: func(line string) {
			logger.Debug("transfer stdout", logging.String("line", line))
		},
		Stderr: func(line string) {
			line = strings.TrimSpace(line)
			if line == "" {
				return
			}
			_, _ = rec.update(func(j *Job) error {
				j.recordStderr(truncateTail(line, stderrSummaryKeep))
				return nil
			})
			logger.Debug("transfer stderr", logging.String("line", line))
		},
		ReadError: func(stream string, err error) {
			logging.WarnWithContext(logger, "transfer output read failed", "job_output_read_failed",
				logging.Error(err),
				logging.String("stream", stream),
				logging.String(logging.FieldImpact, "remaining output is discarded; exit status is unaffected"),
			)
		},
	}

	proc, err := l.exec.Start(runCtx, CommandSpec{Binary: binary, Args: args, Dir: l.cfg.Transfer.WorkingDir}, handlers)
	if err != nil {
		cancelRun()
		l.observer.StartRejected("spawn")
		logging.ErrorWithContext(logger, "transfer spawn failed", "job_spawn_failed",
			logging.Error(err),
			logging.String("binary", binary),
			logging.String(logging.FieldErrorHint, "check transfer.command and transfer.working_dir"),
		)
		return Job{}, services.Wrap(services.ErrLaunch, "transfer", "spawn", binary, err)
	}

	l.registry.insert(rec)
	l.observer.JobStarted(string(kind))
	snapshot := rec.snapshot()
	l.persist(logger, snapshot)
	logger.Info("transfer started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("kind", string(kind)),
		logging.String("subject", subject),
		logging.String("style", style),
		logging.Int("pid", proc.PID()),
		logging.String("argv", strings.Join(snapshot.Argv, " ")),
	)

	l.wg.Add(1)
	go l.supervise(runCtx, cancelRun, rec, proc, logger)
	return snapshot, nil
}

func (l *Launcher) supervise(ctx context.Context, cancel context.CancelFunc, rec *record, proc Process, logger *slog.Logger) {
	defer l.wg.Done()
	defer cancel()

	code, waitErr := proc.Wait()
	finishedAt := l.now()

	final, err := rec.update(func(j *Job) error {
		switch {
		case waitErr == nil && code == 0:
			return j.complete(l.outputPath(j.Kind), finishedAt)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return j.fail(fmt.Sprintf("%s after %ds", reasonTimedOut, l.cfg.Transfer.TimeoutSeconds), exitCodePtr(code, waitErr), finishedAt)
		case errors.Is(ctx.Err(), context.Canceled):
			return j.fail(reasonStopped, exitCodePtr(code, waitErr), finishedAt)
		case waitErr != nil:
			return j.fail(waitErr.Error(), nil, finishedAt)
		default:
			reason := ""
			if j.ErrorMessage == nil || strings.TrimSpace(*j.ErrorMessage) == "" {
				reason = fmt.Sprintf("exited with code %d", code)
				if code < 0 {
					reason = "terminated by signal"
				}
			}
			return j.fail(reason, exitCodePtr(code, nil), finishedAt)
		}
	})
	if err != nil {
		logger.Error("transfer state transition rejected", logging.Error(err))
		return
	}
	l.registry.release(final.ID, final.Key)

	duration := final.Duration(finishedAt)
	l.observer.JobFinished(string(final.Kind), string(final.Status), duration)
	l.persist(logger, final)

	if final.Status == StatusCompleted {
		logger.Info("transfer completed",
			logging.String(logging.FieldEventType, "job_completed"),
			logging.String("kind", string(final.Kind)),
			logging.String("output_path", final.OutputPath),
			logging.Duration("duration", duration),
		)
		return
	}
	exitCode := "none"
	if final.ExitCode != nil {
		exitCode = fmt.Sprint(*final.ExitCode)
	}
	logging.WarnWithContext(logger, "transfer failed", "job_failed",
		logging.String("kind", string(final.Kind)),
		logging.String("error", final.FailureMessage()),
		logging.String("exit_code", exitCode),
		logging.Duration("duration", duration),
		logging.String(logging.FieldErrorHint, "inspect the transfer script output in the daemon log"),
		logging.String(logging.FieldImpact, "no output artifact was produced"),
	)
}

func (l *Launcher) persist(logger *slog.Logger, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := l.store.Save(ctx, job); err != nil {
		logging.WarnWithContext(logger, "job history write failed", "job_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database in log_dir"),
			logging.String(logging.FieldImpact, "job state will not survive a restart"),
		)
	}
}

func (l *Launcher) validate(req Request) (string, string, error) {
	subject := strings.TrimSpace(req.Subject)
	style := strings.TrimSpace(req.Style)
	if subject == "" || style == "" {
		return "", "", services.Wrap(services.ErrLaunch, "transfer", "validate", "expected a subject and a style path", nil)
	}
	if !l.cfg.Transfer.RestrictToUploadDir {
		return subject, style, nil
	}
	root := filepath.Clean(l.cfg.Paths.UploadDir)
	check := func(label, path string) (string, error) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", services.Wrap(services.ErrLaunch, "transfer", "validate", label, err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", services.Wrap(services.ErrLaunch, "transfer", "validate", label+" is outside the upload area", nil)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", services.Wrap(services.ErrLaunch, "transfer", "validate", label+" does not exist", err)
		}
		if !info.Mode().IsRegular() {
			return "", services.Wrap(services.ErrLaunch, "transfer", "validate", label+" is not a regular file", nil)
		}
		return abs, nil
	}
	var err error
	if subject, err = check("subject", subject); err != nil {
		return "", "", err
	}
	if style, err = check("style", style); err != nil {
		return "", "", err
	}
	return subject, style, nil
}

func (l *Launcher) outputPath(kind Kind) string {
	if kind == KindVideo {
		return l.cfg.ResolveOutput(l.cfg.Transfer.VideoOutput)
	}
	return l.cfg.ResolveOutput(l.cfg.Transfer.ImageOutput)
}

// Get returns a snapshot of the job with id.
func (l *Launcher) Get(id string) (Job, error) {
	job, ok := l.registry.Get(id)
	if !ok {
		return Job{}, services.Wrap(services.ErrNotFound, "transfer", "get", "job "+id, nil)
	}
	return job, nil
}

// Latest returns the most recently started job.
func (l *Launcher) Latest() (Job, bool) {
	return l.registry.Latest()
}

// List returns up to limit jobs, newest first.
func (l *Launcher) List(limit int) []Job {
	return l.registry.List(limit)
}

// Running returns the number of jobs currently running.
func (l *Launcher) Running() int {
	return l.registry.Running()
}

// Wait blocks until the job is terminal or ctx is done.
func (l *Launcher) Wait(ctx context.Context, id string) (Job, error) {
	rec, ok := l.registry.lookup(id)
	if !ok {
		return Job{}, services.Wrap(services.ErrNotFound, "transfer", "wait", "job "+id, nil)
	}
	select {
	case <-rec.done:
		return rec.snapshot(), nil
	case <-ctx.Done():
		return rec.snapshot(), ctx.Err()
	}
}

// Restore seeds the registry with persisted history.
func (l *Launcher) Restore(jobs []Job) {
	l.registry.restore(jobs)
}

// Close kills running processes, waits for their supervisors to record the
// "daemon stopped" failure, and refuses further starts.
func (l *Launcher) Close() {
	l.startMu.Lock()
	l.closed = true
	l.startMu.Unlock()
	l.cancel()
	l.wg.Wait()
}

func exitCodePtr(code int, err error) *int {
	if err != nil || code < 0 {
		return nil
	}
	return &code
}

// truncateTail keeps at most the last n bytes of s, starting on a rune boundary.
func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

type nopStore struct{}

func (nopStore) Save(context.Context, Job) error { return nil }

type nopObserver struct{}

func (nopObserver) JobStarted(string) {}

func (nopObserver) JobFinished(string, string, time.Duration) {}

func (nopObserver) StartRejected(string) {}
