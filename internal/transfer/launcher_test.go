package transfer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stylizer/internal/config"
	"stylizer/internal/logging"
	"stylizer/internal/services"
	"stylizer/internal/testsupport"
	"stylizer/internal/transfer"
)

func newLauncher(t *testing.T, cfg *config.Config, opts ...transfer.Option) *transfer.Launcher {
	t.Helper()
	l := transfer.NewLauncher(cfg, logging.NewNop(), opts...)
	t.Cleanup(l.Close)
	return l
}

func waitJob(t *testing.T, l *transfer.Launcher, id string) transfer.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := l.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return job
}

func stagePair(t *testing.T, cfg *config.Config, subjectName string) (string, string) {
	t.Helper()
	return testsupport.StageFile(t, cfg.Paths.UploadDir, subjectName, 16),
		testsupport.StageFile(t, cfg.Paths.UploadDir, "style-"+subjectName+".png", 16)
}

// blockingScript waits for the release file before exiting 0.
func blockingScript(release string) string {
	return fmt.Sprintf("while [ ! -f %q ]; do sleep 0.05; done\nexit 0\n", release)
}

func TestStartReturnsRunningThenCompletesWithImageMarker(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(`[ "$1" = "--image" ] || exit 3
[ "$3" = "--style" ] || exit 4
echo "styling $2"
exit 0
`))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != transfer.StatusRunning || job.Marker() != "" || job.ErrorMessage != nil || job.OutputMessage != nil {
		t.Fatalf("unexpected initial snapshot %+v", job)
	}
	if job.Kind != transfer.KindImage {
		t.Fatalf("kind = %s", job.Kind)
	}

	done := waitJob(t, l, job.ID)
	if done.Status != transfer.StatusCompleted {
		t.Fatalf("status = %s (error %v)", done.Status, done.FailureMessage())
	}
	if done.Marker() != "--image" {
		t.Fatalf("marker = %q", done.Marker())
	}
	if done.ExitCode == nil || *done.ExitCode != 0 {
		t.Fatalf("exit code = %v", done.ExitCode)
	}
	if want := filepath.Join(cfg.Transfer.WorkingDir, "output", "image.png"); done.OutputPath != want {
		t.Fatalf("output path = %q, want %q", done.OutputPath, want)
	}
	if done.FinishedAt == nil || done.FinishedAt.Before(done.StartedAt) {
		t.Fatalf("unexpected finish time %v", done.FinishedAt)
	}
}

func TestMP4SubjectRunsVideoMode(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(`[ "$1" = "--video" ] || exit 3
exit 0
`))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "clip.mp4")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.Marker() != "--video" {
		t.Fatalf("marker = %q status=%s err=%q", done.Marker(), done.Status, done.FailureMessage())
	}
	if !strings.HasSuffix(done.OutputPath, filepath.Join("output", "movie.mp4")) {
		t.Fatalf("output path = %q", done.OutputPath)
	}
}

func TestNonZeroExitFailsWithLastStderrLine(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(`echo "loading model" >&2
echo "CUDA out of memory" >&2
exit 1
`))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.Status != transfer.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.FailureMessage() != "CUDA out of memory" {
		t.Fatalf("failure message = %q", done.FailureMessage())
	}
	if done.ExitCode == nil || *done.ExitCode != 1 {
		t.Fatalf("exit code = %v", done.ExitCode)
	}
	if done.Marker() != "" {
		t.Fatalf("failed job must not carry a marker, got %q", done.Marker())
	}
}

func TestNonZeroExitWithoutStderrDescribesExit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript("exit 2\n"))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.FailureMessage() != "exited with code 2" {
		t.Fatalf("failure message = %q", done.FailureMessage())
	}
}

func TestTrailingBlankStderrKeepsLastMessage(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(`printf 'ValueError: bad style\n\n   \n' >&2
exit 1
`))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.Status != transfer.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.FailureMessage() != "ValueError: bad style" {
		t.Fatalf("failure message = %q", done.FailureMessage())
	}
}

func TestOversizedOutputLineStillCompletes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(`head -c 1200000 /dev/zero | tr '\0' x
echo
head -c 1200000 /dev/zero | tr '\0' y >&2
exit 0
`))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.Status != transfer.StatusCompleted {
		t.Fatalf("status = %s failure = %q", done.Status, done.FailureMessage())
	}
	if done.ExitCode == nil || *done.ExitCode != 0 {
		t.Fatalf("exit code = %v", done.ExitCode)
	}
	if done.ErrorMessage == nil || len(*done.ErrorMessage) > 512 {
		t.Fatalf("stderr summary must be retained and bounded, got %v", done.ErrorMessage)
	}
}

func TestStderrOnSuccessDoesNotFail(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(`i=1
while [ $i -le 50 ]; do echo "warning $i" >&2; i=$((i+1)); done
exit 0
`))
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.Status != transfer.StatusCompleted {
		t.Fatalf("status = %s", done.Status)
	}
	if done.FailureMessage() != "" {
		t.Fatalf("completed job must expose no failure, got %q", done.FailureMessage())
	}
	if done.ErrorMessage == nil || *done.ErrorMessage != "warning 50" {
		t.Fatalf("expected last stderr line retained, got %v", done.ErrorMessage)
	}
}

func TestPathsWithSpacesArriveIntact(t *testing.T) {
	base := t.TempDir()
	argsFile := filepath.Join(base, "args.txt")
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(fmt.Sprintf(`printf '%%s\n' "$2" "$4" > %q
exit 0
`, argsFile)))
	l := newLauncher(t, cfg)
	subject := testsupport.StageFile(t, cfg.Paths.UploadDir, "my cat.png", 4)
	style := testsupport.StageFile(t, cfg.Paths.UploadDir, "starry night.png", 4)

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitJob(t, l, job.ID)

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got := string(data); got != subject+"\n"+style+"\n" {
		t.Fatalf("script saw %q", got)
	}
}

func TestSameKeyConflictsAndGlobalLimit(t *testing.T) {
	release := filepath.Join(t.TempDir(), "release")
	cfg := testsupport.NewConfig(t,
		testsupport.WithTransferScript(blockingScript(release)),
		testsupport.WithMaxRunning(1),
	)
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")
	other, otherStyle := stagePair(t, cfg, "dog.png")

	first, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for same key, got %v", err)
	}
	_, err = l.Start(context.Background(), transfer.Request{Subject: other, Style: otherStyle})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict from global limit, got %v", err)
	}
	if services.HTTPStatus(err) != 409 {
		t.Fatalf("expected 409, got %d", services.HTTPStatus(err))
	}

	if err := os.WriteFile(release, nil, 0o644); err != nil {
		t.Fatalf("release: %v", err)
	}
	waitJob(t, l, first.ID)

	again, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
	waitJob(t, l, again.ID)
}

func TestDistinctKeysRunConcurrentlyWhenAllowed(t *testing.T) {
	release := filepath.Join(t.TempDir(), "release")
	cfg := testsupport.NewConfig(t,
		testsupport.WithTransferScript(blockingScript(release)),
		testsupport.WithMaxRunning(0),
	)
	l := newLauncher(t, cfg)

	var ids []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		subject, style := stagePair(t, cfg, name)
		job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
		if err != nil {
			t.Fatalf("Start %s: %v", name, err)
		}
		ids = append(ids, job.ID)
	}
	if l.Running() != 3 {
		t.Fatalf("expected 3 running jobs, got %d", l.Running())
	}
	latest, ok := l.Latest()
	if !ok || latest.ID != ids[2] {
		t.Fatalf("latest should be the last started job")
	}

	if err := os.WriteFile(release, nil, 0o644); err != nil {
		t.Fatalf("release: %v", err)
	}
	for _, id := range ids {
		if job := waitJob(t, l, id); job.Status != transfer.StatusCompleted {
			t.Fatalf("job %s status %s", id, job.Status)
		}
	}
	if l.Running() != 0 {
		t.Fatalf("expected no running jobs, got %d", l.Running())
	}
	if jobs := l.List(2); len(jobs) != 2 || jobs[0].ID != ids[2] || jobs[1].ID != ids[1] {
		t.Fatalf("List(2) should return newest first")
	}
}

func TestSpawnFailureRegistersNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transfer.Command = []string{filepath.Join(t.TempDir(), "missing-binary")}
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	_, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if !errors.Is(err, services.ErrLaunch) {
		t.Fatalf("expected launch error, got %v", err)
	}
	if _, ok := l.Latest(); ok {
		t.Fatal("failed spawn must not register a job")
	}
	if len(l.List(0)) != 0 || l.Running() != 0 {
		t.Fatal("failed spawn must not hold a slot")
	}
}

func TestStartValidatesPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")
	outside := filepath.Join(t.TempDir(), "outside.png")
	testsupport.WriteFile(t, outside, 4)

	cases := []transfer.Request{
		{Subject: "", Style: style},
		{Subject: subject, Style: "  "},
		{Subject: outside, Style: style},
		{Subject: subject, Style: filepath.Join(cfg.Paths.UploadDir, "01-01-2024", "missing.png")},
		{Subject: filepath.Join(cfg.Paths.UploadDir, "01-01-2024"), Style: style},
		{Subject: filepath.Join(cfg.Paths.UploadDir, "..", "escape.png"), Style: style},
	}
	for i, req := range cases {
		if _, err := l.Start(context.Background(), req); !errors.Is(err, services.ErrLaunch) {
			t.Fatalf("case %d: expected launch error, got %v", i, err)
		}
	}

	cfg.Transfer.RestrictToUploadDir = false
	unrestricted := newLauncher(t, cfg)
	job, err := unrestricted.Start(context.Background(), transfer.Request{Subject: outside, Style: style})
	if err != nil {
		t.Fatalf("unrestricted start: %v", err)
	}
	waitJob(t, unrestricted, job.ID)
}

func TestWatchdogTimeoutFailsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithTransferScript("sleep 30\n"),
		testsupport.WithTimeout(1),
	)
	l := newLauncher(t, cfg)
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.Status != transfer.StatusFailed || done.FailureMessage() != "timed out after 1s" {
		t.Fatalf("unexpected result %s %q", done.Status, done.FailureMessage())
	}
}

func TestCloseStopsRunningJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript("sleep 30\n"))
	store := &memoryStore{}
	l := transfer.NewLauncher(cfg, logging.NewNop(), transfer.WithStore(store))
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Close()

	stopped, err := l.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stopped.Status != transfer.StatusFailed || stopped.FailureMessage() != "daemon stopped" {
		t.Fatalf("unexpected state after close %s %q", stopped.Status, stopped.FailureMessage())
	}
	if _, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style}); !errors.Is(err, services.ErrLaunch) {
		t.Fatalf("expected launch error after close, got %v", err)
	}

	saved := store.snapshots()
	if len(saved) != 2 || saved[0].Status != transfer.StatusRunning || saved[1].Status != transfer.StatusFailed {
		t.Fatalf("expected running then failed saves, got %+v", saved)
	}
}

func TestGetUnknownJob(t *testing.T) {
	l := newLauncher(t, testsupport.NewConfig(t))
	if _, err := l.Get("nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := l.Wait(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found from Wait, got %v", err)
	}
}

func TestRestoreSeedsHistory(t *testing.T) {
	l := newLauncher(t, testsupport.NewConfig(t))
	older := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	marker := "--image"
	l.Restore([]transfer.Job{
		{ID: "b", Key: "k2", Kind: transfer.KindImage, Status: transfer.StatusCompleted, OutputMessage: &marker, StartedAt: newer, FinishedAt: &newer},
		{ID: "a", Key: "k1", Kind: transfer.KindImage, Status: transfer.StatusFailed, StartedAt: older, FinishedAt: &older},
	})
	latest, ok := l.Latest()
	if !ok || latest.ID != "b" || latest.Marker() != "--image" {
		t.Fatalf("unexpected latest after restore %+v", latest)
	}
	if job, err := l.Wait(context.Background(), "a"); err != nil || job.Status != transfer.StatusFailed {
		t.Fatalf("restored terminal job should not block Wait: %v %v", job.Status, err)
	}
}

type fakeProcess struct {
	code int
	err  error
}

func (p fakeProcess) Wait() (int, error) { return p.code, p.err }

func (fakeProcess) PID() int { return 4242 }

type fakeExecutor struct {
	mu    sync.Mutex
	specs []transfer.CommandSpec
	lines []string
	proc  fakeProcess
}

func (f *fakeExecutor) Start(_ context.Context, spec transfer.CommandSpec, handlers transfer.LineHandlers) (transfer.Process, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	for _, line := range f.lines {
		handlers.Stderr(line)
	}
	return f.proc, nil
}

func TestInjectedExecutorReceivesCommandSpec(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transfer.Command = []string{"python", "main.py"}
	exec := &fakeExecutor{lines: []string{"boom"}, proc: fakeProcess{code: 1}}
	l := newLauncher(t, cfg, transfer.WithExecutor(exec))
	subject, style := stagePair(t, cfg, "cat.png")

	job, err := l.Start(context.Background(), transfer.Request{Subject: subject, Style: style})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitJob(t, l, job.ID)
	if done.FailureMessage() != "boom" {
		t.Fatalf("failure = %q", done.FailureMessage())
	}
	spec := exec.specs[0]
	if spec.Binary != "python" || spec.Dir != cfg.Transfer.WorkingDir {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if strings.Join(spec.Args, " ") != "main.py --image "+subject+" --style "+style {
		t.Fatalf("unexpected args %q", spec.Args)
	}
	if strings.Join(done.Argv, " ") != "python "+strings.Join(spec.Args, " ") {
		t.Fatalf("argv not recorded: %q", done.Argv)
	}
}

type memoryStore struct {
	mu    sync.Mutex
	saved []transfer.Job
}

func (m *memoryStore) Save(_ context.Context, job transfer.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, job)
	return nil
}

func (m *memoryStore) snapshots() []transfer.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transfer.Job(nil), m.saved...)
}
