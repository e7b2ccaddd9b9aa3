package jobstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"stylizer/internal/jobstore"
	"stylizer/internal/testsupport"
	"stylizer/internal/transfer"
)

func sampleJob(id string, started time.Time) transfer.Job {
	return transfer.Job{
		ID:        id,
		Key:       transfer.Key("/up/"+id+".png", "/up/style.png"),
		Kind:      transfer.KindImage,
		Status:    transfer.StatusRunning,
		Subject:   "/up/" + id + ".png",
		Style:     "/up/style.png",
		Argv:      []string{"python", "main.py", "--image", "/up/" + id + ".png", "--style", "/up/style.png"},
		StartedAt: started,
	}
}

func TestSaveAndGetRoundTripsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job := sampleJob("a", started)
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save running: %v", err)
	}

	finished := started.Add(90 * time.Second)
	marker := "--image"
	code := 0
	job.Status = transfer.StatusCompleted
	job.OutputMessage = &marker
	job.ExitCode = &code
	job.OutputPath = "/srv/output/image.png"
	job.FinishedAt = &finished
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save completed: %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected job row")
	}
	if got.Status != transfer.StatusCompleted || got.Marker() != "--image" {
		t.Fatalf("unexpected status/marker: %s %q", got.Status, got.Marker())
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("unexpected exit code %v", got.ExitCode)
	}
	if got.ErrorMessage != nil {
		t.Fatalf("expected no error message, got %q", *got.ErrorMessage)
	}
	if !got.StartedAt.Equal(started) || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("timestamps not preserved: %v %v", got.StartedAt, got.FinishedAt)
	}
	if len(got.Argv) != 6 || got.Argv[2] != "--image" {
		t.Fatalf("argv not preserved: %q", got.Argv)
	}
	if got.Key != job.Key {
		t.Fatalf("key not preserved")
	}

	missing, err := store.Get(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing job, got %v %v", missing, err)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.Save(ctx, sampleJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	jobs, err := store.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 || jobs[0].ID != "job-4" || jobs[2].ID != "job-2" {
		t.Fatalf("unexpected listing: %+v", jobs)
	}
	all, err := store.List(ctx, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("expected all 5 jobs, got %d (%v)", len(all), err)
	}
}

func TestMarkInterruptedFailsRunningJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	running := sampleJob("running", now)
	done := sampleJob("done", now.Add(-time.Hour))
	reason := "CUDA out of memory"
	done.Status = transfer.StatusFailed
	done.ErrorMessage = &reason
	done.FinishedAt = &now
	for _, job := range []transfer.Job{running, done} {
		if err := store.Save(ctx, job); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	count, err := store.MarkInterrupted(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 interrupted job, got %d", count)
	}

	got, _ := store.Get(ctx, "running")
	if got.Status != transfer.StatusFailed || got.FailureMessage() != jobstore.InterruptedReason || got.FinishedAt == nil {
		t.Fatalf("unexpected interrupted job %+v", got)
	}
	untouched, _ := store.Get(ctx, "done")
	if untouched.FailureMessage() != reason {
		t.Fatalf("terminal job must keep its reason, got %q", untouched.FailureMessage())
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[transfer.StatusFailed] != 2 || stats[transfer.StatusRunning] != 0 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestPruneKeepsNewestTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		job := sampleJob(fmt.Sprintf("done-%d", i), base.Add(time.Duration(i)*time.Minute))
		job.Status = transfer.StatusCompleted
		if err := store.Save(ctx, job); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := store.Save(ctx, sampleJob("live", base)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	removed, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows pruned, got %d", removed)
	}
	for id, want := range map[string]bool{"done-0": false, "done-1": false, "done-2": true, "done-3": true, "live": true} {
		job, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if (job != nil) != want {
			t.Fatalf("job %s present=%v, want %v", id, job != nil, want)
		}
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Save(context.Background(), sampleJob("persisted", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	job, err := reopened.Get(context.Background(), "persisted")
	if err != nil || job == nil {
		t.Fatalf("expected job after reopen, got %v %v", job, err)
	}
	if reopened.Path() != cfg.JobDBPath() {
		t.Fatalf("unexpected db path %q", reopened.Path())
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.Close()

	db, err := sql.Open("sqlite", cfg.JobDBPath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := jobstore.Open(cfg); !errors.Is(err, jobstore.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
