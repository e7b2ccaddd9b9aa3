package apiclient_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stylizer/internal/apiclient"
	"stylizer/internal/config"
	"stylizer/internal/daemon"
	"stylizer/internal/ingest"
	"stylizer/internal/logging"
	"stylizer/internal/storage"
	"stylizer/internal/testsupport"
	"stylizer/internal/transfer"
)

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"

const styledScript = `mkdir -p output
printf styled > output/image.png
`

func startDaemon(t *testing.T, cfg *config.Config) *apiclient.Client {
	t.Helper()
	launcher := transfer.NewLauncher(cfg, logging.NewNop())
	t.Cleanup(launcher.Close)
	svc := ingest.NewService(storage.NewArea(cfg.Paths.UploadDir), ingest.OptionsFromConfig(cfg), logging.NewNop(), nil)
	d, err := daemon.New(cfg, launcher, svc, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	client, err := apiclient.New(d.Addr())
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	return client
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewNormalizesBind(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:3000":          "http://127.0.0.1:3000",
		":3000":                   "http://127.0.0.1:3000",
		"http://example:80/x?y=1": "http://example:80",
	}
	for bind, want := range tests {
		client, err := apiclient.New(bind)
		if err != nil {
			t.Fatalf("New(%q): %v", bind, err)
		}
		if got := client.BaseURL(); got != want {
			t.Fatalf("New(%q) base = %q, want %q", bind, got, want)
		}
	}
	if _, err := apiclient.New("  "); err == nil {
		t.Fatal("expected error for empty bind")
	}
}

func TestUploadSendsSniffedContentTypes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := startDaemon(t, cfg)

	dir := t.TempDir()
	image := filepath.Join(dir, "cat")
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(image, []byte(pngHeader), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := os.WriteFile(notes, []byte("just some text\n"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	paths, err := client.Upload(testContext(t), cfg.Upload.FieldName, image, notes)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected only the image to be stored, got %v", paths)
	}
	if !strings.HasPrefix(paths[0], cfg.Paths.UploadDir) || !strings.HasSuffix(paths[0], ".png") {
		t.Fatalf("unexpected stored path %q", paths[0])
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != pngHeader {
		t.Fatal("stored bytes differ from upload")
	}
}

func TestUploadMissingFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := startDaemon(t, cfg)
	if _, err := client.Upload(testContext(t), "file", filepath.Join(t.TempDir(), "absent.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestJobLifecycleAndResultDownload(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTransferScript(styledScript))
	client := startDaemon(t, cfg)
	ctx := testContext(t)

	subject := testsupport.StageFile(t, cfg.Paths.UploadDir, "cat.png", 8)
	style := testsupport.StageFile(t, cfg.Paths.UploadDir, "style.png", 8)

	started, err := client.StartJob(ctx, subject, style)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if started.ID == "" || started.Kind != "image" {
		t.Fatalf("unexpected started job %+v", started)
	}

	job, err := client.Wait(ctx, started.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.Status != "completed" {
		t.Fatalf("expected completed, got %+v", job)
	}

	var buf bytes.Buffer
	n, err := client.DownloadResult(ctx, job.ID, &buf)
	if err != nil {
		t.Fatalf("DownloadResult: %v", err)
	}
	if n != int64(len("styled")) || buf.String() != "styled" {
		t.Fatalf("unexpected result %q (%d bytes)", buf.String(), n)
	}

	jobs, err := client.Jobs(ctx, 5)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("unexpected job list %+v", jobs)
	}
}

func TestLegacyTransferPolling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := startDaemon(t, cfg)
	ctx := testContext(t)

	status, errText, err := client.TransferStatus(ctx)
	if err != nil {
		t.Fatalf("TransferStatus: %v", err)
	}
	if status.Status != "" || errText != nil {
		t.Fatalf("expected idle status, got %+v %v", status, errText)
	}

	subject := testsupport.StageFile(t, cfg.Paths.UploadDir, "clip.mp4", 8)
	style := testsupport.StageFile(t, cfg.Paths.UploadDir, "style.png", 8)
	ack, err := client.StartTransfer(ctx, subject, style)
	if err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if ack.Status != nil || ack.Message != "script is running" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	for {
		status, errText, err = client.TransferStatus(ctx)
		if err != nil {
			t.Fatalf("TransferStatus: %v", err)
		}
		if errText != nil {
			t.Fatalf("unexpected failure %q", *errText)
		}
		if status.Status != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Status != "--video" {
		t.Fatalf("expected --video marker, got %q", status.Status)
	}
}

func TestErrorsCarryStatusCode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := startDaemon(t, cfg)
	ctx := testContext(t)

	_, err := client.Job(ctx, "missing")
	if apiclient.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}

	_, err = client.StartJob(ctx, "", "")
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 *Error, got %v", err)
	}
	if apiErr.Message != "Internal Server Error" {
		t.Fatalf("unexpected public message %q", apiErr.Message)
	}
}

func TestStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := startDaemon(t, cfg)

	status, err := client.Status(testContext(t))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.UploadDir != cfg.Paths.UploadDir {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestUnavailableDaemon(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client, err := apiclient.New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.Status(testContext(t))
	if !apiclient.IsAPIUnavailable(err) || !errors.Is(err, apiclient.ErrAPIUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
