package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTeeHandlerCollapses(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := TeeHandler(nil, inner); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsPerSinkLevels(t *testing.T) {
	var consoleBuf, fileBuf bytes.Buffer
	console := slog.NewJSONHandler(&consoleBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	file := slog.NewJSONHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := TeeHandler(console, file)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee enabled for debug when one sink accepts it")
	}

	logger := slog.New(h).With(slog.String(FieldJobID, "job-1"))
	logger.Debug("spawned")
	logger.Info("completed")

	if strings.Contains(consoleBuf.String(), "spawned") {
		t.Fatalf("info sink should not receive debug records: %s", consoleBuf.String())
	}
	if !strings.Contains(fileBuf.String(), "spawned") || !strings.Contains(fileBuf.String(), "completed") {
		t.Fatalf("debug sink missing records: %s", fileBuf.String())
	}
	for _, out := range []string{consoleBuf.String(), fileBuf.String()} {
		if !strings.Contains(out, `"job_id":"job-1"`) {
			t.Fatalf("expected job_id attr propagated, got %s", out)
		}
	}
}

func TestTeeHandlerWithGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := TeeHandler(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))
	slog.New(h).WithGroup("upload").Info("stored", slog.Int("files", 2))
	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, `"upload":{"files":2}`) {
			t.Fatalf("expected grouped attr, got %s", out)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTeeHandlerKeepsWritingAfterSinkError(t *testing.T) {
	var good bytes.Buffer
	h := TeeHandler(slog.NewJSONHandler(failingWriter{}, nil), slog.NewJSONHandler(&good, nil))

	record := slog.NewRecord(time.Time{}, slog.LevelInfo, "upload stored", 0)
	err := h.Handle(context.Background(), record)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error to surface, got %v", err)
	}
	if !strings.Contains(good.String(), "upload stored") {
		t.Fatalf("healthy sink missed the record: %s", good.String())
	}
}
