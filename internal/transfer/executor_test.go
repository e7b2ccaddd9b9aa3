package transfer

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"unicode/utf8"
)

func collectLines(t *testing.T, r io.Reader, limit int) ([]string, error) {
	t.Helper()
	var lines []string
	err := forwardLines(r, limit, func(line string) {
		lines = append(lines, line)
	})
	return lines, err
}

func TestForwardLinesSplitsOnCarriageReturnAndNewline(t *testing.T) {
	lines, err := collectLines(t, strings.NewReader("frame 1\rframe 2\rdone\r\nnext\n\nlast"), 1024)
	if err != nil {
		t.Fatalf("forwardLines: %v", err)
	}
	want := []string{"frame 1", "frame 2", "done", "next", "", "last"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
}

func TestForwardLinesCapsLongLines(t *testing.T) {
	long := strings.Repeat("x", 3*maxLineBytes)
	lines, err := collectLines(t, strings.NewReader(long+"\ntail\n"), maxLineBytes)
	if err != nil {
		t.Fatalf("forwardLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if len(lines[0]) != maxLineBytes {
		t.Fatalf("first line length = %d, want %d", len(lines[0]), maxLineBytes)
	}
	if lines[1] != "tail" {
		t.Fatalf("second line = %q", lines[1])
	}
}

func TestForwardLinesReportsReadFailure(t *testing.T) {
	boom := errors.New("pipe closed")
	r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(boom))
	lines, err := collectLines(t, r, 1024)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(lines) != 1 || lines[0] != "partial" {
		t.Fatalf("buffered text must still be forwarded, got %q", lines)
	}
}

func TestTruncateTailKeepsEndOnRuneBoundary(t *testing.T) {
	if got := truncateTail("short", 16); got != "short" {
		t.Fatalf("short input changed: %q", got)
	}
	if got := truncateTail("prefix: RuntimeError", 12); got != "RuntimeError" {
		t.Fatalf("tail = %q", got)
	}
	// "é" is two bytes; a cut through it must skip the continuation byte.
	got := truncateTail("aé error", 7)
	if !utf8.ValidString(got) {
		t.Fatalf("tail %q is not valid UTF-8", got)
	}
	if got != " error" {
		t.Fatalf("tail = %q, want %q", got, " error")
	}
}
