package transfer_test

import (
	"strings"
	"testing"

	"stylizer/internal/config"
	"stylizer/internal/transfer"
)

func TestClassify(t *testing.T) {
	exts := []string{"mp4", "mov"}
	cases := map[string]transfer.Kind{
		"/up/clip.mp4":     transfer.KindVideo,
		"/up/CLIP.MP4":     transfer.KindVideo,
		"/up/clip.mov":     transfer.KindVideo,
		"/up/photo.png":    transfer.KindImage,
		"/up/photo.jpeg":   transfer.KindImage,
		"/up/noextension":  transfer.KindImage,
		"/up/archive.mp4x": transfer.KindImage,
	}
	for path, want := range cases {
		if got := transfer.Classify(path, exts); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", path, got, want)
		}
	}
	if transfer.KindVideo.Flag() != "--video" || transfer.KindImage.Flag() != "--image" {
		t.Fatal("unexpected mode flags")
	}
}

func TestKeyIsStableAndOrderSensitive(t *testing.T) {
	a := transfer.Key("/up/a.png", "/up/b.png")
	if a != transfer.Key("/up/./a.png", "/up/b.png") {
		t.Fatal("expected cleaned paths to produce the same key")
	}
	if a == transfer.Key("/up/b.png", "/up/a.png") {
		t.Fatal("swapping subject and style must change the key")
	}
}

func TestBuildCommandDirect(t *testing.T) {
	cfg := config.Transfer{Command: []string{"conda", "run", "-n", "cs1430", "python", "main.py"}}
	binary, args := transfer.BuildCommand(cfg, transfer.KindVideo, "/up/my clip.mp4", "/up/style.png")
	if binary != "conda" {
		t.Fatalf("binary = %q", binary)
	}
	want := []string{"run", "-n", "cs1430", "python", "main.py", "--video", "/up/my clip.mp4", "--style", "/up/style.png"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Fatalf("args = %q, want %q", args, want)
	}
}

func TestBuildCommandShellQuotesPaths(t *testing.T) {
	cfg := config.Transfer{Shell: true, Command: []string{"cd /srv &&", "python main.py"}}
	binary, args := transfer.BuildCommand(cfg, transfer.KindImage, "/up/it's here.png", "/up/style.png")
	if binary != "/bin/sh" || len(args) != 2 || args[0] != "-c" {
		t.Fatalf("unexpected shell invocation %q %q", binary, args)
	}
	want := `cd /srv && python main.py --image '/up/it'\''s here.png' --style /up/style.png`
	if args[1] != want {
		t.Fatalf("shell line = %q, want %q", args[1], want)
	}
}
