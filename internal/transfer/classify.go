package transfer

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"stylizer/internal/config"
)

// Classify picks the mode from the subject's extension. Unknown extensions run
// as image jobs.
func Classify(subject string, videoExtensions []string) Kind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(subject), "."))
	if ext == "" {
		return KindImage
	}
	for _, candidate := range videoExtensions {
		if ext == candidate {
			return KindVideo
		}
	}
	return KindImage
}

// Key fingerprints a subject/style pair. Two starts with the same key may not
// run concurrently.
func Key(subject, style string) string {
	name := filepath.Clean(subject) + "\x00" + filepath.Clean(style)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// BuildCommand returns the executable and arguments for a job. In shell mode the
// configured command is used verbatim as a shell prefix and only the paths are
// quoted.
func BuildCommand(cfg config.Transfer, kind Kind, subject, style string) (string, []string) {
	if cfg.Shell {
		line := strings.Join(cfg.Command, " ") +
			" " + kind.Flag() + " " + shellQuote(subject) +
			" --style " + shellQuote(style)
		return "/bin/sh", []string{"-c", strings.TrimSpace(line)}
	}
	if len(cfg.Command) == 0 {
		return "", nil
	}
	args := make([]string, 0, len(cfg.Command)+3)
	args = append(args, cfg.Command[1:]...)
	args = append(args, kind.Flag(), subject, "--style", style)
	return cfg.Command[0], args
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r == '/' || r == '.' || r == '-' || r == '_' || r == '+' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
