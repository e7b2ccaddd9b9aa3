package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"stylizer/internal/services"
)

// DayLayout is the directory name format of a day's upload area (dd-MM-yyyy).
const DayLayout = "02-01-2006"

const unknownPart = "unknown"

// Area manages the date-partitioned upload staging tree.
type Area struct {
	root string
	now  func() time.Time
}

// NewArea returns an Area rooted at root.
func NewArea(root string) *Area {
	return &Area{root: root, now: time.Now}
}

// WithClock overrides the time source used for filenames and Today.
func (a *Area) WithClock(now func() time.Time) *Area {
	if now != nil {
		a.now = now
	}
	return a
}

// Root returns the base directory of the area.
func (a *Area) Root() string {
	return a.root
}

// Today returns the current local date according to the area clock.
func (a *Area) Today() time.Time {
	return a.now()
}

// DayDir returns the directory a given date maps to without touching disk.
func (a *Area) DayDir(date time.Time) string {
	return filepath.Join(a.root, date.Format(DayLayout))
}

// EnsureUploadArea guarantees the day directory exists. An existing directory,
// including one created concurrently by another request, is success.
func (a *Area) EnsureUploadArea(date time.Time) (string, error) {
	dir := a.DayDir(date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		// MkdirAll already tolerates existing directories; re-check in case a
		// racing caller won between its Stat and Mkdir.
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return dir, nil
		}
		return "", services.Wrap(services.ErrStorage, "storage", "ensure upload area", dir, err)
	}
	return dir, nil
}

// Create opens a new, exclusively created file for an accepted upload part in
// the day's area. The caller owns closing and, on failure, removing it.
func (a *Area) Create(date time.Time, fieldName, mimeType string) (*os.File, error) {
	dir, err := a.EnsureUploadArea(date)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		name := generateFilename(a.now(), fieldName, mimeType)
		file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, services.Wrap(services.ErrStorage, "storage", "create upload file", name, err)
		}
	}
	return nil, services.Wrap(services.ErrStorage, "storage", "create upload file", "name collision", fs.ErrExist)
}

// GenerateFilename builds <field>-<unix millis>-<random>.<ext>. Blank fields and
// unresolvable MIME types fall back to "unknown".
func GenerateFilename(fieldName, mimeType string) string {
	return generateFilename(time.Now(), fieldName, mimeType)
}

func generateFilename(now time.Time, fieldName, mimeType string) string {
	field := sanitizeField(fieldName)
	if field == "" {
		field = unknownPart
	}
	var b strings.Builder
	b.Grow(len(field) + 48)
	b.WriteString(field)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(rand.Uint64(), 10))
	b.WriteByte('.')
	b.WriteString(ExtensionFor(mimeType))
	return b.String()
}

// ExtensionFor returns the registered extension for a MIME type without the
// leading dot, or "unknown".
func ExtensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(mimeType))
	if err != nil || mediaType == "" {
		return unknownPart
	}
	detected := mimetype.Lookup(mediaType)
	if detected == nil {
		return unknownPart
	}
	ext := strings.TrimPrefix(detected.Extension(), ".")
	if ext == "" {
		return unknownPart
	}
	return ext
}

// sanitizeField keeps client-supplied field names from introducing path separators.
func sanitizeField(field string) string {
	field = strings.TrimSpace(field)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, field)
}

// ParseDay parses a day directory name back into a date.
func ParseDay(name string) (time.Time, error) {
	day, err := time.ParseInLocation(DayLayout, name, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day directory %q: %w", name, err)
	}
	return day, nil
}
