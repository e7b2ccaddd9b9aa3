package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stylizer/internal/logging"
	"stylizer/internal/storage"
)

// CleanStaleResult contains the outcome of a retention sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes upload day directories whose date is more than
// retentionDays before now's calendar day. Entries that are not day
// directories are left alone. retentionDays <= 0 disables the sweep.
func CleanStale(ctx context.Context, uploadDir string, retentionDays int, now time.Time, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	uploadDir = strings.TrimSpace(uploadDir)
	if uploadDir == "" || retentionDays <= 0 {
		return result
	}

	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: uploadDir, Error: err})
		}
		return result
	}

	local := now.In(time.Local)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	cutoff := today.AddDate(0, 0, -retentionDays)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		day, err := storage.ParseDay(entry.Name())
		if err != nil || !day.Before(cutoff) {
			continue
		}

		dirPath := filepath.Join(uploadDir, entry.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove expired upload directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "upload_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check upload_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed expired upload directory",
				logging.String("path", dirPath),
				logging.Int("age_days", int(today.Sub(day).Hours()/24)),
				logging.String(logging.FieldEventType, "upload_cleanup"),
			)
		}
	}

	return result
}

// ListDirectories returns the day directories of the upload area with their
// metadata, in directory name order.
func ListDirectories(uploadDir string) ([]DirInfo, error) {
	uploadDir = strings.TrimSpace(uploadDir)
	if uploadDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := storage.ParseDay(entry.Name())
		if err != nil {
			continue
		}
		dirPath := filepath.Join(uploadDir, entry.Name())
		size, files := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Name:  entry.Name(),
			Path:  dirPath,
			Day:   day,
			Size:  size,
			Files: files,
		})
	}
	return dirs, nil
}

// DirInfo contains metadata about an upload day directory.
type DirInfo struct {
	Name  string
	Path  string
	Day   time.Time
	Size  int64
	Files int
}

// dirSize calculates the total size and file count of a directory recursively.
func dirSize(path string) (int64, int) {
	var (
		size  int64
		files int
	)
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
			files++
		}
		return nil
	})
	return size, files
}
