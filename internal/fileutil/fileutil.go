package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic fills a temporary file next to dst and renames it into place once
// fill succeeds. On any failure dst is left untouched and the temp file removed.
func WriteAtomic(dst string, mode os.FileMode, fill func(w io.Writer) (int64, error)) (int64, error) {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.partial")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	n, err := fill(tmp)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return n, err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return n, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return n, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// CopyFile streams src to dst atomically with mode 0o644.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = WriteAtomic(dst, 0o644, func(w io.Writer) (int64, error) {
		return io.Copy(w, in)
	})
	return err
}
