package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stylizer/internal/config"
	"stylizer/internal/logging"
	"stylizer/internal/preflight"
	"stylizer/internal/services"
	"stylizer/internal/storage"
)

// UploadedFile describes one accepted part persisted to the staging area.
type UploadedFile struct {
	FieldName string
	MIMEClass string
	MIMEType  string
	Filename  string
	Path      string
	Size      int64
}

// Observer receives upload telemetry.
type Observer interface {
	RecordUpload(duration time.Duration, files int, bytes int64, err error)
	RecordSkippedPart(reason string)
}

// Options configures the part filter and limits.
type Options struct {
	FieldName      string
	MaxFileBytes   int64
	AllowedClasses []string
	MinFreeBytes   int64
}

// OptionsFromConfig derives ingest options from the upload section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FieldName:      cfg.Upload.FieldName,
		MaxFileBytes:   cfg.Upload.MaxFileBytes,
		AllowedClasses: append([]string(nil), cfg.Upload.AllowedClasses...),
		MinFreeBytes:   cfg.Upload.MinFreeBytes,
	}
}

// Service streams accepted multipart parts into the staging area.
type Service struct {
	area      *storage.Area
	opts      Options
	logger    *slog.Logger
	observer  Observer
	freeBytes func(path string) (uint64, error)
}

// NewService constructs an ingest service. A nil observer disables telemetry.
func NewService(area *storage.Area, opts Options, logger *slog.Logger, observer Observer) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.MaxFileBytes <= 0 || opts.MaxFileBytes > config.MaxUploadFileBytes {
		opts.MaxFileBytes = config.MaxUploadFileBytes
	}
	return &Service{
		area:      area,
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "ingest"),
		observer:  observer,
		freeBytes: preflight.FreeBytes,
	}
}

// Ingest consumes every part of the request. Parts that fail the field or MIME
// filter are drained and dropped without error. Accepted files are returned in
// receive order; an empty result is not an error.
func (s *Service) Ingest(ctx context.Context, reader *multipart.Reader) ([]UploadedFile, error) {
	started := time.Now()
	files, err := s.ingest(ctx, reader)
	var total int64
	for _, f := range files {
		total += f.Size
	}
	s.observer.RecordUpload(time.Since(started), len(files), total, err)

	logger := logging.WithContext(ctx, s.logger)
	if err != nil {
		logger.Warn("upload rejected",
			logging.String(logging.FieldEventType, "upload_rejected"),
			logging.Error(err),
			logging.Int("stored_files", len(files)),
			logging.String(logging.FieldErrorHint, "check the multipart body and staging area permissions"),
			logging.String(logging.FieldImpact, "client receives an error response"),
		)
		return files, err
	}
	logger.Info("upload stored",
		logging.String(logging.FieldEventType, "upload_stored"),
		logging.Int("stored_files", len(files)),
		logging.Int64("size_bytes", total),
		logging.Duration("duration", time.Since(started)),
	)
	return files, nil
}

func (s *Service) ingest(ctx context.Context, reader *multipart.Reader) ([]UploadedFile, error) {
	if reader == nil {
		return nil, services.Wrap(services.ErrFormParse, "ingest", "read form", "request is not multipart", nil)
	}
	files := make([]UploadedFile, 0, 2)
	checkedSpace := false
	for {
		if err := ctx.Err(); err != nil {
			return files, services.Wrap(services.ErrFormParse, "ingest", "read form", "request aborted", err)
		}
		part, err := reader.NextPart()
		// A truncated body wraps io.EOF; only the bare value marks the final boundary.
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, services.Wrap(services.ErrFormParse, "ingest", "read part", "", err)
		}

		class, mimeType, reason := s.accept(part)
		if reason != "" {
			s.observer.RecordSkippedPart(reason)
			s.logger.Debug("multipart part skipped",
				logging.String("reason", reason),
				logging.String("field", part.FormName()),
				logging.String("content_type", part.Header.Get("Content-Type")),
			)
			if _, err := io.Copy(io.Discard, part); err != nil {
				_ = part.Close()
				return files, services.Wrap(services.ErrFormParse, "ingest", "drain part", "", err)
			}
			_ = part.Close()
			continue
		}

		if !checkedSpace {
			if err := s.checkFreeSpace(); err != nil {
				_ = part.Close()
				return files, err
			}
			checkedSpace = true
		}

		file, err := s.store(part, class, mimeType)
		_ = part.Close()
		if err != nil {
			return files, err
		}
		files = append(files, file)
	}
}

// accept applies the field and MIME class filter. A non-empty reason means skip.
func (s *Service) accept(part *multipart.Part) (class, mimeType, reason string) {
	if part.FileName() == "" && part.Header.Get("Content-Type") == "" {
		return "", "", "not_file"
	}
	if part.FormName() != s.opts.FieldName {
		return "", "", "field"
	}
	declared := strings.TrimSpace(part.Header.Get("Content-Type"))
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mediaType = strings.ToLower(declared)
	}
	for _, allowed := range s.opts.AllowedClasses {
		if strings.HasPrefix(mediaType, allowed+"/") {
			return allowed, mediaType, ""
		}
	}
	return "", "", "mime"
}

func (s *Service) checkFreeSpace() error {
	if s.opts.MinFreeBytes <= 0 || s.freeBytes == nil {
		return nil
	}
	free, err := s.freeBytes(s.area.Root())
	if err != nil {
		return services.Wrap(services.ErrStorage, "ingest", "check free space", "", err)
	}
	if free < uint64(s.opts.MinFreeBytes) {
		return services.Wrap(services.ErrStorage, "ingest", "check free space",
			fmt.Sprintf("%d bytes free, %d required", free, s.opts.MinFreeBytes), nil)
	}
	return nil
}

// store streams one part to disk, enforcing the per-file cap. The partial file
// is removed on any failure.
func (s *Service) store(part *multipart.Part, class, mimeType string) (UploadedFile, error) {
	out, err := s.area.Create(s.area.Today(), part.FormName(), mimeType)
	if err != nil {
		return UploadedFile{}, services.Wrap(services.ErrFormParse, "ingest", "open destination", "", err)
	}
	path := out.Name()

	fail := func(err error) (UploadedFile, error) {
		_ = out.Close()
		_ = os.Remove(path)
		return UploadedFile{}, err
	}

	written, err := copyPart(out, io.LimitReader(part, s.opts.MaxFileBytes+1))
	if err != nil {
		return fail(err)
	}
	if written > s.opts.MaxFileBytes {
		return fail(services.Wrap(services.ErrFormParse, "ingest", "receive file",
			fmt.Sprintf("maxFileSize exceeded, received more than %d bytes", s.opts.MaxFileBytes),
			services.ErrPayloadTooLarge))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return UploadedFile{}, services.Wrap(services.ErrFormParse, "ingest", "close destination", "",
			services.Wrap(services.ErrStorage, "ingest", "close", path, err))
	}

	return UploadedFile{
		FieldName: part.FormName(),
		MIMEClass: class,
		MIMEType:  mimeType,
		Filename:  filepath.Base(path),
		Path:      path,
		Size:      written,
	}, nil
}

// copyPart separates read failures (malformed body) from write failures (storage).
func copyPart(dst *os.File, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, writeErr := dst.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, services.Wrap(services.ErrFormParse, "ingest", "write file", "",
					services.Wrap(services.ErrStorage, "ingest", "write", dst.Name(), writeErr))
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, services.Wrap(services.ErrFormParse, "ingest", "read file", "", readErr)
		}
	}
}

// Paths returns the storage paths of files in order.
func Paths(files []UploadedFile) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, int, int64, error) {}

func (nopObserver) RecordSkippedPart(string) {}
