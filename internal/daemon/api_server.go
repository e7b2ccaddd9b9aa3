package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stylizer/internal/api"
	"stylizer/internal/ingest"
	"stylizer/internal/logging"
	"stylizer/internal/services"
	"stylizer/internal/transfer"
)

const (
	requestIDHeader   = "X-Request-ID"
	defaultListLimit  = 50
	maxStartBodyBytes = 64 * 1024
	shutdownTimeout   = 5 * time.Second
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload", srv.handleUpload)
	mux.HandleFunc("/api/upload", srv.handleUpload)
	mux.HandleFunc("/transfer", srv.handleTransfer)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/{id}", srv.handleJob)
	mux.HandleFunc("/api/jobs/{id}/result", srv.handleJobResult)
	mux.HandleFunc("/api/status", srv.handleStatus)
	if d.metrics != nil && d.cfg.Metrics.Enabled {
		mux.Handle("/metrics", d.metrics.Handler())
	}
	srv.handler = srv.middleware(mux)
	return srv
}

func (s *apiServer) listen() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	// Uploads may stream for a long time; only the header read is bounded.
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Unlock()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) serve() error {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.mu.Unlock()
	if server == nil || listener == nil {
		return errors.New("api server not listening")
	}
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

func (s *apiServer) shutdown() {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		_ = server.Close()
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// middleware assigns a request id and records per-route metrics.
func (s *apiServer) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(services.WithRequestID(r.Context(), requestID))

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		code := sw.code
		if code == 0 {
			code = http.StatusOK
		}
		s.daemon.metrics.ObserveHTTP(route, code, time.Since(started))
		logging.WithContext(r.Context(), s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", code),
			logging.Duration("duration", time.Since(started)),
		)
	})
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrFormParse, "ingest", "parse", "expected a multipart/form-data body", err))
		return
	}
	files, err := s.daemon.ingest.Ingest(r.Context(), reader)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.OK(api.UploadData{URL: ingest.Paths(files)}))
}

// handleTransfer serves the overloaded legacy resource: POST starts a job from
// a two-element JSON array, GET reports the most recent job.
func (s *apiServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, errText := api.LegacyStatus(s.daemon.launcher.Latest())
		s.writeJSON(w, http.StatusOK, api.Envelope[api.TransferStatus]{Data: &status, Error: errText})
	case http.MethodPost:
		var paths []string
		if err := decodeBody(r, &paths); err != nil {
			s.writeError(w, r, services.Wrap(services.ErrLaunch, "transfer", "decode", "expected a JSON array of two paths", err))
			return
		}
		if len(paths) != 2 {
			s.writeError(w, r, services.Wrap(services.ErrLaunch, "transfer", "decode",
				fmt.Sprintf("expected exactly 2 paths, got %d", len(paths)), nil))
			return
		}
		job, err := s.daemon.launcher.Start(r.Context(), transfer.Request{Subject: paths[0], Style: paths[1]})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.OK(api.NewTransferAck(job)))
	default:
		s.methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := defaultListLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				s.writeError(w, r, services.Wrap(services.ErrFormParse, "api", "list jobs", "limit must be a non-negative integer", err))
				return
			}
			limit = parsed
		}
		jobs := api.FromJobs(s.daemon.launcher.List(limit), time.Now())
		s.writeJSON(w, http.StatusOK, api.OK(api.JobListResponse{Jobs: jobs}))
	case http.MethodPost:
		var req api.JobRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, services.Wrap(services.ErrLaunch, "transfer", "decode", "expected {\"subject\", \"style\"}", err))
			return
		}
		job, err := s.daemon.launcher.Start(r.Context(), transfer.Request{Subject: req.Subject, Style: req.Style})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/jobs/"+job.ID)
		s.writeJSON(w, http.StatusAccepted, api.OK(api.FromJob(job, time.Now())))
	default:
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	job, err := s.daemon.launcher.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.OK(api.FromJob(job, time.Now())))
}

func (s *apiServer) handleJobResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	job, err := s.daemon.launcher.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch job.Status {
	case transfer.StatusRunning:
		s.writeError(w, r, services.Wrap(services.ErrConflict, "api", "result", "job is still running", nil))
		return
	case transfer.StatusFailed:
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "result", "job failed and produced no output", nil))
		return
	}

	file, err := os.Open(job.OutputPath)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "result", "output artifact is missing", err))
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "result", "output artifact is missing", err))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(job.OutputPath)))
	http.ServeContent(w, r, filepath.Base(job.OutputPath), info.ModTime(), file)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	status := s.daemon.Status(r.Context())
	now := time.Now()
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		UploadDir:    s.daemon.cfg.Paths.UploadDir,
		UploadDays:   len(status.Uploads),
		JobDBPath:    status.JobDBPath,
		LockFilePath: status.LockFilePath,
		RunningJobs:  status.RunningJobs,
		JobCounts:    make(map[string]int, len(status.JobCounts)),
		Dependencies: api.FromDependencies(status.Dependencies),
		Checks:       api.FromChecks(status.Checks),
	}
	for _, day := range status.Uploads {
		payload.UploadBytes += day.Size
	}
	for st, count := range status.JobCounts {
		payload.JobCounts[string(st)] = count
	}
	if status.Latest != nil {
		latest := api.FromJob(*status.Latest, now)
		payload.LatestJob = &latest
	}
	s.writeJSON(w, http.StatusOK, api.OK(payload))
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxStartBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func (s *apiServer) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	s.writeError(w, r, services.Wrap(services.ErrMethodNotAllowed, "api", r.Method, r.URL.Path, nil))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "request_failed",
			logging.Error(err),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
		)
	}
	s.writeJSON(w, status, api.Fail(services.PublicMessage(err)))
}
