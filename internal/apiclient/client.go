package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"stylizer/internal/api"
)

// ErrAPIUnavailable reports that no daemon answered at the configured bind.
var ErrAPIUnavailable = errors.New("stylizer API unavailable")

// DefaultPollInterval is how often Wait polls when no interval is given.
const DefaultPollInterval = 10 * time.Second

// Error is a non-2xx daemon reply.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status of an *Error, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client is a thin wrapper over the daemon's HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a client for bind, which may be host:port or a full URL.
func New(bind string, opts ...Option) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, fmt.Errorf("api bind address is empty")
	}
	if !strings.Contains(bind, "://") {
		if strings.HasPrefix(bind, ":") {
			bind = "127.0.0.1" + bind
		}
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base: base,
		// Uploads and result downloads can be large; callers bound requests with ctx.
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the daemon root URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Upload streams files as a multipart request under field. Content types are
// sniffed from file contents. The returned paths are where the daemon stored
// the accepted files, in order.
func (c *Client) Upload(ctx context.Context, field string, files ...string) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("upload: no files given")
	}
	types := make([]string, len(files))
	for i, path := range files {
		mt, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, fmt.Errorf("upload: detect %s: %w", path, err)
		}
		types[i] = mt.String()
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, field, files, types))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", nil, pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var data api.UploadData
	if err := c.do(req, &data); err != nil {
		_ = pr.Close()
		return nil, err
	}
	return data.URL, nil
}

func writeParts(mw *multipart.Writer, field string, files, types []string) error {
	for i, path := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
		header.Set("Content-Type", types[i])
		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

// StartTransfer starts a job through the legacy POST /transfer endpoint.
func (c *Client) StartTransfer(ctx context.Context, subject, style string) (api.TransferAck, error) {
	var ack api.TransferAck
	err := c.doJSON(ctx, http.MethodPost, "/transfer", nil, []string{subject, style}, &ack)
	return ack, err
}

// TransferStatus polls the legacy GET /transfer endpoint. The second return
// value is the failure text, set only once the latest job has failed.
func (c *Client) TransferStatus(ctx context.Context) (api.TransferStatus, *string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/transfer", nil, nil)
	if err != nil {
		return api.TransferStatus{}, nil, err
	}
	var env api.Envelope[api.TransferStatus]
	if err := c.send(req, &env); err != nil {
		return api.TransferStatus{}, nil, err
	}
	var status api.TransferStatus
	if env.Data != nil {
		status = *env.Data
	}
	return status, env.Error, nil
}

// StartJob starts a job through POST /api/jobs.
func (c *Client) StartJob(ctx context.Context, subject, style string) (api.Job, error) {
	var job api.Job
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs", nil, api.JobRequest{Subject: subject, Style: style}, &job)
	return job, err
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, id string) (api.Job, error) {
	var job api.Job
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &job)
	return job, err
}

// Jobs lists jobs newest first. A zero limit returns the daemon default.
func (c *Client) Jobs(ctx context.Context, limit int) ([]api.Job, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp api.JobListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, nil, &status)
	return status, err
}

// DownloadResult copies a completed job's output to w.
func (c *Client) DownloadResult(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/result", nil, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, wrapTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Wait polls a job until it reaches a terminal state or ctx is done.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (api.Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return api.Job{}, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and unwraps the envelope's data into out.
func (c *Client) do(req *http.Request, out any) error {
	var env api.Envelope[json.RawMessage]
	if err := c.send(req, &env); err != nil {
		return err
	}
	if env.Error != nil {
		return &Error{StatusCode: http.StatusOK, Message: *env.Error}
	}
	if out == nil || env.Data == nil {
		return nil
	}
	if err := json.Unmarshal(*env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) send(req *http.Request, env any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var env api.Envelope[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil && env.Error != nil {
		apiErr.Message = *env.Error
	}
	return apiErr
}

func wrapTransport(err error) error {
	if IsAPIUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	return err
}

// IsAPIUnavailable reports whether err means no daemon is listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
