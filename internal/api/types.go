package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ScriptRunningMessage acknowledges a legacy transfer start.
const ScriptRunningMessage = "script is running"

// Envelope wraps every response body. Exactly one of Data and Error is set.
type Envelope[T any] struct {
	Data  *T      `json:"data"`
	Error *string `json:"error"`
}

// OK wraps a successful payload.
func OK[T any](data T) Envelope[T] {
	return Envelope[T]{Data: &data}
}

// Fail wraps an error message.
func Fail(message string) Envelope[struct{}] {
	return Envelope[struct{}]{Error: &message}
}

// UploadData lists the stored paths of accepted upload parts, in receive order.
type UploadData struct {
	URL []string `json:"url"`
}

// TransferAck is returned by POST /transfer. Status is always null.
type TransferAck struct {
	Status  *string `json:"status"`
	Message string  `json:"message"`
	JobID   string  `json:"jobId,omitempty"`
}

// TransferStatus is returned by GET /transfer. Status is "" while running and
// the kind marker once completed.
type TransferStatus struct {
	Status  string  `json:"status"`
	Message *string `json:"message"`
}

// JobRequest starts a job through POST /api/jobs.
type JobRequest struct {
	Subject string `json:"subject"`
	Style   string `json:"style"`
}

// Job describes a transfer job in a transport-friendly format.
type Job struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	Status          string   `json:"status"`
	Subject         string   `json:"subject"`
	Style           string   `json:"style"`
	OutputMessage   *string  `json:"outputMessage"`
	ErrorMessage    *string  `json:"errorMessage"`
	ExitCode        *int     `json:"exitCode"`
	OutputPath      string   `json:"outputPath,omitempty"`
	Argv            []string `json:"argv,omitempty"`
	StartedAt       string   `json:"startedAt,omitempty"`
	FinishedAt      string   `json:"finishedAt,omitempty"`
	DurationSeconds float64  `json:"durationSeconds"`
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// JobListResponse wraps a collection of jobs, newest first.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckStatus mirrors one preflight check.
type CheckStatus struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	UploadDir    string             `json:"uploadDir"`
	UploadDays   int                `json:"uploadDays"`
	UploadBytes  int64              `json:"uploadBytes"`
	JobDBPath    string             `json:"jobDbPath,omitempty"`
	LockFilePath string             `json:"lockFilePath"`
	RunningJobs  int                `json:"runningJobs"`
	JobCounts    map[string]int     `json:"jobCounts"`
	LatestJob    *Job               `json:"latestJob,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckStatus      `json:"checks"`
}
