package transfer

import (
	"fmt"
	"time"
)

// Kind selects the script mode.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Flag returns the command-line mode flag, which doubles as the completion marker.
func (k Kind) Flag() string {
	return "--" + string(k)
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one invocation of the external transfer command.
type Job struct {
	ID      string
	Key     string
	Kind    Kind
	Status  Status
	Subject string
	Style   string
	Argv    []string

	// OutputMessage carries the completion marker once the job completes.
	OutputMessage *string
	// ErrorMessage is the most recent stderr line, or the failure reason.
	ErrorMessage *string
	ExitCode     *int
	OutputPath   string

	StartedAt  time.Time
	FinishedAt *time.Time
}

// Marker returns the legacy status value: the mode flag once completed, "" otherwise.
func (j Job) Marker() string {
	if j.Status != StatusCompleted || j.OutputMessage == nil {
		return ""
	}
	return *j.OutputMessage
}

// FailureMessage returns the error text exposed to pollers; empty unless failed.
func (j Job) FailureMessage() string {
	if j.Status != StatusFailed || j.ErrorMessage == nil {
		return ""
	}
	return *j.ErrorMessage
}

// Duration returns how long the job ran, or has been running as of now.
func (j Job) Duration(now time.Time) time.Duration {
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

func (j Job) clone() Job {
	out := j
	out.Argv = append([]string(nil), j.Argv...)
	out.OutputMessage = copyString(j.OutputMessage)
	out.ErrorMessage = copyString(j.ErrorMessage)
	if j.ExitCode != nil {
		code := *j.ExitCode
		out.ExitCode = &code
	}
	if j.FinishedAt != nil {
		ts := *j.FinishedAt
		out.FinishedAt = &ts
	}
	return out
}

// recordStderr stores the latest stderr line while the job runs.
func (j *Job) recordStderr(line string) {
	if j.Status.Terminal() {
		return
	}
	j.ErrorMessage = &line
}

// complete marks the job as successfully finished.
func (j *Job) complete(outputPath string, at time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot complete job %s: status is %s", j.ID, j.Status)
	}
	marker := j.Kind.Flag()
	code := 0
	j.Status = StatusCompleted
	j.OutputMessage = &marker
	j.ExitCode = &code
	j.OutputPath = outputPath
	j.FinishedAt = &at
	return nil
}

// fail marks the job as failed. A nil exit code means the process never
// reported one (killed, or output could not be read).
func (j *Job) fail(reason string, exitCode *int, at time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot fail job %s: status is %s", j.ID, j.Status)
	}
	j.Status = StatusFailed
	if reason != "" {
		j.ErrorMessage = &reason
	}
	j.ExitCode = exitCode
	j.FinishedAt = &at
	return nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
