package api

import (
	"time"

	"stylizer/internal/deps"
	"stylizer/internal/preflight"
	"stylizer/internal/transfer"
)

// FromJob converts a transfer job to its API representation. now bounds the
// duration of jobs that are still running.
func FromJob(job transfer.Job, now time.Time) Job {
	dto := Job{
		ID:            job.ID,
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		Subject:       job.Subject,
		Style:         job.Style,
		OutputMessage: job.OutputMessage,
		ErrorMessage:  job.ErrorMessage,
		ExitCode:      job.ExitCode,
		OutputPath:    job.OutputPath,
		Argv:          job.Argv,
	}
	if !job.StartedAt.IsZero() {
		dto.StartedAt = job.StartedAt.UTC().Format(dateTimeFormat)
		dto.DurationSeconds = job.Duration(now).Seconds()
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = job.FinishedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of jobs, preserving order.
func FromJobs(jobs []transfer.Job, now time.Time) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job, now))
	}
	return out
}

// LegacyStatus renders the GET /transfer payload for the latest job. The
// returned error text is non-nil only once the job has failed.
func LegacyStatus(job transfer.Job, ok bool) (TransferStatus, *string) {
	if !ok {
		return TransferStatus{}, nil
	}
	status := TransferStatus{Status: job.Marker()}
	if msg := job.FailureMessage(); job.Status == transfer.StatusFailed && msg != "" {
		return status, &msg
	}
	return status, nil
}

// NewTransferAck acknowledges a started job on the legacy endpoint.
func NewTransferAck(job transfer.Job) TransferAck {
	return TransferAck{Message: ScriptRunningMessage, JobID: job.ID}
}

// FromDependencies converts dependency check results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckStatus {
	out := make([]CheckStatus, len(results))
	for i, res := range results {
		out[i] = CheckStatus{Name: res.Name, Passed: res.Passed, Detail: res.Detail}
	}
	return out
}
