package jobstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"stylizer/internal/transfer"
)

const jobColumns = "id, job_key, kind, status, subject, style, argv_json, output_message, error_message, exit_code, output_path, started_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*transfer.Job, error) {
	var (
		id            string
		key           string
		kind          string
		status        string
		subject       string
		style         string
		argvJSON      sql.NullString
		outputMessage sql.NullString
		errorMessage  sql.NullString
		exitCode      sql.NullInt64
		outputPath    sql.NullString
		startedRaw    string
		finishedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&key,
		&kind,
		&status,
		&subject,
		&style,
		&argvJSON,
		&outputMessage,
		&errorMessage,
		&exitCode,
		&outputPath,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job := &transfer.Job{
		ID:            id,
		Key:           key,
		Kind:          transfer.Kind(kind),
		Status:        transfer.Status(status),
		Subject:       subject,
		Style:         style,
		OutputMessage: nullStringPtr(outputMessage),
		ErrorMessage:  nullStringPtr(errorMessage),
		OutputPath:    outputPath.String,
	}
	if argvJSON.Valid && argvJSON.String != "" {
		if err := json.Unmarshal([]byte(argvJSON.String), &job.Argv); err != nil {
			return nil, err
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		job.ExitCode = &code
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		job.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
