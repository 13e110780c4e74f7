package repository

import (
	"fmt"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
)

const (
	fieldStatus         = "status"
	fieldOriginalName   = "original_name"
	fieldCreatedAt      = "created_at"
	fieldCompletedAt    = "completed_at"
	fieldResultURL      = "result_url"
	fieldResultPublicID = "result_public_id"
	fieldError          = "error"
)

// stateFields flattens a job state into the hash fields written together.
func stateFields(state domain.JobState) map[string]string {
	fields := map[string]string{fieldStatus: string(state.Status())}
	switch typed := state.(type) {
	case domain.Completed:
		fields[fieldResultURL] = typed.Result.URL
		fields[fieldResultPublicID] = typed.Result.PublicID
		fields[fieldCompletedAt] = typed.CompletedAt.UTC().Format(time.RFC3339Nano)
	case domain.Failed:
		fields[fieldError] = typed.Cause
		fields[fieldCompletedAt] = typed.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func jobFields(job *domain.Job) map[string]string {
	fields := stateFields(job.State)
	fields[fieldOriginalName] = job.OriginalName
	fields[fieldCreatedAt] = job.CreatedAt.UTC().Format(time.RFC3339Nano)
	return fields
}

func decodeJob(jobID string, fields map[string]string) (*domain.Job, error) {
	status := domain.JobStatus(fields[fieldStatus])
	if !status.Valid() {
		return nil, fmt.Errorf("job %s has invalid status %q", jobID, status)
	}

	createdAt, err := parseTime(fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", jobID, err)
	}
	completedAt, err := parseTime(fields[fieldCompletedAt])
	if err != nil {
		return nil, fmt.Errorf("job %s completed_at: %w", jobID, err)
	}

	job := &domain.Job{
		ID:           jobID,
		OriginalName: fields[fieldOriginalName],
		CreatedAt:    createdAt,
	}
	job.State = buildState(status, domain.UploadResult{
		URL:      fields[fieldResultURL],
		PublicID: fields[fieldResultPublicID],
	}, fields[fieldError], completedAt)
	return job, nil
}

func buildState(status domain.JobStatus, result domain.UploadResult, cause string, completedAt time.Time) domain.JobState {
	switch status {
	case domain.JobStatusProcessing:
		return domain.Processing{}
	case domain.JobStatusUploading:
		return domain.Uploading{}
	case domain.JobStatusCompleted:
		return domain.Completed{Result: result, CompletedAt: completedAt}
	case domain.JobStatusFailed:
		return domain.Failed{Cause: cause, CompletedAt: completedAt}
	default:
		return domain.Queued{}
	}
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func flatten(fields map[string]string) []any {
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return args
}
