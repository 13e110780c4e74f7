package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanAdvanceTo reports whether next is a legal successor of s.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusUploading || next == JobStatusFailed
	case JobStatusUploading:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusUploading, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// UploadResult identifies an asset stored on the remote media host.
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// JobState is the status-tagged part of a job. Only the terminal variants
// carry a payload, so a result can never coexist with an error.
type JobState interface {
	Status() JobStatus
}

type Queued struct{}

type Processing struct{}

type Uploading struct{}

type Completed struct {
	Result      UploadResult
	CompletedAt time.Time
}

type Failed struct {
	Cause       string
	CompletedAt time.Time
}

func (Queued) Status() JobStatus     { return JobStatusQueued }
func (Processing) Status() JobStatus { return JobStatusProcessing }
func (Uploading) Status() JobStatus  { return JobStatusUploading }
func (Completed) Status() JobStatus  { return JobStatusCompleted }
func (Failed) Status() JobStatus     { return JobStatusFailed }

// Job is the asynchronous video unit tracked by the job store.
type Job struct {
	ID           string
	OriginalName string
	CreatedAt    time.Time
	State        JobState
}

func (j *Job) Status() JobStatus {
	if j == nil || j.State == nil {
		return ""
	}
	return j.State.Status()
}

// Result returns the upload result when the job completed.
func (j *Job) Result() (UploadResult, bool) {
	completed, ok := j.State.(Completed)
	if !ok {
		return UploadResult{}, false
	}
	return completed.Result, true
}

// Failure returns the recorded cause when the job failed.
func (j *Job) Failure() (string, bool) {
	failed, ok := j.State.(Failed)
	if !ok {
		return "", false
	}
	return failed.Cause, true
}

// CompletedAt is zero until the job reaches a terminal state.
func (j *Job) CompletedAt() time.Time {
	switch state := j.State.(type) {
	case Completed:
		return state.CompletedAt
	case Failed:
		return state.CompletedAt
	default:
		return time.Time{}
	}
}

// ValidateTransition returns ErrInvalidTransition when next may not follow current.
func ValidateTransition(current JobStatus, next JobState) error {
	if next == nil || !current.CanAdvanceTo(next.Status()) {
		target := JobStatus("")
		if next != nil {
			target = next.Status()
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return nil
}

// WorkItem is the transient queue message routing a job to a worker.
// It is never persisted; the job store holds the durable record.
type WorkItem struct {
	JobID        string    `json:"job_id"`
	SourcePath   string    `json:"source_path"`
	OriginalName string    `json:"original_name"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
